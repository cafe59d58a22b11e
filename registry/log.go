package registry

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `registry` package:
// Info:
//     events for abnormal behavior. This level should be silent on normal operation.
//     this includes:
//     - failed watch, unwatch, and dir calls
//     - relay connect and auth errors
// Error:
//     unexpected panics even if handled and suppressed for partial operation
// V(1):
//     key lifecycle events with ids that can be used to filter
//     - watch and unwatch issued, session established, activity start and stop
// V(2):
//     frequent events - frames, pings, notifications

type LogFunction func(string, ...any)

// tags every line with the activity place and watch id
func LogFn(tag string) LogFunction {
	return func(format string, a ...any) {
		m := fmt.Sprintf(format, a...)
		glog.InfoDepth(1, fmt.Sprintf("%s: %s", tag, m))
	}
}

func VLogFn(level glog.Level, tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(level) {
			m := fmt.Sprintf(format, a...)
			glog.InfoDepth(1, fmt.Sprintf("%s: %s", tag, m))
		}
	}
}
