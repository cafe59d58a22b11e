package registry

import (
	"fmt"
	"sync"
)

type WatchState int

const (
	// no connectivity signal has been handled yet
	WatchStateIdle WatchState = iota
	// a watch was issued and not yet followed by an unwatch
	WatchStateWatched
	WatchStateUnwatched
)

func (self WatchState) String() string {
	switch self {
	case WatchStateIdle:
		return "idle"
	case WatchStateWatched:
		return "watched"
	case WatchStateUnwatched:
		return "unwatched"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}

// RegistryView renders the outcome of an activity.
type RegistryView interface {
	ShowListing(path Path, listing *RegistryListing)
	// the directory could not be read, e.g. the registry is disconnected
	ShowError(path Path, err error)
	ShowChange(change *RegistryChange)
}

type Redirector interface {
	// re-evaluate and redisplay `place` if it is still the current place
	Reload(place *RegistryPlace)
}

type PlaceGoer interface {
	GoTo(place *RegistryPlace)
}

// RegistryActivity keeps one registry directory watched while the view is shown.
//
// Watch and unwatch are issued as commands and never wait for acknowledgement:
//   - relay connect and upstream connect issue a watch
//   - relay disconnect issues an unwatch and reloads the place
//   - upstream disconnect reloads the place
//   - stop and cancel detach all handlers and issue a final unwatch
//
// A failed call is logged and corrected by the next connectivity event.
// All handlers are serialized on `stateLock`. After teardown no watch is issued with this watch id.
type RegistryActivity struct {
	place           *RegistryPlace
	eventSource     EventSource
	sessionSource   SessionSource
	registryService RegistryService
	redirector      Redirector
	placeGoer       PlaceGoer

	watchId WatchId

	log  LogFunction
	vlog LogFunction

	stateLock     sync.Mutex
	started       bool
	stopped       bool
	watchState    WatchState
	subscriptions []*Subscription
}

func NewRegistryActivity(
	place *RegistryPlace,
	eventSource EventSource,
	sessionSource SessionSource,
	registryService RegistryService,
	redirector Redirector,
	placeGoer PlaceGoer,
) *RegistryActivity {
	watchId := NewId()
	tag := fmt.Sprintf("[a]%s %s", place.PathString(), watchId)
	return &RegistryActivity{
		place:           place,
		eventSource:     eventSource,
		sessionSource:   sessionSource,
		registryService: registryService,
		redirector:      redirector,
		placeGoer:       placeGoer,
		watchId:         watchId,
		log:             LogFn(tag),
		vlog:            VLogFn(1, tag),
		watchState:      WatchStateIdle,
	}
}

func (self *RegistryActivity) Place() *RegistryPlace {
	return self.place
}

func (self *RegistryActivity) WatchId() WatchId {
	return self.watchId
}

func (self *RegistryActivity) WatchState() WatchState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.watchState
}

func (self *RegistryActivity) IsStopped() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.stopped
}

// Start wires the connectivity handlers and fetches the directory into `view`.
// Returns immediately. Starting a stopped or already started activity has no effect.
func (self *RegistryActivity) Start(view RegistryView) {
	if !self.wire(view) {
		return
	}

	path := self.place.Path()
	self.registryService.Dir(path, NewApiCallback(func(listing *RegistryListing, err error) {
		if self.IsStopped() {
			self.vlog("dir result dropped after stop")
			return
		}
		if err != nil {
			self.log("dir failed. error=%s", err)
			view.ShowError(path, err)
			return
		}
		view.ShowListing(path, listing)
	}))
}

func (self *RegistryActivity) wire(view RegistryView) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.started || self.stopped {
		self.vlog("start ignored (started=%t, stopped=%t)", self.started, self.stopped)
		return false
	}
	self.started = true

	self.subscriptions = append(
		self.subscriptions,
		self.eventSource.AddEventHandler(RelayConnectEvent, self.onRelayConnect),
		self.eventSource.AddEventHandler(RelayDisconnectEvent, self.onRelayDisconnect),
		self.eventSource.AddEventHandler(UpstreamConnectEvent, self.onUpstreamConnect),
		self.eventSource.AddEventHandler(UpstreamDisconnectEvent, self.onUpstreamDisconnect),
		self.eventSource.AddChangeHandler(self.watchId, func(change *RegistryChange) {
			self.onChange(view, change)
		}),
	)

	// the relay and upstream may already be connected, in which case no connect event will come
	// with the upstream down the watch waits for the next upstream connect
	if self.sessionSource.IsConnected() && self.sessionSource.IsUpstreamConnected() {
		self.vlog("registry already connected. watching registry path")
		self.watch()
	}
	return true
}

func (self *RegistryActivity) GoTo(place *RegistryPlace) {
	self.placeGoer.GoTo(place)
}

// the activity was stopped after it was shown, e.g. the user navigated away
func (self *RegistryActivity) OnStop() {
	self.teardown("stop")
}

// the activity was cancelled before it was shown
func (self *RegistryActivity) OnCancel() {
	self.teardown("cancel")
}

func (self *RegistryActivity) teardown(reason string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.stopped {
		return
	}
	self.stopped = true

	if !self.started {
		self.vlog("%s before start", reason)
		return
	}

	for _, subscription := range self.subscriptions {
		subscription.Detach()
	}
	self.subscriptions = nil

	self.vlog("%s. unwatching registry path", reason)
	self.unwatch()
}

func (self *RegistryActivity) onRelayConnect(kind EventKind) {
	self.handle(func() {
		self.vlog("remote event bus connected. watching registry path")
		self.watch()
	})
}

func (self *RegistryActivity) onRelayDisconnect(kind EventKind) {
	if !self.handle(func() {
		self.vlog("remote event bus disconnected. unwatching registry path")
		self.unwatch()
	}) {
		return
	}
	self.redirector.Reload(self.place)
}

// the relay reconnected upstream, which drops the watches the upstream held
func (self *RegistryActivity) onUpstreamConnect(kind EventKind) {
	self.handle(func() {
		self.vlog("connected to registry. watching registry path")
		self.watch()
	})
}

// nothing to unwatch, the upstream is gone
func (self *RegistryActivity) onUpstreamDisconnect(kind EventKind) {
	if !self.handle(func() {
		self.vlog("disconnected from registry. no longer watching registry path")
	}) {
		return
	}
	self.redirector.Reload(self.place)
}

func (self *RegistryActivity) onChange(view RegistryView, change *RegistryChange) {
	if self.IsStopped() {
		return
	}
	view.ShowChange(change)
}

// runs `do` under the state lock if the activity is not stopped
// the redirect must happen after the lock is released, since a reload stops this activity
func (self *RegistryActivity) handle(do func()) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.stopped {
		return false
	}
	do()
	return true
}

// must be called with `stateLock`
func (self *RegistryActivity) watch() {
	sessionId := self.sessionSource.Id()
	self.watchState = WatchStateWatched
	self.registryService.WatchRegistryPath(
		&Watch{
			Id:      sessionId,
			WatchId: self.watchId,
			Path:    self.place.PathString(),
		},
		NewApiCallback(func(result string, err error) {
			if err != nil {
				self.log("watchRegistryPath failed. session=%s, error=%s", sessionId, err)
				return
			}
			self.vlog("watchRegistryPath. session=%s", sessionId)
		}),
	)
}

// must be called with `stateLock`
func (self *RegistryActivity) unwatch() {
	sessionId := self.sessionSource.Id()
	self.watchState = WatchStateUnwatched
	self.registryService.UnwatchRegistryPath(
		&Unwatch{
			Id:      sessionId,
			WatchId: self.watchId,
		},
		NewApiCallback(func(result string, err error) {
			if err != nil {
				self.log("unwatchRegistryPath failed. session=%s, error=%s", sessionId, err)
				return
			}
			self.vlog("unwatchRegistryPath. session=%s", sessionId)
		}),
	)
}
