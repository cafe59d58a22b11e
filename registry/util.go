package registry

import (
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// makes a copy of the list on update
// callbacks are identified by the id returned from `Add`, since funcs are not comparable
type CallbackList[T any] struct {
	mutex          sync.Mutex
	nextCallbackId int
	callbackIds    []int
	callbacks      []T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{}
}

// the returned slice must not be modified
func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.callbacks
}

func (self *CallbackList[T]) Add(callback T) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1

	nextCallbackIds := slices.Clone(self.callbackIds)
	nextCallbackIds = append(nextCallbackIds, callbackId)
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = append(nextCallbacks, callback)
	self.callbackIds = nextCallbackIds
	self.callbacks = nextCallbacks
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.Index(self.callbackIds, callbackId)
	if i < 0 {
		// not present
		return
	}
	nextCallbackIds := slices.Clone(self.callbackIds)
	nextCallbackIds = slices.Delete(nextCallbackIds, i, i+1)
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = slices.Delete(nextCallbacks, i, i+1)
	self.callbackIds = nextCallbackIds
	self.callbacks = nextCallbacks
}

func (self *CallbackList[T]) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.callbacks)
}

// A Subscription detaches a registered handler.
// `Detach` runs the detach function at most once, so it is safe to call from every teardown path.
type Subscription struct {
	once   sync.Once
	detach func()
}

func NewSubscription(detach func()) *Subscription {
	return &Subscription{
		detach: detach,
	}
}

func (self *Subscription) Detach() {
	self.once.Do(self.detach)
}

// reconnect waits at least `timeout` since the last connect attempt
type Reconnect struct {
	timeout     time.Duration
	connectTime time.Time
}

func NewReconnect(timeout time.Duration) *Reconnect {
	return &Reconnect{
		timeout:     timeout,
		connectTime: time.Now(),
	}
}

func (self *Reconnect) After() <-chan time.Time {
	wait := self.timeout - time.Since(self.connectTime)
	if wait <= 0 {
		c := make(chan time.Time, 1)
		c <- time.Now()
		return c
	}
	return time.After(wait)
}
