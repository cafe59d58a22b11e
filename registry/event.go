package registry

import (
	"fmt"
)

type EventKind int

const (
	// the client connected to the relay and has a session
	RelayConnectEvent EventKind = iota
	RelayDisconnectEvent
	// the relay connected to the upstream registry
	UpstreamConnectEvent
	UpstreamDisconnectEvent
)

func (self EventKind) String() string {
	switch self {
	case RelayConnectEvent:
		return "relay_connect"
	case RelayDisconnectEvent:
		return "relay_disconnect"
	case UpstreamConnectEvent:
		return "upstream_connect"
	case UpstreamDisconnectEvent:
		return "upstream_disconnect"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}

type EventFunction func(kind EventKind)

type ChangeFunction func(change *RegistryChange)

// EventSource delivers the connectivity signals and the change notifications.
// Each registration returns a subscription that must be detached when the handler is no longer needed.
type EventSource interface {
	AddEventHandler(kind EventKind, handler EventFunction) *Subscription
	AddChangeHandler(watchId WatchId, handler ChangeFunction) *Subscription
}

type changeHandler struct {
	watchId WatchId
	handler ChangeFunction
}

// EventBus fans out events to handlers.
// Handlers run on the goroutine that fires the event.
// A panic in a handler is logged and does not stop the other handlers.
type EventBus struct {
	eventHandlers  map[EventKind]*CallbackList[EventFunction]
	changeHandlers *CallbackList[*changeHandler]
}

func NewEventBus() *EventBus {
	eventHandlers := map[EventKind]*CallbackList[EventFunction]{}
	for _, kind := range []EventKind{
		RelayConnectEvent,
		RelayDisconnectEvent,
		UpstreamConnectEvent,
		UpstreamDisconnectEvent,
	} {
		eventHandlers[kind] = NewCallbackList[EventFunction]()
	}
	return &EventBus{
		eventHandlers:  eventHandlers,
		changeHandlers: NewCallbackList[*changeHandler](),
	}
}

func (self *EventBus) AddEventHandler(kind EventKind, handler EventFunction) *Subscription {
	handlers, ok := self.eventHandlers[kind]
	if !ok {
		panic(fmt.Errorf("Unknown event kind: %s", kind))
	}
	callbackId := handlers.Add(handler)
	return NewSubscription(func() {
		handlers.Remove(callbackId)
	})
}

func (self *EventBus) AddChangeHandler(watchId WatchId, handler ChangeFunction) *Subscription {
	callbackId := self.changeHandlers.Add(&changeHandler{
		watchId: watchId,
		handler: handler,
	})
	return NewSubscription(func() {
		self.changeHandlers.Remove(callbackId)
	})
}

func (self *EventBus) Fire(kind EventKind) {
	handlers, ok := self.eventHandlers[kind]
	if !ok {
		return
	}
	for _, handler := range handlers.Get() {
		HandleError(func() {
			handler(kind)
		})
	}
}

// delivers the change only to handlers registered for `change.WatchId`
func (self *EventBus) FireChange(change *RegistryChange) {
	for _, changeHandler := range self.changeHandlers.Get() {
		if changeHandler.watchId != change.WatchId {
			continue
		}
		HandleError(func() {
			changeHandler.handler(change)
		})
	}
}

func (self *EventBus) HandlerCount(kind EventKind) int {
	if handlers, ok := self.eventHandlers[kind]; ok {
		return handlers.Len()
	}
	return 0
}

func (self *EventBus) ChangeHandlerCount() int {
	return self.changeHandlers.Len()
}
