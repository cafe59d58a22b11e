package registry

import (
	"sync"
)

// RegistryPlace is a navigable location in the registry browser.
type RegistryPlace struct {
	path Path
}

func NewRegistryPlace(path Path) *RegistryPlace {
	return &RegistryPlace{
		path: path,
	}
}

func (self *RegistryPlace) Path() Path {
	return self.path
}

func (self *RegistryPlace) PathString() string {
	return self.path.String()
}

func (self *RegistryPlace) Equal(other *RegistryPlace) bool {
	if self == nil || other == nil {
		return self == other
	}
	return self.path.Equal(other.path)
}

func (self *RegistryPlace) String() string {
	return self.path.String()
}

type PlaceChangeFunction func(place *RegistryPlace)

// PlaceController holds the current place and announces every change.
// Going to the current place announces it again.
type PlaceController struct {
	stateLock sync.Mutex
	place     *RegistryPlace

	placeChangeCallbacks *CallbackList[PlaceChangeFunction]
}

func NewPlaceController(place *RegistryPlace) *PlaceController {
	return &PlaceController{
		place:                place,
		placeChangeCallbacks: NewCallbackList[PlaceChangeFunction](),
	}
}

func (self *PlaceController) Where() *RegistryPlace {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.place
}

func (self *PlaceController) GoTo(place *RegistryPlace) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.place = place
	}()
	self.announce(place)
}

func (self *PlaceController) AddPlaceChangeCallback(placeChangeCallback PlaceChangeFunction) *Subscription {
	callbackId := self.placeChangeCallbacks.Add(placeChangeCallback)
	return NewSubscription(func() {
		self.placeChangeCallbacks.Remove(callbackId)
	})
}

func (self *PlaceController) announce(place *RegistryPlace) {
	for _, placeChangeCallback := range self.placeChangeCallbacks.Get() {
		HandleError(func() {
			placeChangeCallback(place)
		})
	}
}

// PlaceRedirector reloads a place by announcing it again, if it is still current.
// A reload for a place the user already left is dropped.
type PlaceRedirector struct {
	placeController *PlaceController
}

func NewPlaceRedirector(placeController *PlaceController) *PlaceRedirector {
	return &PlaceRedirector{
		placeController: placeController,
	}
}

func (self *PlaceRedirector) Reload(place *RegistryPlace) {
	current := self.placeController.Where()
	if !current.Equal(place) {
		return
	}
	self.placeController.announce(current)
}

type ActivityFactory func(place *RegistryPlace) *RegistryActivity

// ActivityManager runs one activity at a time for the current place.
// Each place change stops the current activity and starts a new one,
// so every (re)display gets a fresh watch id.
type ActivityManager struct {
	placeController *PlaceController
	activityFactory ActivityFactory
	view            RegistryView

	stateLock    sync.Mutex
	current      *RegistryActivity
	closed       bool
	subscription *Subscription
}

func NewActivityManager(
	placeController *PlaceController,
	activityFactory ActivityFactory,
	view RegistryView,
) *ActivityManager {
	activityManager := &ActivityManager{
		placeController: placeController,
		activityFactory: activityFactory,
		view:            view,
	}
	activityManager.subscription = placeController.AddPlaceChangeCallback(activityManager.onPlaceChange)
	return activityManager
}

// starts an activity for the current place
func (self *ActivityManager) Start() {
	if place := self.placeController.Where(); place != nil {
		self.onPlaceChange(place)
	}
}

func (self *ActivityManager) Current() *RegistryActivity {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.current
}

func (self *ActivityManager) onPlaceChange(place *RegistryPlace) {
	next := self.activityFactory(place)

	var previous *RegistryActivity
	closed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.closed {
			closed = true
			return
		}
		previous = self.current
		self.current = next
	}()
	if closed {
		next.OnCancel()
		return
	}

	// the lock is not held here since stopping and starting call out to the view and the services
	if previous != nil {
		previous.OnStop()
	}
	next.Start(self.view)
}

func (self *ActivityManager) Close() {
	self.subscription.Detach()

	var current *RegistryActivity
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.closed = true
		current = self.current
		self.current = nil
	}()
	if current != nil {
		current.OnStop()
	}
}
