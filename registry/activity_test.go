package registry

import (
	"errors"
	mathrand "math/rand"
	"runtime"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/google/go-cmp/cmp"
)

type registryCall struct {
	Op        string
	SessionId SessionId
	WatchId   WatchId
	Path      string
}

// records calls and completes them synchronously
type testRegistryService struct {
	stateLock sync.Mutex
	calls     []registryCall
	dirs      []Path

	watchErr error
	dirErr   error
	listing  *RegistryListing
}

func (self *testRegistryService) WatchRegistryPath(watch *Watch, callback WatchCallback) {
	var err error
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.calls = append(self.calls, registryCall{
			Op:        "watch",
			SessionId: watch.Id,
			WatchId:   watch.WatchId,
			Path:      watch.Path,
		})
		err = self.watchErr
	}()
	if err != nil {
		callback.Result("", err)
	} else {
		callback.Result("ok", nil)
	}
}

func (self *testRegistryService) UnwatchRegistryPath(unwatch *Unwatch, callback UnwatchCallback) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.calls = append(self.calls, registryCall{
			Op:        "unwatch",
			SessionId: unwatch.Id,
			WatchId:   unwatch.WatchId,
		})
	}()
	callback.Result("ok", nil)
}

func (self *testRegistryService) Dir(path Path, callback DirCallback) {
	var listing *RegistryListing
	var err error
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.dirs = append(self.dirs, path)
		listing = self.listing
		err = self.dirErr
	}()
	if err != nil {
		callback.Result(nil, err)
		return
	}
	if listing == nil {
		listing = &RegistryListing{Path: path}
	}
	callback.Result(listing, nil)
}

func (self *testRegistryService) Calls() []registryCall {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return append([]registryCall{}, self.calls...)
}

func (self *testRegistryService) Ops() []string {
	ops := []string{}
	for _, call := range self.Calls() {
		ops = append(ops, call.Op)
	}
	return ops
}

func (self *testRegistryService) DirCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.dirs)
}

type testSessionSource struct {
	stateLock         sync.Mutex
	sessionId         SessionId
	connected         bool
	upstreamConnected bool
}

func (self *testSessionSource) Id() SessionId {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.sessionId
}

func (self *testSessionSource) IsConnected() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.connected
}

func (self *testSessionSource) IsUpstreamConnected() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.upstreamConnected
}

func (self *testSessionSource) SetId(sessionId SessionId) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.sessionId = sessionId
}

func (self *testSessionSource) set(update func()) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	update()
}

// a relay that changes the session and fires the matching event in the same order as `RemoteEventBus`
type testRelay struct {
	eventBus *EventBus
	session  *testSessionSource
}

func newTestRelay() *testRelay {
	return &testRelay{
		eventBus: NewEventBus(),
		session:  &testSessionSource{},
	}
}

func (self *testRelay) Signal(kind EventKind) {
	session := self.session
	switch kind {
	case RelayConnectEvent:
		session.set(func() {
			session.sessionId = NewId()
			session.connected = true
		})
		self.eventBus.Fire(kind)
	case RelayDisconnectEvent:
		session.set(func() {
			session.connected = false
			session.upstreamConnected = false
		})
		self.eventBus.Fire(kind)
		// the ending session stays readable to the disconnect handlers
		session.set(func() {
			session.sessionId = Id{}
		})
	case UpstreamConnectEvent:
		session.set(func() {
			session.upstreamConnected = true
		})
		self.eventBus.Fire(kind)
	case UpstreamDisconnectEvent:
		session.set(func() {
			session.upstreamConnected = false
		})
		self.eventBus.Fire(kind)
	}
}

type testRedirector struct {
	stateLock sync.Mutex
	reloads   []*RegistryPlace
}

func (self *testRedirector) Reload(place *RegistryPlace) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.reloads = append(self.reloads, place)
}

func (self *testRedirector) ReloadCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.reloads)
}

type testPlaceGoer struct {
	places []*RegistryPlace
}

func (self *testPlaceGoer) GoTo(place *RegistryPlace) {
	self.places = append(self.places, place)
}

type testView struct {
	stateLock sync.Mutex
	listings  []*RegistryListing
	errs      []error
	changes   []*RegistryChange
}

func (self *testView) ShowListing(path Path, listing *RegistryListing) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.listings = append(self.listings, listing)
}

func (self *testView) ShowError(path Path, err error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.errs = append(self.errs, err)
}

func (self *testView) ShowChange(change *RegistryChange) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.changes = append(self.changes, change)
}

func (self *testView) Counts() (listings int, errs int, changes int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.listings), len(self.errs), len(self.changes)
}

type activityTest struct {
	relay      *testRelay
	service    *testRegistryService
	redirector *testRedirector
	placeGoer  *testPlaceGoer
	view       *testView
}

func newActivityTest() *activityTest {
	return &activityTest{
		relay:      newTestRelay(),
		service:    &testRegistryService{},
		redirector: &testRedirector{},
		placeGoer:  &testPlaceGoer{},
		view:       &testView{},
	}
}

func (self *activityTest) newActivity(path Path) *RegistryActivity {
	return NewRegistryActivity(
		NewRegistryPlace(path),
		self.relay.eventBus,
		self.relay.session,
		self.service,
		self.redirector,
		self.placeGoer,
	)
}

func (self *activityTest) handlerCount() int {
	eventBus := self.relay.eventBus
	return eventBus.HandlerCount(RelayConnectEvent) +
		eventBus.HandlerCount(RelayDisconnectEvent) +
		eventBus.HandlerCount(UpstreamConnectEvent) +
		eventBus.HandlerCount(UpstreamDisconnectEvent) +
		eventBus.ChangeHandlerCount()
}

func TestActivityConnectDisconnect(t *testing.T) {
	test := newActivityTest()
	activity := test.newActivity(NewPath("Servers", "ADR"))
	activity.Start(test.view)
	assert.Equal(t, activity.WatchState(), WatchStateIdle)

	test.relay.Signal(RelayConnectEvent)
	sessionId := test.relay.session.Id()
	assert.Equal(t, activity.WatchState(), WatchStateWatched)
	test.relay.Signal(RelayDisconnectEvent)
	assert.Equal(t, activity.WatchState(), WatchStateUnwatched)

	calls := test.service.Calls()
	assert.Equal(t, test.service.Ops(), []string{"watch", "unwatch"})
	assert.Equal(t, calls[0].WatchId, activity.WatchId())
	assert.Equal(t, calls[1].WatchId, activity.WatchId())
	assert.Equal(t, calls[0].SessionId, sessionId)
	// the unwatch goes to the session that held the watch
	assert.Equal(t, calls[1].SessionId, sessionId)
	assert.Equal(t, calls[0].Path, "/Servers/ADR")
	assert.Equal(t, test.redirector.ReloadCount(), 1)
	assert.Equal(t, test.redirector.reloads[0].Equal(activity.Place()), true)
}

func TestActivityUpstreamDisconnectNoUnwatch(t *testing.T) {
	test := newActivityTest()
	activity := test.newActivity(NewPath("a"))
	activity.Start(test.view)

	test.relay.Signal(RelayConnectEvent)
	test.relay.Signal(UpstreamDisconnectEvent)
	test.relay.Signal(UpstreamDisconnectEvent)

	assert.Equal(t, test.service.Ops(), []string{"watch"})
	assert.Equal(t, test.redirector.ReloadCount(), 2)
}

func TestActivitySignalSequence(t *testing.T) {
	test := newActivityTest()
	activity := test.newActivity(NewPath("a"))
	activity.Start(test.view)

	for _, kind := range []EventKind{
		UpstreamConnectEvent,
		RelayConnectEvent,
		RelayDisconnectEvent,
		UpstreamConnectEvent,
	} {
		test.relay.Signal(kind)
	}

	if diff := cmp.Diff([]string{"watch", "watch", "unwatch", "watch"}, test.service.Ops()); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
	for _, call := range test.service.Calls() {
		assert.Equal(t, call.WatchId, activity.WatchId())
	}
}

func TestActivitySessionReadAtIssue(t *testing.T) {
	test := newActivityTest()
	activity := test.newActivity(NewPath("a"))
	activity.Start(test.view)

	test.relay.Signal(RelayConnectEvent)
	a := test.relay.session.Id()
	test.relay.session.SetId(NewId())
	b := test.relay.session.Id()
	test.relay.Signal(UpstreamConnectEvent)

	calls := test.service.Calls()
	assert.Equal(t, len(calls), 2)
	assert.Equal(t, calls[0].SessionId, a)
	assert.Equal(t, calls[1].SessionId, b)
}

func TestActivityTeardownUnwatchOnce(t *testing.T) {
	kinds := []EventKind{
		RelayConnectEvent,
		RelayDisconnectEvent,
		UpstreamConnectEvent,
		UpstreamDisconnectEvent,
	}
	r := mathrand.New(mathrand.NewSource(0))

	for i := 0; i < 64; i += 1 {
		test := newActivityTest()
		activity := test.newActivity(NewPath("a", "b"))
		activity.Start(test.view)

		n := r.Intn(16)
		for j := 0; j < n; j += 1 {
			test.relay.Signal(kinds[r.Intn(len(kinds))])
		}
		before := len(test.service.Calls())

		if r.Intn(2) == 0 {
			activity.OnStop()
		} else {
			activity.OnCancel()
		}
		activity.OnStop()
		activity.OnCancel()

		for j := 0; j < 8; j += 1 {
			test.relay.Signal(kinds[r.Intn(len(kinds))])
		}

		after := test.service.Calls()[before:]
		assert.Equal(t, len(after), 1)
		assert.Equal(t, after[0].Op, "unwatch")
		assert.Equal(t, after[0].WatchId, activity.WatchId())
		assert.Equal(t, test.handlerCount(), 0)
		assert.Equal(t, activity.IsStopped(), true)
	}
}

func TestActivityTeardownWithoutWatch(t *testing.T) {
	// unwatch is issued on teardown even if no watch was ever issued
	test := newActivityTest()
	activity := test.newActivity(NewPath("a"))
	activity.Start(test.view)
	activity.OnCancel()

	assert.Equal(t, test.service.Ops(), []string{"unwatch"})
}

func TestActivityStopBeforeStart(t *testing.T) {
	test := newActivityTest()
	activity := test.newActivity(NewPath("a"))

	activity.OnStop()
	activity.OnCancel()
	activity.Start(test.view)
	test.relay.Signal(RelayConnectEvent)

	assert.Equal(t, len(test.service.Calls()), 0)
	assert.Equal(t, test.service.DirCount(), 0)
	assert.Equal(t, test.handlerCount(), 0)
}

func TestActivityStartTwice(t *testing.T) {
	test := newActivityTest()
	activity := test.newActivity(NewPath("a"))

	activity.Start(test.view)
	activity.Start(test.view)
	test.relay.Signal(RelayConnectEvent)

	assert.Equal(t, test.service.DirCount(), 1)
	assert.Equal(t, test.service.Ops(), []string{"watch"})
}

func TestActivityDirListing(t *testing.T) {
	test := newActivityTest()
	test.service.listing = &RegistryListing{
		Path: NewPath("a"),
		Keys: []string{"k"},
		Vals: []string{"v"},
	}
	activity := test.newActivity(NewPath("a"))
	activity.Start(test.view)

	listings, errs, _ := test.view.Counts()
	assert.Equal(t, listings, 1)
	assert.Equal(t, errs, 0)
	assert.Equal(t, test.view.listings[0], test.service.listing)
}

func TestActivityDirError(t *testing.T) {
	test := newActivityTest()
	dirErr := errors.New("not connected")
	test.service.dirErr = dirErr
	activity := test.newActivity(NewPath("a"))
	activity.Start(test.view)

	listings, errs, _ := test.view.Counts()
	assert.Equal(t, listings, 0)
	assert.Equal(t, errs, 1)
	assert.Equal(t, test.view.errs[0], dirErr)
	assert.Equal(t, len(test.service.Calls()), 0)
}

func TestActivityWatchFailureRetriedOnConnect(t *testing.T) {
	test := newActivityTest()
	test.service.watchErr = errors.New("permission denied")
	activity := test.newActivity(NewPath("a"))
	activity.Start(test.view)

	test.relay.Signal(RelayConnectEvent)
	// the failure does not roll back the state
	assert.Equal(t, activity.WatchState(), WatchStateWatched)
	test.relay.Signal(UpstreamConnectEvent)

	assert.Equal(t, test.service.Ops(), []string{"watch", "watch"})
}

func TestActivityAlreadyConnected(t *testing.T) {
	test := newActivityTest()
	test.relay.Signal(RelayConnectEvent)
	test.relay.Signal(UpstreamConnectEvent)

	activity := test.newActivity(NewPath("a"))
	activity.Start(test.view)

	calls := test.service.Calls()
	assert.Equal(t, len(calls), 1)
	assert.Equal(t, calls[0].Op, "watch")
	assert.Equal(t, calls[0].SessionId, test.relay.session.Id())
}

func TestActivityUpstreamDownAtStart(t *testing.T) {
	test := newActivityTest()
	test.relay.Signal(RelayConnectEvent)
	test.relay.Signal(UpstreamConnectEvent)
	test.relay.Signal(UpstreamDisconnectEvent)

	activity := test.newActivity(NewPath("a"))
	activity.Start(test.view)
	assert.Equal(t, len(test.service.Calls()), 0)
	assert.Equal(t, activity.WatchState(), WatchStateIdle)

	test.relay.Signal(UpstreamConnectEvent)
	assert.Equal(t, test.service.Ops(), []string{"watch"})
}

func TestActivityWatchIdPerInstance(t *testing.T) {
	test := newActivityTest()
	a := test.newActivity(NewPath("a"))
	b := test.newActivity(NewPath("a"))
	a.Start(test.view)
	b.Start(test.view)

	test.relay.Signal(RelayConnectEvent)

	assert.NotEqual(t, a.WatchId(), b.WatchId())
	watchIds := map[WatchId]int{}
	for _, call := range test.service.Calls() {
		watchIds[call.WatchId] += 1
	}
	assert.Equal(t, watchIds, map[WatchId]int{
		a.WatchId(): 1,
		b.WatchId(): 1,
	})
}

func TestActivityChanges(t *testing.T) {
	test := newActivityTest()
	activity := test.newActivity(NewPath("a"))
	activity.Start(test.view)

	test.relay.eventBus.FireChange(&RegistryChange{
		WatchId:     activity.WatchId(),
		Path:        NewPath("a"),
		Name:        "k",
		AddOrChange: true,
	})
	test.relay.eventBus.FireChange(&RegistryChange{
		WatchId: NewId(),
		Path:    NewPath("a"),
		Name:    "other",
	})
	_, _, changes := test.view.Counts()
	assert.Equal(t, changes, 1)
	assert.Equal(t, test.view.changes[0].Name, "k")

	activity.OnStop()
	test.relay.eventBus.FireChange(&RegistryChange{
		WatchId: activity.WatchId(),
		Path:    NewPath("a"),
		Name:    "late",
	})
	_, _, changes = test.view.Counts()
	assert.Equal(t, changes, 1)
}

func TestActivityGoTo(t *testing.T) {
	test := newActivityTest()
	activity := test.newActivity(NewPath("a"))
	activity.GoTo(NewRegistryPlace(NewPath("a", "b")))

	assert.Equal(t, len(test.placeGoer.places), 1)
	assert.Equal(t, test.placeGoer.places[0].PathString(), "/a/b")
	// navigation is not part of the watch
	assert.Equal(t, len(test.service.Calls()), 0)
}

func TestActivityConcurrentSignals(t *testing.T) {
	test := newActivityTest()
	activity := test.newActivity(NewPath("a"))
	activity.Start(test.view)

	kinds := []EventKind{
		RelayConnectEvent,
		RelayDisconnectEvent,
		UpstreamConnectEvent,
		UpstreamDisconnectEvent,
	}

	stopped := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i += 1 {
		wg.Add(1)
		go func(kind EventKind) {
			defer wg.Done()
			for {
				select {
				case <-stopped:
					return
				default:
				}
				test.relay.eventBus.Fire(kind)
			}
		}(kinds[i])
	}

	for len(test.service.Calls()) < 64 {
		runtime.Gosched()
	}
	activity.OnStop()
	before := len(test.service.Calls())
	close(stopped)
	wg.Wait()

	calls := test.service.Calls()
	assert.Equal(t, len(calls), before)
	assert.Equal(t, calls[len(calls)-1].Op, "unwatch")
}
