package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// SessionSource is the owner of the current relay session.
// The session may change on every relay reconnect, so read it when issuing a call.
// While the relay disconnect handlers run, `Id` is still the ending session and `IsConnected` is false.
type SessionSource interface {
	Id() SessionId
	IsConnected() bool
	IsUpstreamConnected() bool
}

type RemoteEventBusSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultRemoteEventBusSettings() *RemoteEventBusSettings {
	return &RemoteEventBusSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
	}
}

// RemoteEventBus keeps a websocket connection to the relay and reconnects when it drops.
// Connectivity changes and change notifications are fired on the local `EventBus`,
// in the order the relay reports them.
type RemoteEventBus struct {
	ctx    context.Context
	cancel context.CancelFunc

	eventBus *EventBus

	relayUrl string
	byJwt    string

	settings *RemoteEventBusSettings

	startOnce sync.Once
	done      chan struct{}

	stateLock         sync.RWMutex
	sessionId         SessionId
	connected         bool
	upstreamConnected bool
}

func NewRemoteEventBusWithDefaults(
	ctx context.Context,
	eventBus *EventBus,
	relayUrl string,
	byJwt string,
) *RemoteEventBus {
	return NewRemoteEventBus(
		ctx,
		eventBus,
		relayUrl,
		byJwt,
		DefaultRemoteEventBusSettings(),
	)
}

func NewRemoteEventBus(
	ctx context.Context,
	eventBus *EventBus,
	relayUrl string,
	byJwt string,
	settings *RemoteEventBusSettings,
) *RemoteEventBus {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &RemoteEventBus{
		ctx:      cancelCtx,
		cancel:   cancel,
		eventBus: eventBus,
		relayUrl: relayUrl,
		byJwt:    byJwt,
		settings: settings,
		done:     make(chan struct{}),
	}
}

// starts the connect loop. Calling start more than once has no effect.
func (self *RemoteEventBus) Start() {
	self.startOnce.Do(func() {
		go self.run()
	})
}

// closed when the connect loop exits after `Close`. Never closed if the bus was not started.
func (self *RemoteEventBus) Done() <-chan struct{} {
	return self.done
}

// the current session, or the zero id when not connected
func (self *RemoteEventBus) Id() SessionId {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	return self.sessionId
}

func (self *RemoteEventBus) IsConnected() bool {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	return self.connected
}

func (self *RemoteEventBus) IsUpstreamConnected() bool {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	return self.upstreamConnected
}

func (self *RemoteEventBus) EventBus() *EventBus {
	return self.eventBus
}

func (self *RemoteEventBus) Close() {
	self.cancel()
}

func (self *RemoteEventBus) run() {
	defer close(self.done)
	defer self.cancel()

	tag := byJwtTag(self.byJwt)

	authBytes, err := EncodeFrame(&Frame{
		Type:  FrameTypeAuth,
		ByJwt: self.byJwt,
	})
	if err != nil {
		glog.Infof("[r]auth frame error %s = %s\n", tag, err)
		return
	}

	for {
		reconnect := NewReconnect(self.settings.ReconnectTimeout)
		connect := func() (*connectResult, error) {
			return self.connect(authBytes)
		}

		var result *connectResult
		var err error
		if glog.V(2) {
			result, err = TraceWithReturnError(fmt.Sprintf("[r]connect %s", tag), connect)
		} else {
			result, err = connect()
		}
		if err != nil {
			glog.Infof("[r]auth error %s = %s\n", tag, err)
			select {
			case <-self.ctx.Done():
				return
			case <-reconnect.After():
				continue
			}
		}

		reconnect = NewReconnect(self.settings.ReconnectTimeout)
		self.handle(tag, result)

		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

type connectResult struct {
	ws      *websocket.Conn
	session *Frame
}

func (self *connectResult) String() string {
	return self.session.SessionId.String()
}

func (self *RemoteEventBus) connect(authBytes []byte) (*connectResult, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(self.ctx, self.relayUrl, nil)
	if err != nil {
		return nil, err
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
		}
	}()

	ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
	if err := ws.WriteMessage(websocket.BinaryMessage, authBytes); err != nil {
		return nil, err
	}
	ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
	messageType, message, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	if messageType != websocket.BinaryMessage {
		return nil, errors.New("Auth response error.")
	}
	session, err := DecodeFrame(message)
	if err != nil {
		return nil, err
	}
	if session.Type != FrameTypeSession || session.SessionId.IsZero() {
		return nil, fmt.Errorf("Auth response error: unexpected %s.", session.Type)
	}

	success = true
	return &connectResult{
		ws:      ws,
		session: session,
	}, nil
}

// runs one connected session until the connection drops or the bus is closed
func (self *RemoteEventBus) handle(tag string, result *connectResult) {
	ws := result.ws
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.sessionId = result.session.SessionId
		self.connected = true
		self.upstreamConnected = result.session.UpstreamConnected
	}()
	glog.V(1).Infof("[r]session %s = %s (upstream=%t)\n", tag, result.session.SessionId, result.session.UpstreamConnected)

	self.eventBus.Fire(RelayConnectEvent)
	if result.session.UpstreamConnected {
		self.eventBus.Fire(UpstreamConnectEvent)
	}

	defer func() {
		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			self.connected = false
			self.upstreamConnected = false
		}()
		glog.V(1).Infof("[r]session end %s = %s\n", tag, result.session.SessionId)
		// handlers unwatch with the ending session
		self.eventBus.Fire(RelayDisconnectEvent)

		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.sessionId = Id{}
	}()

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 0)); err != nil {
					// note that for websocket a dealine timeout cannot be recovered
					glog.Infof("[rs]ping %s-> error = %s\n", tag, err)
					return
				}
			}
		}
	}()

	readDone := make(chan struct{})
	go func() {
		defer func() {
			handleCancel()
			close(readDone)
		}()

		for {
			select {
			case <-handleCtx.Done():
				return
			default:
			}

			ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
			messageType, message, err := ws.ReadMessage()
			if err != nil {
				glog.Infof("[rr]%s<- error = %s\n", tag, err)
				return
			}

			switch messageType {
			case websocket.BinaryMessage:
				if 0 == len(message) {
					// ping
					glog.V(2).Infof("[rr]ping %s<-\n", tag)
					continue
				}
				frame, err := DecodeFrame(message)
				if err != nil {
					glog.Infof("[rr]%s<- bad frame = %s\n", tag, err)
					continue
				}
				self.receive(tag, frame)
			default:
				glog.V(2).Infof("[rr]other=%d %s<-\n", messageType, tag)
			}
		}
	}()

	<-handleCtx.Done()
	// unblock the reader and let it finish before the disconnect is fired
	ws.Close()
	<-readDone
}

func (self *RemoteEventBus) receive(tag string, frame *Frame) {
	switch frame.Type {
	case FrameTypeUpstream:
		changed := false
		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			if self.upstreamConnected != frame.UpstreamConnected {
				self.upstreamConnected = frame.UpstreamConnected
				changed = true
			}
		}()
		if !changed {
			return
		}
		glog.V(1).Infof("[rr]upstream %s<- connected=%t\n", tag, frame.UpstreamConnected)
		if frame.UpstreamConnected {
			self.eventBus.Fire(UpstreamConnectEvent)
		} else {
			self.eventBus.Fire(UpstreamDisconnectEvent)
		}
	case FrameTypeRegistryChange:
		glog.V(2).Infof("[rr]change %s<- %s %s/%s\n", tag, frame.Change.WatchId, frame.Change.Path, frame.Change.Name)
		self.eventBus.FireChange(frame.Change)
	default:
		glog.V(2).Infof("[rr]unexpected %s %s<-\n", frame.Type, tag)
	}
}
