package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R], 1)
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// a non-200 response. The response body is the message.
type ApiError struct {
	StatusCode int
	Message    string
}

func (self *ApiError) Error() string {
	return fmt.Sprintf("%d %s", self.StatusCode, self.Message)
}

// RegistryService is the remote registry as seen by an activity.
// All calls return immediately and complete on the callback.
type RegistryService interface {
	WatchRegistryPath(watch *Watch, callback WatchCallback)
	UnwatchRegistryPath(unwatch *Unwatch, callback UnwatchCallback)
	Dir(path Path, callback DirCallback)
}

type RegistryApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byJwt string

	inFlight sync.WaitGroup
}

func NewRegistryApi(apiUrl string) *RegistryApi {
	return NewRegistryApiWithContext(context.Background(), apiUrl)
}

func NewRegistryApiWithContext(ctx context.Context, apiUrl string) *RegistryApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &RegistryApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: strings.TrimSuffix(apiUrl, "/"),
	}
}

// this gets attached to api calls that need it
func (self *RegistryApi) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

// in-flight calls complete on their callbacks with the context error
func (self *RegistryApi) Close() {
	self.cancel()
}

// waits for in-flight async calls. Returns false if they did not complete within `timeout`.
func (self *RegistryApi) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		self.inFlight.Wait()
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (self *RegistryApi) async(do func()) {
	self.inFlight.Add(1)
	go func() {
		defer self.inFlight.Done()
		do()
	}()
}

type WatchCallback apiCallback[string]

type Watch struct {
	// the relay session that receives the notifications
	Id      SessionId `json:"id"`
	WatchId WatchId   `json:"watch_id"`
	Path    string    `json:"path"`
}

func (self *RegistryApi) WatchRegistryPath(watch *Watch, callback WatchCallback) {
	self.async(func() {
		post[string](
			self.ctx,
			fmt.Sprintf("%s/registry/watch", self.apiUrl),
			watch,
			self.byJwt,
			"",
			callback,
		)
	})
}

func (self *RegistryApi) WatchRegistryPathSync(watch *Watch) (string, error) {
	return post[string](
		self.ctx,
		fmt.Sprintf("%s/registry/watch", self.apiUrl),
		watch,
		self.byJwt,
		"",
		NewNoopApiCallback[string](),
	)
}

type UnwatchCallback apiCallback[string]

type Unwatch struct {
	Id      SessionId `json:"id"`
	WatchId WatchId   `json:"watch_id"`
}

// unwatch is idempotent. A 404 means there is no matching watch and is reported as success.
func (self *RegistryApi) UnwatchRegistryPath(unwatch *Unwatch, callback UnwatchCallback) {
	self.async(func() {
		self.unwatch(unwatch, callback)
	})
}

func (self *RegistryApi) UnwatchRegistryPathSync(unwatch *Unwatch) (string, error) {
	return self.unwatch(unwatch, NewNoopApiCallback[string]())
}

func (self *RegistryApi) unwatch(unwatch *Unwatch, callback UnwatchCallback) (string, error) {
	result, err := post[string](
		self.ctx,
		fmt.Sprintf("%s/registry/unwatch", self.apiUrl),
		unwatch,
		self.byJwt,
		"",
		NewNoopApiCallback[string](),
	)
	if apiErr, ok := err.(*ApiError); ok && apiErr.StatusCode == http.StatusNotFound {
		result = ""
		err = nil
	}
	callback.Result(result, err)
	return result, err
}

type DirCallback apiCallback[*RegistryListing]

type DirArgs struct {
	Path Path `json:"path"`
}

func (self *RegistryApi) Dir(path Path, callback DirCallback) {
	self.async(func() {
		post[*RegistryListing](
			self.ctx,
			fmt.Sprintf("%s/registry/dir", self.apiUrl),
			&DirArgs{
				Path: path,
			},
			self.byJwt,
			&RegistryListing{},
			callback,
		)
	})
}

func (self *RegistryApi) DirSync(path Path) (*RegistryListing, error) {
	return post[*RegistryListing](
		self.ctx,
		fmt.Sprintf("%s/registry/dir", self.apiUrl),
		&DirArgs{
			Path: path,
		},
		self.byJwt,
		&RegistryListing{},
		NewNoopApiCallback[*RegistryListing](),
	)
}

func post[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		var empty R
		err = &ApiError{
			StatusCode: r.StatusCode,
			Message:    strings.TrimSpace(string(responseBodyBytes)),
		}
		callback.Result(empty, err)
		return empty, err
	}

	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
