package inference

import (
	"context"
	"sync"
	"time"
)

// Mock implements Gateway for testing.
type Mock struct {
	// SendFunc is called when Send is invoked.
	SendFunc func(ctx context.Context, req *Request) (*Payload, error)

	// CapabilitiesOverride overrides default capabilities.
	CapabilitiesOverride *Capabilities

	mu       sync.Mutex
	calls    []MockCall
	requests []*Request
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Time   time.Time
}

// NewMock creates a mock gateway that answers every request with one text part.
func NewMock() *Mock {
	return &Mock{
		SendFunc: func(ctx context.Context, req *Request) (*Payload, error) {
			return &Payload{Parts: []Part{TextPart("What do you notice first?")}, TurnComplete: true}, nil
		},
	}
}

// WithError returns a mock that always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		SendFunc: func(ctx context.Context, req *Request) (*Payload, error) {
			return nil, err
		},
	}
}

// WithPayload returns a mock that always answers with p.
func WithPayload(p *Payload) *Mock {
	return &Mock{
		SendFunc: func(ctx context.Context, req *Request) (*Payload, error) {
			return p, nil
		},
	}
}

// Send calls SendFunc and records the call.
func (m *Mock) Send(ctx context.Context, req *Request) (*Payload, error) {
	m.record("Send")
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, req)
	}
	return nil, WrapError("mock", ErrMalformedResponse)
}

// Capabilities returns mock capabilities. System instructions are supported
// unless overridden.
func (m *Mock) Capabilities() Capabilities {
	if m.CapabilitiesOverride != nil {
		return *m.CapabilitiesOverride
	}
	return Capabilities{SystemInstruction: true, Image: true, Audio: true}
}

// Close records the call.
func (m *Mock) Close() error {
	m.record("Close")
	return nil
}

// Requests returns every request passed to Send.
func (m *Mock) Requests() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// LastRequest returns the most recent request, or nil.
func (m *Mock) LastRequest() *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

func (m *Mock) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Time: time.Now()})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.requests = nil
}

// MockLive implements LiveGateway for testing. Every Connect returns a new
// MockConn; tests drive responses through it.
type MockLive struct {
	// ConnectErr, when set, is returned by Connect.
	ConnectErr error

	mu     sync.Mutex
	conns  []*MockConn
	config []LiveConfig
}

// NewMockLive creates a mock live gateway.
func NewMockLive() *MockLive {
	return &MockLive{}
}

// Connect returns a fresh MockConn.
func (m *MockLive) Connect(ctx context.Context, cfg LiveConfig) (LiveConn, error) {
	if m.ConnectErr != nil {
		return nil, m.ConnectErr
	}
	c := NewMockConn()
	m.mu.Lock()
	m.conns = append(m.conns, c)
	m.config = append(m.config, cfg)
	m.mu.Unlock()
	return c, nil
}

// Capabilities returns live capabilities.
func (m *MockLive) Capabilities() Capabilities {
	return Capabilities{SystemInstruction: true, Image: true, Audio: true, AudioOut: true, Streaming: true}
}

// Conn returns the i-th connection opened, or nil.
func (m *MockLive) Conn(i int) *MockConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.conns) {
		return nil
	}
	return m.conns[i]
}

// LastConfig returns the config of the most recent Connect.
func (m *MockLive) LastConfig() LiveConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.config) == 0 {
		return LiveConfig{}
	}
	return m.config[len(m.config)-1]
}

// MockConn is an in-memory LiveConn.
type MockConn struct {
	responses chan *Payload
	done      chan struct{}

	// PushErr, when set, is returned by Push.
	PushErr error

	mu     sync.Mutex
	pushes [][]Part
	times  []time.Time
	err    error
	once   sync.Once
	pushed chan struct{}
}

// NewMockConn creates an open mock connection.
func NewMockConn() *MockConn {
	return &MockConn{
		responses: make(chan *Payload, 32),
		done:      make(chan struct{}),
		pushed:    make(chan struct{}, 64),
	}
}

// Push records parts.
func (c *MockConn) Push(ctx context.Context, parts ...Part) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	if c.PushErr != nil {
		return c.PushErr
	}
	c.mu.Lock()
	c.pushes = append(c.pushes, parts)
	c.times = append(c.times, time.Now())
	c.mu.Unlock()
	select {
	case c.pushed <- struct{}{}:
	default:
	}
	return nil
}

// Pushed signals once per push.
func (c *MockConn) Pushed() <-chan struct{} { return c.pushed }

// Pushes returns every recorded push.
func (c *MockConn) Pushes() [][]Part {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]Part, len(c.pushes))
	copy(out, c.pushes)
	return out
}

// PushTimes returns when each push happened.
func (c *MockConn) PushTimes() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Time, len(c.times))
	copy(out, c.times)
	return out
}

// Emit delivers a payload to the receiver.
func (c *MockConn) Emit(p *Payload) {
	select {
	case c.responses <- p:
	case <-c.done:
	}
}

// Drop ends the connection with err, as if the network failed.
func (c *MockConn) Drop(err error) {
	c.end(err)
}

func (c *MockConn) Responses() <-chan *Payload { return c.responses }

func (c *MockConn) Done() <-chan struct{} { return c.done }

func (c *MockConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the connection cleanly.
func (c *MockConn) Close() error {
	c.end(nil)
	return nil
}

// Closed reports whether the connection has ended.
func (c *MockConn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *MockConn) end(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

// Verify mocks implement the gateway interfaces at compile time.
var (
	_ Gateway     = (*Mock)(nil)
	_ LiveGateway = (*MockLive)(nil)
	_ LiveConn    = (*MockConn)(nil)
)
