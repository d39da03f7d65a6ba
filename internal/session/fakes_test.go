package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/matthew-salter/panny-panface/internal/delivery"
)

var t0 = time.Date(2025, 5, 14, 10, 30, 0, 0, time.UTC)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type manualTimer struct {
	next    time.Time
	every   time.Duration
	fn      func()
	stopped bool
}

// manualScheduler fires timers only when Advance moves the clock past them.
type manualScheduler struct {
	clock  *manualClock
	mu     sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) Every(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{next: s.clock.Now().Add(d), every: d, fn: fn}
	s.timers = append(s.timers, t)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		t.stopped = true
	}
}

func (s *manualScheduler) Advance(d time.Duration) {
	target := s.clock.Now().Add(d)
	for {
		s.mu.Lock()
		var due *manualTimer
		for _, t := range s.timers {
			if t.stopped || t.next.After(target) {
				continue
			}
			if due == nil || t.next.Before(due.next) {
				due = t
			}
		}
		if due == nil {
			s.mu.Unlock()
			break
		}
		at := due.next
		due.next = at.Add(due.every)
		s.mu.Unlock()

		s.clock.set(at)
		due.fn()
	}
	s.clock.set(target)
}

func (s *manualScheduler) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

type fakeAudio struct {
	mu      sync.Mutex
	enabled bool
	stopped bool
	written []byte
}

func (a *fakeAudio) Write(pcm []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled && !a.stopped {
		a.written = append(a.written, pcm...)
	}
	return len(pcm), nil
}

func (a *fakeAudio) bytes() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]byte(nil), a.written...)
}

func (a *fakeAudio) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

func (a *fakeAudio) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	a.enabled = false
}

func (a *fakeAudio) isEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func (a *fakeAudio) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	closed int
	audio  *fakeAudio
}

func (c *fakeConn) Send(event any) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, raw)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) Audio() AudioTrack { return c.audio }

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, raw := range c.sent {
		var ev struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(raw, &ev)
		out = append(out, ev.Type)
	}
	return out
}

func (c *fakeConn) event(i int) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var m map[string]any
	_ = json.Unmarshal(c.sent[i], &m)
	return m
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeTransport struct {
	mu       sync.Mutex
	cred     string
	credErr  error
	openErr  error
	noOpen   bool
	conns    []*fakeConn
	handlers []Handlers
}

func (t *fakeTransport) FetchEphemeralCredential(context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cred, t.credErr
}

func (t *fakeTransport) Open(_ context.Context, _ string, h Handlers) (Conn, error) {
	t.mu.Lock()
	if t.openErr != nil {
		t.mu.Unlock()
		return nil, t.openErr
	}
	conn := &fakeConn{audio: &fakeAudio{}}
	t.conns = append(t.conns, conn)
	t.handlers = append(t.handlers, h)
	auto := !t.noOpen
	t.mu.Unlock()

	if auto {
		h.OnOpen(conn)
	}
	return conn, nil
}

func (t *fakeTransport) last() (*fakeConn, Handlers) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[len(t.conns)-1], t.handlers[len(t.handlers)-1]
}

func (t *fakeTransport) opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

type statusErr struct{ code int }

func (e *statusErr) Error() string   { return "rejected" }
func (e *statusErr) HTTPStatus() int { return e.code }

type fakeSender struct {
	mu      sync.Mutex
	saveErr error
	block   chan struct{}
	entered chan struct{}
	saved   []delivery.SaveRequest
	beacons []delivery.SaveRequest
}

func (s *fakeSender) Save(_ context.Context, req delivery.SaveRequest) error {
	s.mu.Lock()
	s.saved = append(s.saved, req)
	block, entered, err := s.block, s.entered, s.saveErr
	s.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if block != nil {
		<-block
	}
	return err
}

func (s *fakeSender) Beacon(req delivery.SaveRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beacons = append(s.beacons, req)
}

func (s *fakeSender) saves() []delivery.SaveRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery.SaveRequest(nil), s.saved...)
}

func (s *fakeSender) beaconed() []delivery.SaveRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery.SaveRequest(nil), s.beacons...)
}
