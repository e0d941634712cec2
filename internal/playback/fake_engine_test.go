/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

package playback

import (
	"context"
	"strconv"
	"sync"
	"time"

	"beatbank/internal/library"
	"beatbank/pkg/spec"
)

type call struct {
	op  string
	seq uint64
	arg string
}

// fakeEngine records every command. Play can be held per path and Status
// can be held globally to build races deterministically.
type fakeEngine struct {
	mu     sync.Mutex
	calls  []call
	fail   map[string]error
	status spec.Status
	stErr  error

	playGate    map[string]chan struct{}
	playEntered chan string

	statusGate    chan struct{}
	statusEntered chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		fail:          make(map[string]error),
		playGate:      make(map[string]chan struct{}),
		playEntered:   make(chan string, 16),
		statusEntered: make(chan struct{}, 16),
	}
}

func (f *fakeEngine) record(op string, seq uint64, arg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: op, seq: seq, arg: arg})
	return f.fail[op]
}

func (f *fakeEngine) Play(ctx context.Context, seq uint64, path string) error {
	err := f.record("play", seq, path)
	f.mu.Lock()
	gate := f.playGate[path]
	f.mu.Unlock()
	select {
	case f.playEntered <- path:
	default:
	}
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeEngine) Pause(ctx context.Context, seq uint64) error {
	return f.record("pause", seq, "")
}

func (f *fakeEngine) Resume(ctx context.Context, seq uint64) error {
	return f.record("resume", seq, "")
}

func (f *fakeEngine) Stop(ctx context.Context, seq uint64) error {
	return f.record("stop", seq, "")
}

func (f *fakeEngine) Seek(ctx context.Context, seq uint64, seconds float64) error {
	return f.record("seek", seq, strconv.FormatFloat(seconds, 'f', -1, 64))
}

func (f *fakeEngine) SetVolume(ctx context.Context, seq uint64, ratio float64) error {
	return f.record("volume", seq, strconv.FormatFloat(ratio, 'f', -1, 64))
}

func (f *fakeEngine) Status(ctx context.Context, seq uint64) (spec.Status, error) {
	f.mu.Lock()
	gate := f.statusGate
	f.mu.Unlock()
	select {
	case f.statusEntered <- struct{}{}:
	default:
	}
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.stErr
}

func (f *fakeEngine) setStatus(s spec.Status) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *fakeEngine) setFail(op string, err error) {
	f.mu.Lock()
	f.fail[op] = err
	f.mu.Unlock()
}

func (f *fakeEngine) hold(path string) chan struct{} {
	gate := make(chan struct{})
	f.mu.Lock()
	f.playGate[path] = gate
	f.mu.Unlock()
	return gate
}

func (f *fakeEngine) holdStatus() chan struct{} {
	gate := make(chan struct{})
	f.mu.Lock()
	f.statusGate = gate
	f.mu.Unlock()
	return gate
}

// ops returns "op" or "op arg" strings in call order.
func (f *fakeEngine) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.op
		if c.arg != "" {
			out[i] += " " + c.arg
		}
	}
	return out
}

func (f *fakeEngine) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
	drain(f.playEntered)
	drain(f.statusEntered)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var (
	beatA = library.Beat{ID: 1, Title: "A", Duration: "03:00", FilePath: "/beats/a.wav"}
	beatB = library.Beat{ID: 2, Title: "B", Duration: "03:20", FilePath: "/beats/b.wav"}
	beatC = library.Beat{ID: 3, Title: "C", Duration: "02:00", FilePath: "/beats/c.wav"}
)

func newTestController(opts Options) (*Controller, *fakeEngine, *fakeClock) {
	eng := newFakeEngine()
	clk := newFakeClock()
	opts.Clock = clk.Now
	return New(eng, opts), eng, clk
}
