/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"beatbank/internal/library"
	"beatbank/pkg/spec"
)

var (
	ErrNoQueue   = errors.New("queue is empty")
	ErrEmptyPath = errors.New("beat has no file path")
)

// Engine is the audio engine as seen by the controller. Every call carries
// the controller's request sequence number.
type Engine interface {
	Play(ctx context.Context, seq uint64, path string) error
	Pause(ctx context.Context, seq uint64) error
	Resume(ctx context.Context, seq uint64) error
	Stop(ctx context.Context, seq uint64) error
	Seek(ctx context.Context, seq uint64, seconds float64) error
	SetVolume(ctx context.Context, seq uint64, ratio float64) error
	Status(ctx context.Context, seq uint64) (spec.Status, error)
}

type State int

const (
	Idle State = iota
	Loading
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// View is a snapshot for presentation.
type View struct {
	State          State
	NowPlaying     library.Beat
	CommandedPath  string
	Queue          []library.Beat
	Index          int
	Detached       bool
	Position       float64
	Duration       float64
	DesiredPlaying bool
	Previewing     bool
	Volume         float64

	LastSeekTarget    float64
	LastReconciledPos float64
	LastReconciledAt  time.Time
}

// Current returns the queue entry at Index. A detached cursor, left behind
// when the current entry was removed, has no current entry.
func (v View) Current() (library.Beat, bool) {
	if v.Detached || v.Index < 0 || v.Index >= len(v.Queue) {
		return library.Beat{}, false
	}
	return v.Queue[v.Index], true
}

type EventKind int

const (
	Changed EventKind = iota
	Notice
)

// Event is published after the controller's lock is released. A Notice
// carries the failed operation and its error.
type Event struct {
	Kind EventKind
	View View
	Op   string
	Err  error
}

type Listener func(Event)

// Options tune the controller. Zero values fall back to defaults.
type Options struct {
	ReconcileInterval time.Duration
	RestartThreshold  time.Duration
	CommandTimeout    time.Duration
	AutoAdvance       bool
	Clock             func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = time.Second
	}
	if o.RestartThreshold <= 0 {
		o.RestartThreshold = 3 * time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}
