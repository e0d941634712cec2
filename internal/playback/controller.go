/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

// Package playback drives the out-of-process audio engine. It owns the
// transport intent and keeps a local position estimate that is corrected
// by polling the engine.
package playback

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"beatbank/internal/library"
	"beatbank/internal/logger"
)

// Controller serializes transport commands on a single command slot and
// fences status replies against the latest issued command.
type Controller struct {
	eng  Engine
	opts Options

	// cmdMu is the command slot. It is held across engine calls.
	cmdMu sync.Mutex

	// mu guards everything below and is never held across engine calls.
	mu                sync.Mutex
	state             State
	queue             []library.Beat
	index             int
	detached          bool
	queueGen          uint64
	undo              playUndo
	nowPlaying        library.Beat
	desiredPlaying    bool
	commandedPath     string
	localPos          float64
	localPosAt        time.Time
	previewing        bool
	prePreviewPos     float64
	lastReconciledPos float64
	lastReconciledAt  time.Time
	lastSeekTarget    float64
	durationBound     float64
	volume            float64
	fence             uint64
	published         View
	listeners         []Listener

	seq        atomic.Uint64
	playIntent atomic.Uint64
}

// playUndo is what a failed play falls back to.
type playUndo struct {
	queueGen   uint64
	index      int
	detached   bool
	nowPlaying library.Beat
	commanded  string
	duration   float64
}

func New(eng Engine, opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		eng:    eng,
		opts:   opts,
		index:  -1,
		volume: 1,
	}
}

func (c *Controller) Subscribe(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

func (c *Controller) publish(ev Event) {
	c.mu.Lock()
	ls := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

func (c *Controller) changed() {
	c.mu.Lock()
	v := c.viewLocked()
	c.published = v
	c.mu.Unlock()
	c.publish(Event{Kind: Changed, View: v})
}

func (c *Controller) notice(op string, err error) {
	logger.Warn("transport command failed", logger.String("op", op), logger.ErrorField(err))
	c.publish(Event{Kind: Notice, View: c.View(), Op: op, Err: err})
}

// View returns a snapshot of the controller.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	return View{
		State:          c.state,
		NowPlaying:     c.nowPlaying,
		CommandedPath:  c.commandedPath,
		Queue:          append([]library.Beat(nil), c.queue...),
		Index:          c.index,
		Detached:       c.detached,
		Position:       c.positionLocked(),
		Duration:       c.durationBound,
		DesiredPlaying: c.desiredPlaying,
		Previewing:     c.previewing,
		Volume:         c.volume,

		LastSeekTarget:    c.lastSeekTarget,
		LastReconciledPos: c.lastReconciledPos,
		LastReconciledAt:  c.lastReconciledAt,
	}
}

// Position is the local estimate: the last known position, advanced by the
// elapsed time while playing.
func (c *Controller) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

func (c *Controller) positionLocked() float64 {
	pos := c.localPos
	if c.state == Playing && !c.previewing && !c.localPosAt.IsZero() {
		pos += c.opts.Clock().Sub(c.localPosAt).Seconds()
	}
	if c.durationBound > 0 && pos > c.durationBound {
		pos = c.durationBound
	}
	return pos
}

func (c *Controller) setPosLocked(pos float64) {
	c.localPos = pos
	c.localPosAt = c.opts.Clock()
}

// issue runs one engine command under a fresh sequence number and raises
// the fence to it before the command leaves.
func (c *Controller) issue(ctx context.Context, fn func(ctx context.Context, seq uint64) error) error {
	seq := c.seq.Add(1)
	c.mu.Lock()
	if seq > c.fence {
		c.fence = seq
	}
	c.mu.Unlock()

	if c.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CommandTimeout)
		defer cancel()
	}
	return fn(ctx, seq)
}

// ===============================
// Play
// ===============================

// PlayRecord makes beat the current entry and plays it from the start. If
// the beat is already queued the queue index moves to it, otherwise the
// queue becomes just this beat.
func (c *Controller) PlayRecord(ctx context.Context, beat library.Beat) error {
	if beat.FilePath == "" {
		return ErrEmptyPath
	}
	c.mu.Lock()
	c.markUndoLocked()
	if i := indexOf(c.queue, beat.ID); i >= 0 {
		c.queue[i] = beat
		c.index = i
	} else {
		c.setQueueLocked([]library.Beat{beat}, 0)
	}
	intent := c.beginPlayLocked(beat)
	c.mu.Unlock()

	return c.runPlay(ctx, intent, beat)
}

// beginPlayLocked records the intent to play beat. The state is set at once
// so that status replies for the previous track are discarded while the
// request waits for the command slot.
func (c *Controller) beginPlayLocked(beat library.Beat) uint64 {
	intent := c.playIntent.Add(1)
	c.state = Loading
	c.detached = false
	c.nowPlaying = beat
	c.commandedPath = beat.FilePath
	c.desiredPlaying = true
	c.previewing = false
	c.lastSeekTarget = 0
	c.durationBound = beat.Seconds()
	c.setPosLocked(0)
	return intent
}

// runPlay issues stop then play for one play intent. An intent overtaken by
// a newer one while waiting returns without touching the engine further.
func (c *Controller) runPlay(ctx context.Context, intent uint64, beat library.Beat) error {
	c.changed()

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.playIntent.Load() != intent {
		logger.Debug("play superseded", logger.String("path", beat.FilePath))
		return nil
	}

	if err := c.issue(ctx, c.eng.Stop); err != nil {
		c.failPlay(intent)
		err = fmt.Errorf("stop before play: %w", err)
		c.notice("play", err)
		return err
	}

	if c.playIntent.Load() != intent {
		return nil
	}

	err := c.issue(ctx, func(ctx context.Context, seq uint64) error {
		return c.eng.Play(ctx, seq, beat.FilePath)
	})
	if err != nil {
		c.failPlay(intent)
		err = fmt.Errorf("play %s: %w", beat.FilePath, err)
		c.notice("play", err)
		return err
	}

	c.mu.Lock()
	if c.playIntent.Load() != intent {
		c.mu.Unlock()
		return nil
	}
	c.state = Playing
	c.setPosLocked(0)
	c.mu.Unlock()

	logger.Info("playing", logger.Int64("id", beat.ID), logger.String("path", beat.FilePath))
	c.changed()
	return nil
}

// markUndoLocked remembers the cursor before a play moves it. While a play
// is still loading the earlier mark is kept, so a chain of coalesced plays
// falls back to the last track that actually started.
func (c *Controller) markUndoLocked() {
	if c.state == Loading {
		return
	}
	c.undo = playUndo{
		queueGen:   c.queueGen,
		index:      c.index,
		detached:   c.detached,
		nowPlaying: c.nowPlaying,
		commanded:  c.commandedPath,
		duration:   c.durationBound,
	}
}

// failPlay puts the cursor back where it was before the play. The index is
// restored only if the queue has not been replaced since.
func (c *Controller) failPlay(intent uint64) {
	c.mu.Lock()
	if c.playIntent.Load() == intent {
		c.state = Idle
		c.desiredPlaying = false
		c.setPosLocked(0)
		u := c.undo
		c.nowPlaying = u.nowPlaying
		c.commandedPath = u.commanded
		c.durationBound = u.duration
		if u.queueGen == c.queueGen {
			c.index = u.index
			c.detached = u.detached
		}
	}
	c.mu.Unlock()
	c.changed()
}

// PlayCurrent plays the current queue entry from the start. When the
// current entry was removed it plays the entry that took its place.
func (c *Controller) PlayCurrent(ctx context.Context) error {
	c.mu.Lock()
	target := c.index
	if c.detached && target+1 < len(c.queue) {
		target++
	}
	if target < 0 || target >= len(c.queue) {
		c.mu.Unlock()
		return ErrNoQueue
	}
	c.markUndoLocked()
	c.index = target
	beat := c.queue[c.index]
	intent := c.beginPlayLocked(beat)
	c.mu.Unlock()
	return c.runPlay(ctx, intent, beat)
}

// ===============================
// Pause / Resume / Stop
// ===============================

// Pause is a no-op unless playing. The state flips only once the engine
// has accepted the command.
func (c *Controller) Pause(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st != Playing {
		return nil
	}

	if err := c.issue(ctx, c.eng.Pause); err != nil {
		err = fmt.Errorf("pause: %w", err)
		c.notice("pause", err)
		return err
	}

	c.mu.Lock()
	c.setPosLocked(c.positionLocked())
	c.state = Paused
	c.desiredPlaying = false
	c.mu.Unlock()
	c.changed()
	return nil
}

// Resume is a no-op unless paused.
func (c *Controller) Resume(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st != Paused {
		return nil
	}

	if err := c.issue(ctx, c.eng.Resume); err != nil {
		err = fmt.Errorf("resume: %w", err)
		c.notice("resume", err)
		return err
	}

	c.mu.Lock()
	c.setPosLocked(c.localPos)
	c.state = Playing
	c.desiredPlaying = true
	c.mu.Unlock()
	c.changed()
	return nil
}

// Stop silences the engine. The queue and its index are kept, and any play
// request still waiting for the command slot is dropped.
func (c *Controller) Stop(ctx context.Context) error {
	c.playIntent.Add(1)

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st == Idle {
		return nil
	}

	if err := c.issue(ctx, c.eng.Stop); err != nil {
		err = fmt.Errorf("stop: %w", err)
		c.notice("stop", err)
		return err
	}

	c.mu.Lock()
	c.state = Idle
	c.desiredPlaying = false
	c.previewing = false
	c.setPosLocked(0)
	c.mu.Unlock()
	c.changed()
	return nil
}

// TogglePlay pauses, resumes, or starts the current queue entry.
func (c *Controller) TogglePlay(ctx context.Context) error {
	switch c.View().State {
	case Playing:
		return c.Pause(ctx)
	case Paused:
		return c.Resume(ctx)
	case Idle:
		return c.PlayCurrent(ctx)
	}
	return nil
}

// ===============================
// Seek
// ===============================

// SeekPreview moves the local position only. It is meant to be called for
// every intermediate value of a slider drag.
func (c *Controller) SeekPreview(seconds float64) {
	c.mu.Lock()
	if !c.previewing {
		c.prePreviewPos = c.positionLocked()
		c.previewing = true
	}
	c.setPosLocked(c.clampLocked(seconds))
	c.mu.Unlock()
	c.changed()
}

// SeekCommit sends one seek for the end of a drag. On failure the position
// from before the preview is restored.
func (c *Controller) SeekCommit(ctx context.Context, seconds float64) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	target := c.clampLocked(seconds)
	restore := c.positionLocked()
	if c.previewing {
		restore = c.prePreviewPos
	}
	if c.state != Playing && c.state != Paused {
		c.previewing = false
		c.setPosLocked(restore)
		c.mu.Unlock()
		c.changed()
		return nil
	}
	c.mu.Unlock()

	err := c.issue(ctx, func(ctx context.Context, seq uint64) error {
		return c.eng.Seek(ctx, seq, target)
	})

	c.mu.Lock()
	c.previewing = false
	if err != nil {
		c.setPosLocked(restore)
	} else {
		c.lastSeekTarget = target
		c.setPosLocked(target)
	}
	c.mu.Unlock()
	c.changed()

	if err != nil {
		err = fmt.Errorf("seek %.1f: %w", target, err)
		c.notice("seek", err)
		return err
	}
	return nil
}

func (c *Controller) clampLocked(seconds float64) float64 {
	if math.IsNaN(seconds) || seconds < 0 {
		return 0
	}
	if c.durationBound > 0 && seconds > c.durationBound {
		return c.durationBound
	}
	return seconds
}

// ===============================
// Next / Previous
// ===============================

// Next plays the following queue entry. It is a no-op at the end of the
// queue.
func (c *Controller) Next(ctx context.Context) error {
	c.mu.Lock()
	if c.index+1 >= len(c.queue) {
		c.mu.Unlock()
		return nil
	}
	c.markUndoLocked()
	c.index++
	beat := c.queue[c.index]
	intent := c.beginPlayLocked(beat)
	c.mu.Unlock()

	return c.runPlay(ctx, intent, beat)
}

// Previous restarts the current track when its position is past the
// restart threshold or it is the first entry; otherwise it plays the
// preceding queue entry.
func (c *Controller) Previous(ctx context.Context) error {
	c.mu.Lock()
	if c.detached {
		// the current entry is gone; the cursor sits after queue[index]
		if c.index < 0 {
			c.mu.Unlock()
			return nil
		}
		c.markUndoLocked()
		beat := c.queue[c.index]
		intent := c.beginPlayLocked(beat)
		c.mu.Unlock()
		return c.runPlay(ctx, intent, beat)
	}
	if c.index < 0 || c.index >= len(c.queue) {
		c.mu.Unlock()
		return nil
	}
	pos := c.positionLocked()
	if pos > c.opts.RestartThreshold.Seconds() || c.index == 0 {
		st := c.state
		c.mu.Unlock()
		return c.restart(ctx, st)
	}
	c.markUndoLocked()
	c.index--
	beat := c.queue[c.index]
	intent := c.beginPlayLocked(beat)
	c.mu.Unlock()

	return c.runPlay(ctx, intent, beat)
}

func (c *Controller) restart(ctx context.Context, st State) error {
	switch st {
	case Playing, Paused:
		return c.SeekCommit(ctx, 0)
	case Idle:
		return c.PlayCurrent(ctx)
	}
	return nil
}

// ===============================
// Volume
// ===============================

// SetVolume clamps ratio to [0,1] and sends it without waiting for the
// command slot. Only the last value is remembered.
func (c *Controller) SetVolume(ctx context.Context, ratio float64) error {
	if math.IsNaN(ratio) || ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	c.mu.Lock()
	c.volume = ratio
	c.mu.Unlock()

	seq := c.seq.Add(1)
	if c.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CommandTimeout)
		defer cancel()
	}
	if err := c.eng.SetVolume(ctx, seq, ratio); err != nil {
		err = fmt.Errorf("volume: %w", err)
		c.notice("volume", err)
		return err
	}
	c.changed()
	return nil
}

func indexOf(s []library.Beat, id int64) int {
	for i, b := range s {
		if b.ID == id {
			return i
		}
	}
	return -1
}
