/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

package main

import (
	"errors"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"beatbank/internal/codec"
	"beatbank/internal/logger"
	"beatbank/pkg/spec"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"
)

// ======================================================
// Runtime audio handles (live control)
// ======================================================
type track struct {
	path   string
	stream beep.StreamSeekCloser
	format beep.Format
	ctrl   *beep.Ctrl
	volume *effects.Volume
	ended  atomic.Bool
}

// Player owns the single speaker. Every streamer field is only touched
// with the speaker locked.
type Player struct {
	rate beep.SampleRate

	mu    sync.Mutex
	cur   *track
	ratio float64
}

func newPlayer(rate beep.SampleRate) *Player {
	return &Player{rate: rate, ratio: 1}
}

func initSpeaker(rate beep.SampleRate) error {
	return speaker.Init(rate, rate.N(time.Millisecond*100))
}

// volumeLevel maps a linear ratio onto effects.Volume with base 2.
func volumeLevel(ratio float64) (level float64, silent bool) {
	if ratio <= 0 {
		return 0, true
	}
	return math.Log2(ratio), false
}

func (p *Player) Play(path string) error {
	if _, err := os.Stat(path); err != nil {
		return errFileNotFound
	}
	stream, format, err := codec.Open(path)
	if err != nil {
		logger.Warn("decode failed", logger.String("path", path), logger.ErrorField(err))
		return errDecode
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()

	var s beep.Streamer = stream
	if format.SampleRate != p.rate {
		s = beep.Resample(4, format.SampleRate, p.rate, s)
	}
	level, silent := volumeLevel(p.ratio)
	t := &track{path: path, stream: stream, format: format}
	t.volume = &effects.Volume{Streamer: s, Base: 2, Volume: level, Silent: silent}
	t.ctrl = &beep.Ctrl{Streamer: t.volume}
	p.cur = t

	p.start(t)
	logger.Info("track started",
		logger.String("path", path),
		logger.Int("rate", int(format.SampleRate)),
		logger.Float64("duration", format.SampleRate.D(stream.Len()).Seconds()),
	)
	return nil
}

func (p *Player) start(t *track) {
	t.ended.Store(false)
	speaker.Play(beep.Seq(t.ctrl, beep.Callback(func() {
		t.ended.Store(true)
	})))
}

func (p *Player) Pause() error {
	return p.setPaused(true)
}

func (p *Player) Resume() error {
	return p.setPaused(false)
}

func (p *Player) setPaused(paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return errNothingLoaded
	}
	speaker.Lock()
	p.cur.ctrl.Paused = paused
	speaker.Unlock()
	return nil
}

func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Player) stopLocked() {
	if p.cur == nil {
		return
	}
	speaker.Clear()
	if err := p.cur.stream.Close(); err != nil {
		logger.Debug("close stream", logger.ErrorField(err))
	}
	p.cur = nil
}

// Seek jumps to seconds, clamped to the track. Seeking a finished track
// puts it back on the speaker.
func (p *Player) Seek(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.cur
	if t == nil {
		return errNothingLoaded
	}

	n := t.format.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	if n < 0 {
		n = 0
	}
	if last := t.stream.Len() - 1; n > last {
		n = last
	}
	if n < 0 {
		n = 0
	}

	speaker.Lock()
	err := t.stream.Seek(n)
	speaker.Unlock()
	if err != nil {
		return err
	}

	if t.ended.Load() {
		p.start(t)
	}
	return nil
}

func (p *Player) SetVolume(ratio float64) {
	if math.IsNaN(ratio) || ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ratio = ratio
	if p.cur == nil {
		return
	}
	level, silent := volumeLevel(ratio)
	speaker.Lock()
	p.cur.volume.Volume = level
	p.cur.volume.Silent = silent
	speaker.Unlock()
}

func (p *Player) Status() spec.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.cur
	if t == nil {
		return spec.Status{}
	}

	speaker.Lock()
	pos := t.format.SampleRate.D(t.stream.Position()).Seconds()
	dur := t.format.SampleRate.D(t.stream.Len()).Seconds()
	paused := t.ctrl.Paused
	speaker.Unlock()

	ended := t.ended.Load()
	return spec.Status{
		Pos:       pos,
		IsPlaying: !paused && !ended,
		Path:      t.path,
		Ended:     ended,
		Duration:  dur,
	}.Sanitize()
}

var (
	errFileNotFound  = errors.New(spec.ErrFileNotFound)
	errDecode        = errors.New(spec.ErrDecode)
	errNothingLoaded = errors.New(spec.ErrNothingLoaded)
)
