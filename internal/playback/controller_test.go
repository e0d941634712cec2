/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"beatbank/internal/library"
	"beatbank/pkg/spec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func drain[T any](ch chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) listen(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) notices() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == Notice {
			out = append(out, ev)
		}
	}
	return out
}

func TestInitialView(t *testing.T) {
	c, _, _ := newTestController(Options{})
	v := c.View()
	assert.Equal(t, Idle, v.State)
	assert.Empty(t, v.CommandedPath)
	assert.Equal(t, -1, v.Index)
	assert.Equal(t, 1.0, v.Volume)
	_, ok := v.Current()
	assert.False(t, ok)
}

func TestPlayRecordStopsThenPlays(t *testing.T) {
	c, eng, _ := newTestController(Options{})

	require.NoError(t, c.PlayRecord(ctx, beatA))
	assert.Equal(t, []string{"stop", "play /beats/a.wav"}, eng.ops())

	v := c.View()
	assert.Equal(t, Playing, v.State)
	assert.Equal(t, beatA.FilePath, v.CommandedPath)
	assert.True(t, v.DesiredPlaying)
	assert.Equal(t, 180.0, v.Duration)
	assert.Zero(t, v.Position)
	assert.Equal(t, []library.Beat{beatA}, v.Queue)
	assert.Equal(t, 0, v.Index)
}

func TestPlayRecordRejectsEmptyPath(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	assert.ErrorIs(t, c.PlayRecord(ctx, library.Beat{ID: 5}), ErrEmptyPath)
	assert.Empty(t, eng.ops())
}

func TestPlaySameRecordTwiceRestartsOnce(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayRecord(ctx, beatA))
	require.NoError(t, c.PlayRecord(ctx, beatA))

	// every play is preceded by its own stop; there is never play, play
	assert.Equal(t, []string{"stop", "play /beats/a.wav", "stop", "play /beats/a.wav"}, eng.ops())
	assert.Equal(t, Playing, c.View().State)
}

func TestPlayAThenBEndsOnB(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayRecord(ctx, beatA))
	require.NoError(t, c.PlayRecord(ctx, beatB))

	ops := eng.ops()
	assert.Equal(t, []string{"stop", "play /beats/a.wav", "stop", "play /beats/b.wav"}, ops)

	v := c.View()
	assert.Equal(t, Playing, v.State)
	assert.Equal(t, beatB.FilePath, v.CommandedPath)
	assert.Equal(t, beatB, v.NowPlaying)
	assert.Equal(t, 200.0, v.Duration)
}

func TestPlayBWhileAIsLoading(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	gate := eng.hold(beatA.FilePath)

	errA := make(chan error, 1)
	go func() { errA <- c.PlayRecord(ctx, beatA) }()
	require.Equal(t, beatA.FilePath, <-eng.playEntered)
	assert.Equal(t, Loading, c.View().State)

	errB := make(chan error, 1)
	go func() { errB <- c.PlayRecord(ctx, beatB) }()
	waitFor(t, func() bool { return c.View().CommandedPath == beatB.FilePath })

	close(gate)
	require.NoError(t, <-errA)
	require.NoError(t, <-errB)

	ops := eng.ops()
	require.Equal(t, []string{"stop", "play /beats/a.wav", "stop", "play /beats/b.wav"}, ops)

	v := c.View()
	assert.Equal(t, Playing, v.State)
	assert.Equal(t, beatB.FilePath, v.CommandedPath)
	assert.Equal(t, beatB, v.NowPlaying)
}

func TestWaitingPlaysCoalesce(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	gate := eng.hold(beatA.FilePath)

	errs := make(chan error, 3)
	go func() { errs <- c.PlayRecord(ctx, beatA) }()
	<-eng.playEntered

	go func() { errs <- c.PlayRecord(ctx, beatB) }()
	waitFor(t, func() bool { return c.View().CommandedPath == beatB.FilePath })
	go func() { errs <- c.PlayRecord(ctx, beatC) }()
	waitFor(t, func() bool { return c.View().CommandedPath == beatC.FilePath })

	close(gate)
	for i := 0; i < 3; i++ {
		require.NoError(t, <-errs)
	}

	assert.NotContains(t, eng.ops(), "play /beats/b.wav")
	ops := eng.ops()
	assert.Equal(t, "play /beats/c.wav", ops[len(ops)-1])
	assert.Equal(t, "stop", ops[len(ops)-2])
	assert.Equal(t, beatC.FilePath, c.View().CommandedPath)
	assert.Equal(t, Playing, c.View().State)
}

func TestPlayFailureRevertsToIdle(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	log := &eventLog{}
	c.Subscribe(log.listen)

	boom := errors.New("FILE_NOT_FOUND")
	eng.setFail("play", boom)

	err := c.PlayRecord(ctx, beatA)
	assert.ErrorIs(t, err, boom)

	v := c.View()
	assert.Equal(t, Idle, v.State)
	assert.False(t, v.DesiredPlaying)
	assert.Empty(t, v.CommandedPath)
	assert.Zero(t, v.NowPlaying.ID)

	notices := log.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, "play", notices[0].Op)
	assert.ErrorIs(t, notices[0].Err, boom)
}

func TestStopFailureBeforePlayRevertsToIdle(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	eng.setFail("stop", errors.New("broken pipe"))

	assert.Error(t, c.PlayRecord(ctx, beatA))
	assert.Equal(t, []string{"stop"}, eng.ops())
	assert.Equal(t, Idle, c.View().State)
}

func TestNextAtQueueEnd(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayQueue(ctx, []library.Beat{beatA, beatB}, 0))
	require.True(t, c.View().DesiredPlaying)
	eng.reset()

	require.NoError(t, c.Next(ctx))
	assert.Equal(t, 1, c.View().Index)
	assert.Equal(t, []string{"stop", "play /beats/b.wav"}, eng.ops())

	eng.reset()
	require.NoError(t, c.Next(ctx))
	assert.Equal(t, 1, c.View().Index)
	assert.Empty(t, eng.ops())
}

func TestRapidNextPressesAreSerialized(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayQueue(ctx, []library.Beat{beatA, beatB, beatC}, 0))
	eng.reset()
	gate := eng.hold(beatB.FilePath)

	first := make(chan error, 1)
	go func() { first <- c.Next(ctx) }()
	<-eng.playEntered

	second := make(chan error, 1)
	go func() { second <- c.Next(ctx) }()
	waitFor(t, func() bool { return c.View().Index == 2 })

	close(gate)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	assert.Equal(t, []string{"stop", "play /beats/b.wav", "stop", "play /beats/c.wav"}, eng.ops())
	assert.Equal(t, beatC.FilePath, c.View().CommandedPath)
	assert.Equal(t, Playing, c.View().State)
}

func TestPreviousPastThresholdRestarts(t *testing.T) {
	c, eng, clk := newTestController(Options{})
	require.NoError(t, c.PlayQueue(ctx, []library.Beat{beatA, beatB}, 1))
	clk.Advance(5 * time.Second)
	require.InDelta(t, 5.0, c.Position(), 1e-9)
	eng.reset()

	require.NoError(t, c.Previous(ctx))
	assert.Equal(t, []string{"seek 0"}, eng.ops())

	v := c.View()
	assert.Equal(t, 1, v.Index)
	assert.Equal(t, beatB.FilePath, v.CommandedPath)
	assert.Zero(t, v.Position)
}

func TestPreviousBelowThresholdGoesBack(t *testing.T) {
	c, eng, clk := newTestController(Options{})
	require.NoError(t, c.PlayQueue(ctx, []library.Beat{beatA, beatB}, 1))
	clk.Advance(time.Second)
	eng.reset()

	require.NoError(t, c.Previous(ctx))
	assert.Equal(t, []string{"stop", "play /beats/a.wav"}, eng.ops())

	v := c.View()
	assert.Equal(t, 0, v.Index)
	assert.Equal(t, beatA.FilePath, v.CommandedPath)
	assert.Equal(t, Playing, v.State)
}

func TestPreviousAtFirstEntryRestarts(t *testing.T) {
	c, eng, clk := newTestController(Options{})
	require.NoError(t, c.PlayQueue(ctx, []library.Beat{beatA, beatB}, 0))
	clk.Advance(time.Second)
	eng.reset()

	require.NoError(t, c.Previous(ctx))
	assert.Equal(t, []string{"seek 0"}, eng.ops())
	assert.Equal(t, 0, c.View().Index)
}

func TestPreviousThresholdIsConfigurable(t *testing.T) {
	c, eng, clk := newTestController(Options{RestartThreshold: 10 * time.Second})
	require.NoError(t, c.PlayQueue(ctx, []library.Beat{beatA, beatB}, 1))
	clk.Advance(5 * time.Second)
	eng.reset()

	require.NoError(t, c.Previous(ctx))
	assert.Equal(t, []string{"stop", "play /beats/a.wav"}, eng.ops())
}

func TestPreviousWhenStoppedReplays(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayQueue(ctx, []library.Beat{beatA}, 0))
	require.NoError(t, c.Stop(ctx))
	eng.reset()

	require.NoError(t, c.Previous(ctx))
	assert.Equal(t, []string{"stop", "play /beats/a.wav"}, eng.ops())
}

func TestPauseResume(t *testing.T) {
	c, eng, clk := newTestController(Options{})

	// nothing loaded: both are no-ops
	require.NoError(t, c.Pause(ctx))
	require.NoError(t, c.Resume(ctx))
	assert.Empty(t, eng.ops())

	require.NoError(t, c.PlayRecord(ctx, beatA))
	require.NoError(t, c.Resume(ctx))
	eng.reset()

	clk.Advance(4 * time.Second)
	require.NoError(t, c.Pause(ctx))
	require.NoError(t, c.Pause(ctx))
	assert.Equal(t, []string{"pause"}, eng.ops())
	assert.Equal(t, Paused, c.View().State)
	assert.False(t, c.View().DesiredPlaying)

	clk.Advance(10 * time.Second)
	assert.InDelta(t, 4.0, c.Position(), 1e-9, "paused position does not advance")

	require.NoError(t, c.Resume(ctx))
	assert.Equal(t, Playing, c.View().State)
	clk.Advance(2 * time.Second)
	assert.InDelta(t, 6.0, c.Position(), 1e-9)
}

func TestPauseFailureKeepsPlaying(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	log := &eventLog{}
	c.Subscribe(log.listen)
	require.NoError(t, c.PlayRecord(ctx, beatA))

	eng.setFail("pause", errors.New("timeout"))
	assert.Error(t, c.Pause(ctx))
	assert.Equal(t, Playing, c.View().State)
	assert.True(t, c.View().DesiredPlaying)
	assert.Len(t, log.notices(), 1)
}

func TestTogglePlay(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	assert.ErrorIs(t, c.TogglePlay(ctx), ErrNoQueue)

	c.SetQueue([]library.Beat{beatA}, 0)
	require.NoError(t, c.TogglePlay(ctx))
	assert.Equal(t, Playing, c.View().State)
	require.NoError(t, c.TogglePlay(ctx))
	assert.Equal(t, Paused, c.View().State)
	require.NoError(t, c.TogglePlay(ctx))
	assert.Equal(t, Playing, c.View().State)

	assert.Equal(t, []string{"stop", "play /beats/a.wav", "pause", "resume"}, eng.ops())
}

func TestStopKeepsQueue(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayQueue(ctx, []library.Beat{beatA, beatB}, 1))
	eng.reset()

	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, []string{"stop"}, eng.ops())

	v := c.View()
	assert.Equal(t, Idle, v.State)
	assert.Equal(t, 1, v.Index)
	assert.Len(t, v.Queue, 2)
	assert.Equal(t, beatB.FilePath, v.CommandedPath)
}

func TestStopDropsWaitingPlay(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	gate := eng.hold(beatA.FilePath)

	errA := make(chan error, 1)
	go func() { errA <- c.PlayRecord(ctx, beatA) }()
	<-eng.playEntered

	errB := make(chan error, 1)
	go func() { errB <- c.PlayRecord(ctx, beatB) }()
	waitFor(t, func() bool { return c.View().CommandedPath == beatB.FilePath })

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop(ctx) }()
	waitFor(t, func() bool { return c.playIntent.Load() == 3 })

	close(gate)
	require.NoError(t, <-errA)
	require.NoError(t, <-errB)
	require.NoError(t, <-stopped)

	assert.NotContains(t, eng.ops(), "play /beats/b.wav")
	assert.Equal(t, Idle, c.View().State)
}

func TestSeekPreviewThenCommit(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayRecord(ctx, beatA))
	eng.reset()

	for _, s := range []float64{10, 20, 35.5, 60} {
		c.SeekPreview(s)
	}
	assert.Empty(t, eng.ops(), "preview never reaches the engine")
	assert.Equal(t, 60.0, c.Position())
	assert.True(t, c.View().Previewing)

	require.NoError(t, c.SeekCommit(ctx, 60))
	assert.Equal(t, []string{"seek 60"}, eng.ops())
	v := c.View()
	assert.False(t, v.Previewing)
	assert.Equal(t, 60.0, v.Position)
	assert.Equal(t, 60.0, v.LastSeekTarget)
}

func TestSeekCommitClampsToDuration(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayRecord(ctx, beatA))
	eng.reset()

	require.NoError(t, c.SeekCommit(ctx, 500))
	require.NoError(t, c.SeekCommit(ctx, -3))
	assert.Equal(t, []string{"seek 180", "seek 0"}, eng.ops())
}

func TestSeekCommitFailureRestoresPosition(t *testing.T) {
	c, eng, clk := newTestController(Options{})
	require.NoError(t, c.PlayRecord(ctx, beatA))
	clk.Advance(12 * time.Second)

	c.SeekPreview(90)
	eng.setFail("seek", errors.New("NOTHING_LOADED"))
	assert.Error(t, c.SeekCommit(ctx, 90))

	v := c.View()
	assert.False(t, v.Previewing)
	assert.InDelta(t, 12.0, v.Position, 1e-9)
}

func TestSeekWhileIdleIsLocalOnly(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	c.SeekPreview(30)
	require.NoError(t, c.SeekCommit(ctx, 30))
	assert.Empty(t, eng.ops())
	assert.Zero(t, c.Position())
}

func TestMalformedDurationDegradesToZeroBound(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	odd := library.Beat{ID: 9, FilePath: "/beats/odd.wav", Duration: "three minutes"}
	require.NoError(t, c.PlayRecord(ctx, odd))
	assert.Zero(t, c.View().Duration)

	eng.reset()
	require.NoError(t, c.SeekCommit(ctx, 500))
	assert.Equal(t, []string{"seek 500"}, eng.ops())
}

func TestSetVolume(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	log := &eventLog{}
	c.Subscribe(log.listen)

	require.NoError(t, c.SetVolume(ctx, 1.7))
	require.NoError(t, c.SetVolume(ctx, -1))
	require.NoError(t, c.SetVolume(ctx, 0.25))
	assert.Equal(t, []string{"volume 1", "volume 0", "volume 0.25"}, eng.ops())
	assert.Equal(t, 0.25, c.View().Volume)

	eng.setFail("volume", errors.New("gone"))
	assert.Error(t, c.SetVolume(ctx, 0.5))
	assert.Equal(t, 0.5, c.View().Volume)
	assert.Len(t, log.notices(), 1)
}

func TestSequenceNumbersIncrease(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayRecord(ctx, beatA))
	require.NoError(t, c.Pause(ctx))
	require.NoError(t, c.Resume(ctx))

	eng.mu.Lock()
	defer eng.mu.Unlock()
	for i := 1; i < len(eng.calls); i++ {
		assert.Greater(t, eng.calls[i].seq, eng.calls[i-1].seq)
	}
}

func TestQueueOps(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	assert.True(t, c.Enqueue(beatA))
	assert.True(t, c.Enqueue(beatB))
	assert.False(t, c.Enqueue(beatA))

	v := c.View()
	assert.Equal(t, 0, v.Index)
	assert.Equal(t, []int64{1, 2}, library.IDs(v.Queue))
	assert.Empty(t, eng.ops())

	c.SetQueue([]library.Beat{beatA, beatB, beatC}, 7)
	assert.Equal(t, 2, c.View().Index)
	c.SetQueue(nil, 0)
	assert.Equal(t, -1, c.View().Index)
	assert.ErrorIs(t, c.PlayQueue(ctx, nil, 0), ErrNoQueue)
}

func TestPlayRecordMovesIndexWithinQueue(t *testing.T) {
	c, _, _ := newTestController(Options{})
	c.SetQueue([]library.Beat{beatA, beatB, beatC}, 0)

	require.NoError(t, c.PlayRecord(ctx, beatC))
	v := c.View()
	assert.Equal(t, 2, v.Index)
	assert.Len(t, v.Queue, 3)
}

func TestRealignQueueFollowsVisibleOrder(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayQueue(ctx, []library.Beat{beatA, beatB, beatC}, 1))
	eng.reset()

	renamed := beatB
	renamed.Title = "B (final)"
	c.RealignQueue([]library.Beat{beatC, renamed, beatA})

	v := c.View()
	assert.Equal(t, []int64{3, 2, 1}, library.IDs(v.Queue))
	assert.Equal(t, 1, v.Index)
	assert.Equal(t, "B (final)", v.NowPlaying.Title)
	assert.Empty(t, eng.ops(), "realigning never interrupts playback")

	// the current entry disappears: the cursor sits after C, the track keeps sounding
	c.RealignQueue([]library.Beat{beatC, beatA})
	v = c.View()
	assert.Equal(t, []int64{3, 1}, library.IDs(v.Queue))
	assert.Equal(t, 0, v.Index)
	assert.True(t, v.Detached)
	_, ok := v.Current()
	assert.False(t, ok)
	assert.Equal(t, beatB.FilePath, v.CommandedPath)
	assert.Equal(t, Playing, v.State)

	c.RealignQueue(nil)
	assert.Equal(t, -1, c.View().Index)
}

var beatD = library.Beat{ID: 4, Title: "D", Duration: "01:00", FilePath: "/beats/d.wav"}

func TestNextAfterCurrentRemovedPlaysFollower(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayQueue(ctx, []library.Beat{beatA, beatB, beatC, beatD}, 1))
	eng.reset()

	c.RealignQueue([]library.Beat{beatA, beatC, beatD})
	assert.Empty(t, eng.ops())

	require.NoError(t, c.Next(ctx))
	assert.Equal(t, []string{"stop", "play /beats/c.wav"}, eng.ops())
	v := c.View()
	assert.Equal(t, 1, v.Index)
	assert.False(t, v.Detached)
}

func TestPreviousAfterCurrentRemovedPlaysPredecessor(t *testing.T) {
	c, eng, clk := newTestController(Options{})
	require.NoError(t, c.PlayQueue(ctx, []library.Beat{beatA, beatB, beatC, beatD}, 1))
	clk.Advance(10 * time.Second)
	eng.reset()

	c.RealignQueue([]library.Beat{beatA, beatC, beatD})
	require.NoError(t, c.Previous(ctx))
	assert.Equal(t, []string{"stop", "play /beats/a.wav"}, eng.ops())
	assert.Equal(t, 0, c.View().Index)
}

func TestRemovingTheLastEntryLeavesNothingNext(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayQueue(ctx, []library.Beat{beatA, beatB}, 1))
	eng.reset()

	c.RealignQueue([]library.Beat{beatA})
	require.NoError(t, c.Next(ctx))
	assert.Empty(t, eng.ops())

	require.NoError(t, c.Previous(ctx))
	assert.Equal(t, []string{"stop", "play /beats/a.wav"}, eng.ops())
}

func TestRemovingTheFirstEntryThenPlayCurrent(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayQueue(ctx, []library.Beat{beatA, beatB}, 0))
	require.NoError(t, c.Stop(ctx))
	eng.reset()

	c.RealignQueue([]library.Beat{beatB})
	v := c.View()
	assert.Equal(t, -1, v.Index)
	assert.True(t, v.Detached)

	// a second realign keeps the cursor in place
	c.RealignQueue([]library.Beat{beatB, beatC})
	assert.Equal(t, -1, c.View().Index)

	require.NoError(t, c.PlayCurrent(ctx))
	assert.Equal(t, []string{"stop", "play /beats/b.wav"}, eng.ops())
	assert.Equal(t, 0, c.View().Index)
}

func TestFailedNextRestoresCursor(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayQueue(ctx, []library.Beat{beatA, beatB}, 0))
	eng.setFail("play", errors.New("DECODE"))

	assert.Error(t, c.Next(ctx))
	v := c.View()
	assert.Equal(t, Idle, v.State)
	assert.Equal(t, 0, v.Index)
	assert.Equal(t, beatA, v.NowPlaying)
	assert.Equal(t, beatA.FilePath, v.CommandedPath)

	eng.setFail("play", nil)
	eng.reset()
	require.NoError(t, c.Next(ctx))
	assert.Equal(t, []string{"stop", "play /beats/b.wav"}, eng.ops())
}

func TestFailedPreviousAfterRemovalStaysDetached(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayQueue(ctx, []library.Beat{beatA, beatB, beatC}, 1))
	c.RealignQueue([]library.Beat{beatA, beatC})
	eng.setFail("play", errors.New("FILE_NOT_FOUND"))

	assert.Error(t, c.Previous(ctx))
	v := c.View()
	assert.Equal(t, 0, v.Index)
	assert.True(t, v.Detached)
	assert.Equal(t, beatB.FilePath, v.CommandedPath)
}

// ===============================
// Reconciliation
// ===============================

func TestReconcileAppliesStatusThenDropsStale(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayRecord(ctx, beatA))

	eng.setStatus(spec.Status{Pos: 42, IsPlaying: true, Path: beatA.FilePath})
	require.NoError(t, c.Reconcile(ctx))
	v := c.View()
	assert.Equal(t, Playing, v.State)
	assert.Equal(t, 42.0, v.Position)
	assert.Equal(t, 42.0, v.LastReconciledPos)

	// a status request leaves, then a pause overtakes it
	gate := eng.holdStatus()
	drain(eng.statusEntered)
	eng.setStatus(spec.Status{Pos: 99, IsPlaying: true, Path: beatA.FilePath})

	done := make(chan error, 1)
	go func() { done <- c.Reconcile(ctx) }()
	<-eng.statusEntered

	require.NoError(t, c.Pause(ctx))
	close(gate)
	require.NoError(t, <-done)

	v = c.View()
	assert.Equal(t, Paused, v.State)
	assert.Equal(t, 42.0, v.Position)
}

func TestReconcileDropsOtherTrack(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayRecord(ctx, beatB))

	eng.setStatus(spec.Status{Pos: 150, IsPlaying: true, Path: beatA.FilePath})
	require.NoError(t, c.Reconcile(ctx))
	assert.Zero(t, c.Position())
}

func TestReconcileIgnoredWhileLoading(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	gate := eng.hold(beatA.FilePath)

	done := make(chan error, 1)
	go func() { done <- c.PlayRecord(ctx, beatA) }()
	<-eng.playEntered

	eng.setStatus(spec.Status{Pos: 17, IsPlaying: false})
	require.NoError(t, c.Reconcile(ctx))
	assert.Equal(t, Loading, c.View().State)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, Playing, c.View().State)
	assert.Zero(t, c.Position())
}

func TestReconcileMapsPlayingFlag(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayRecord(ctx, beatA))

	eng.setStatus(spec.Status{Pos: 8, IsPlaying: false, Path: beatA.FilePath})
	require.NoError(t, c.Reconcile(ctx))
	assert.Equal(t, Paused, c.View().State)

	eng.setStatus(spec.Status{Pos: 9, IsPlaying: true, Path: beatA.FilePath})
	require.NoError(t, c.Reconcile(ctx))
	assert.Equal(t, Playing, c.View().State)
	assert.Equal(t, 9.0, c.Position())
}

func TestReconcileOnIdleEngineStaysIdle(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	log := &eventLog{}
	c.Subscribe(log.listen)

	require.NoError(t, c.Reconcile(ctx))
	require.NoError(t, c.Reconcile(ctx))
	assert.Equal(t, Idle, c.View().State)
	assert.Zero(t, log.count(Changed))
	assert.Empty(t, eng.ops())
}

func TestReconcilePublishesOnlyOnChange(t *testing.T) {
	c, eng, clk := newTestController(Options{})
	require.NoError(t, c.PlayRecord(ctx, beatA))
	log := &eventLog{}
	c.Subscribe(log.listen)

	eng.setStatus(spec.Status{Pos: 42, IsPlaying: true, Path: beatA.FilePath})
	require.NoError(t, c.Reconcile(ctx))
	require.NoError(t, c.Reconcile(ctx))
	assert.Equal(t, 1, log.count(Changed))

	clk.Advance(time.Second)
	eng.setStatus(spec.Status{Pos: 43, IsPlaying: true, Path: beatA.FilePath})
	require.NoError(t, c.Reconcile(ctx))
	assert.Equal(t, 2, log.count(Changed))
}

func TestReconcileSurvivesBadStatus(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayRecord(ctx, beatA))

	eng.mu.Lock()
	eng.stErr = errors.New("decode status: unexpected end of JSON input")
	eng.mu.Unlock()
	assert.Error(t, c.Reconcile(ctx))
	assert.Equal(t, Playing, c.View().State)

	eng.mu.Lock()
	eng.stErr = nil
	eng.status = spec.Status{Pos: -12, IsPlaying: true, Path: beatA.FilePath}
	eng.mu.Unlock()
	require.NoError(t, c.Reconcile(ctx))
	assert.Zero(t, c.Position())
}

func TestReconcileFillsMissingDuration(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	odd := library.Beat{ID: 9, FilePath: "/beats/odd.wav", Duration: "??"}
	require.NoError(t, c.PlayRecord(ctx, odd))

	eng.setStatus(spec.Status{Pos: 3, IsPlaying: true, Path: odd.FilePath, Duration: 95})
	require.NoError(t, c.Reconcile(ctx))
	assert.Equal(t, 95.0, c.View().Duration)
}

func TestReconcileEndedAutoAdvances(t *testing.T) {
	c, eng, _ := newTestController(Options{AutoAdvance: true})
	require.NoError(t, c.PlayQueue(ctx, []library.Beat{beatA, beatB}, 0))
	eng.reset()

	eng.setStatus(spec.Status{Pos: 180, Ended: true, Path: beatA.FilePath})
	require.NoError(t, c.Reconcile(ctx))
	assert.Equal(t, []string{"stop", "play /beats/b.wav"}, eng.ops())
	assert.Equal(t, 1, c.View().Index)

	eng.reset()
	eng.setStatus(spec.Status{Pos: 200, Ended: true, Path: beatB.FilePath})
	require.NoError(t, c.Reconcile(ctx))
	assert.Empty(t, eng.ops())
	v := c.View()
	assert.Equal(t, Idle, v.State)
	assert.False(t, v.DesiredPlaying)
}

func TestReconcileEndedWithoutAutoAdvance(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	require.NoError(t, c.PlayQueue(ctx, []library.Beat{beatA, beatB}, 0))
	eng.reset()

	eng.setStatus(spec.Status{Pos: 180, Ended: true, Path: beatA.FilePath})
	require.NoError(t, c.Reconcile(ctx))
	assert.Empty(t, eng.ops())
	assert.Equal(t, Idle, c.View().State)
	assert.Equal(t, 0, c.View().Index)
}

func TestRunPollsUntilCancelled(t *testing.T) {
	eng := newFakeEngine()
	c := New(eng, Options{ReconcileInterval: 5 * time.Millisecond})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()

	<-eng.statusEntered
	<-eng.statusEntered
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
