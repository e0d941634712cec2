/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

package playback

import (
	"context"
	"fmt"
	"math"
	"time"

	"beatbank/internal/logger"
)

// Reconcile polls the engine once and overwrites the local position and
// playing state with its answer. Replies older than the last issued
// command, replies naming another track, and replies arriving while a
// track is loading are discarded.
func (c *Controller) Reconcile(ctx context.Context) error {
	seq := c.seq.Add(1)
	sctx := ctx
	if c.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, c.opts.CommandTimeout)
		defer cancel()
	}

	st, err := c.eng.Status(sctx, seq)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	st = st.Sanitize()

	c.mu.Lock()
	if seq < c.fence {
		c.mu.Unlock()
		logger.Debug("stale status dropped", logger.Uint64("seq", seq))
		return nil
	}
	if c.state == Loading || (st.Path != "" && st.Path != c.commandedPath) {
		c.mu.Unlock()
		return nil
	}

	now := c.opts.Clock()
	c.lastReconciledPos = st.Pos
	c.lastReconciledAt = now
	if !c.previewing {
		c.setPosLocked(st.Pos)
	}
	if c.durationBound == 0 && st.Duration > 0 {
		c.durationBound = st.Duration
	}

	advance := false
	switch {
	case st.Ended && c.state != Idle:
		advance = c.opts.AutoAdvance && c.desiredPlaying && c.index+1 < len(c.queue)
		if !advance {
			c.state = Idle
			c.desiredPlaying = false
			c.setPosLocked(0)
		}
	case st.IsPlaying:
		c.state = Playing
	case c.state == Playing:
		c.state = Paused
	}

	v := c.viewLocked()
	dirty := !sameView(v, c.published)
	if dirty {
		c.published = v
	}
	c.mu.Unlock()

	if dirty {
		c.publish(Event{Kind: Changed, View: v})
	}
	if advance {
		logger.Debug("track ended, advancing")
		return c.Next(ctx)
	}
	return nil
}

// sameView compares the fields reconciliation can change. Positions are
// compared at display resolution.
func sameView(a, b View) bool {
	return a.State == b.State &&
		a.DesiredPlaying == b.DesiredPlaying &&
		a.Duration == b.Duration &&
		math.Floor(a.Position) == math.Floor(b.Position)
}

// Run reconciles on every interval until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	t := time.NewTicker(c.opts.ReconcileInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := c.Reconcile(ctx); err != nil {
				logger.Debug("reconcile failed", logger.ErrorField(err))
			}
		}
	}
}
