/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

package playback

import (
	"context"
	"sort"

	"beatbank/internal/library"
)

// Enqueue appends beat to the queue. A beat already queued is not added
// twice.
func (c *Controller) Enqueue(beat library.Beat) bool {
	c.mu.Lock()
	if indexOf(c.queue, beat.ID) >= 0 {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, beat)
	if c.index < 0 && !c.detached {
		c.index = 0
	}
	c.mu.Unlock()
	c.changed()
	return true
}

// SetQueue replaces the queue without touching the engine. index is clamped
// into range.
func (c *Controller) SetQueue(beats []library.Beat, index int) {
	c.mu.Lock()
	c.setQueueLocked(beats, index)
	c.mu.Unlock()
	c.changed()
}

func (c *Controller) setQueueLocked(beats []library.Beat, index int) {
	c.queue = append([]library.Beat(nil), beats...)
	c.queueGen++
	c.detached = false
	switch {
	case len(c.queue) == 0:
		c.index = -1
	case index < 0:
		c.index = 0
	case index >= len(c.queue):
		c.index = len(c.queue) - 1
	default:
		c.index = index
	}
}

// PlayQueue replaces the queue and plays the entry at index.
func (c *Controller) PlayQueue(ctx context.Context, beats []library.Beat, index int) error {
	c.mu.Lock()
	c.markUndoLocked()
	c.setQueueLocked(beats, index)
	if c.index < 0 {
		c.mu.Unlock()
		return ErrNoQueue
	}
	beat := c.queue[c.index]
	if beat.FilePath == "" {
		c.mu.Unlock()
		return ErrEmptyPath
	}
	intent := c.beginPlayLocked(beat)
	c.mu.Unlock()

	return c.runPlay(ctx, intent, beat)
}

// RealignQueue keeps the queue a subsequence of visible: entries no longer
// visible are dropped, the rest follow visible's order and take its
// (possibly edited) copies. The index follows the current entry. If that
// entry is gone the cursor detaches and sits between the surviving
// neighbours, so Next plays the entry that followed it and Previous the
// one before. The sounding track is never interrupted.
func (c *Controller) RealignQueue(visible []library.Beat) {
	pos := make(map[int64]int, len(visible))
	for i, b := range visible {
		pos[b.ID] = i
	}

	c.mu.Lock()
	var curID int64
	hasCur := !c.detached && c.index >= 0 && c.index < len(c.queue)
	if hasCur {
		curID = c.queue[c.index].ID
	}

	// slot counts the survivors ahead of the cursor
	kept := make([]library.Beat, 0, len(c.queue))
	slot := 0
	for i, b := range c.queue {
		j, ok := pos[b.ID]
		if !ok {
			continue
		}
		kept = append(kept, visible[j])
		if i < c.index || (c.detached && i == c.index) {
			slot++
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return pos[kept[i].ID] < pos[kept[j].ID] })

	switch i := indexOf(kept, curID); {
	case hasCur && i >= 0:
		c.setQueueLocked(kept, i)
	case (hasCur || c.detached) && len(kept) > 0:
		c.setQueueLocked(kept, 0)
		c.index = slot - 1
		c.detached = true
	default:
		c.setQueueLocked(kept, c.index)
	}

	if i, ok := pos[c.nowPlaying.ID]; ok && c.nowPlaying.ID != 0 {
		c.nowPlaying = visible[i]
	}
	c.mu.Unlock()
	c.changed()
}
