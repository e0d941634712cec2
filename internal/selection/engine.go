/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

// Package selection keeps the visible row order and the multi-row
// selection of a beat table, and persists drag reordering.
package selection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"beatbank/internal/library"
	"beatbank/internal/logger"
)

// Source loads rows and stores a new order for them. store.LibraryView and
// store.SetView satisfy it.
type Source interface {
	Fetch(ctx context.Context) ([]library.Beat, error)
	SaveOrder(ctx context.Context, pairs []library.RowOrder) error
}

// Modifiers held during a click.
type Modifiers struct {
	Ctrl  bool
	Shift bool
}

type EventKind int

const (
	SelectionChanged EventKind = iota
	OrderChanged
	OrderSaved
	OrderSaveFailed
	Activated
)

func (k EventKind) String() string {
	switch k {
	case SelectionChanged:
		return "selection"
	case OrderChanged:
		return "order"
	case OrderSaved:
		return "order-saved"
	case OrderSaveFailed:
		return "order-save-failed"
	case Activated:
		return "activated"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is delivered to listeners after the engine's lock is released.
type Event struct {
	Kind     EventKind
	Selected []int64
	Anchor   int64
	Rows     []library.Beat
	// Beat is set for Activated.
	Beat library.Beat
	// Err is set for OrderSaveFailed.
	Err error
}

type Listener func(Event)

// Engine owns the rows of one table. Methods are safe for concurrent use,
// though a single UI goroutine is the expected caller.
type Engine struct {
	src Source

	mu        sync.Mutex
	all       []library.Beat
	rows      []library.Beat
	selected  map[int64]bool
	anchor    int64
	hasAnchor bool
	query     string
	listeners []Listener

	saveMu  sync.Mutex
	saveGen atomic.Uint64
	pending sync.WaitGroup
}

func New(src Source) *Engine {
	return &Engine{src: src, selected: make(map[int64]bool)}
}

// Subscribe adds a listener. Listeners run synchronously on the goroutine
// that caused the event, or on the persistence goroutine for save results.
func (e *Engine) Subscribe(l Listener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

func (e *Engine) emit(ev Event) {
	e.mu.Lock()
	ls := append([]Listener(nil), e.listeners...)
	e.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

// Source returns the source rows are loaded from.
func (e *Engine) Source() Source { return e.src }

// Load replaces the rows with a fresh fetch. Selected ids that are gone or
// filtered out are dropped.
func (e *Engine) Load(ctx context.Context) error {
	beats, err := e.src.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("load rows: %w", err)
	}

	e.mu.Lock()
	e.all = beats
	e.refreshLocked()
	if e.hasAnchor && indexOf(e.all, e.anchor) < 0 {
		e.anchor, e.hasAnchor = 0, false
	}
	ev := e.snapshotLocked(OrderChanged)
	e.mu.Unlock()

	e.emit(ev)
	return nil
}

// refreshLocked rebuilds the visible rows from all and the filter query,
// pruning the selection to what is still visible.
func (e *Engine) refreshLocked() {
	rows := make([]library.Beat, 0, len(e.all))
	for _, b := range e.all {
		if b.Matches(e.query) {
			rows = append(rows, b)
		}
	}
	e.rows = rows

	for id := range e.selected {
		if indexOf(e.rows, id) < 0 {
			delete(e.selected, id)
		}
	}
}

func (e *Engine) snapshotLocked(kind EventKind) Event {
	return Event{
		Kind:     kind,
		Selected: e.selectedLocked(),
		Anchor:   e.anchor,
		Rows:     append([]library.Beat(nil), e.rows...),
	}
}

func (e *Engine) selectedLocked() []int64 {
	out := make([]int64, 0, len(e.selected))
	for _, b := range e.rows {
		if e.selected[b.ID] {
			out = append(out, b.ID)
		}
	}
	return out
}

// Rows returns a copy of the visible rows in display order.
func (e *Engine) Rows() []library.Beat {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]library.Beat(nil), e.rows...)
}

// Row looks up a visible row.
func (e *Engine) Row(id int64) (library.Beat, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := indexOf(e.rows, id); i >= 0 {
		return e.rows[i], true
	}
	return library.Beat{}, false
}

// Selected returns the selected ids in display order.
func (e *Engine) Selected() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selectedLocked()
}

// Anchor returns the shift-range anchor.
func (e *Engine) Anchor() (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.anchor, e.hasAnchor
}

// Select applies a click on row id. Unknown or hidden ids are ignored.
func (e *Engine) Select(id int64, mod Modifiers) {
	e.mu.Lock()
	pos := indexOf(e.rows, id)
	if pos < 0 {
		e.mu.Unlock()
		return
	}

	activated := false
	switch {
	case mod.Shift && e.hasAnchor && indexOf(e.rows, e.anchor) >= 0:
		a := indexOf(e.rows, e.anchor)
		lo, hi := a, pos
		if lo > hi {
			lo, hi = hi, lo
		}
		e.selected = make(map[int64]bool, hi-lo+1)
		for _, b := range e.rows[lo : hi+1] {
			e.selected[b.ID] = true
		}
	case mod.Ctrl && !mod.Shift:
		if e.selected[id] {
			delete(e.selected, id)
		} else {
			e.selected[id] = true
		}
		e.anchor, e.hasAnchor = id, true
	default:
		e.selected = map[int64]bool{id: true}
		e.anchor, e.hasAnchor = id, true
		activated = true
	}

	ev := e.snapshotLocked(SelectionChanged)
	beat := e.rows[pos]
	e.mu.Unlock()

	e.emit(ev)
	if activated {
		e.emit(Event{Kind: Activated, Beat: beat, Selected: ev.Selected, Anchor: ev.Anchor})
	}
}

// SelectAll selects every visible row. The anchor is kept.
func (e *Engine) SelectAll() {
	e.mu.Lock()
	e.selected = make(map[int64]bool, len(e.rows))
	for _, b := range e.rows {
		e.selected[b.ID] = true
	}
	ev := e.snapshotLocked(SelectionChanged)
	e.mu.Unlock()
	e.emit(ev)
}

// ClearSelection empties the selection and forgets the anchor.
func (e *Engine) ClearSelection() {
	e.mu.Lock()
	e.selected = make(map[int64]bool)
	e.anchor, e.hasAnchor = 0, false
	ev := e.snapshotLocked(SelectionChanged)
	e.mu.Unlock()
	e.emit(ev)
}

// Filter shows only rows whose title, artist or key contain q.
func (e *Engine) Filter(q string) {
	e.mu.Lock()
	e.query = q
	e.refreshLocked()
	ev := e.snapshotLocked(OrderChanged)
	e.mu.Unlock()
	e.emit(ev)
}

// SortBy re-sorts rows in memory. The new order is not persisted unless a
// later drag saves it.
func (e *Engine) SortBy(col string, desc bool) error {
	e.mu.Lock()
	all := append([]library.Beat(nil), e.all...)
	if err := library.Sort(all, col, desc); err != nil {
		e.mu.Unlock()
		return err
	}
	e.all = all
	e.refreshLocked()
	ev := e.snapshotLocked(OrderChanged)
	e.mu.Unlock()
	e.emit(ev)
	return nil
}

// Reorder moves the dragged row fromID to the position of the row it was
// dropped on, shifting the rows in between by one. The move is applied at
// once and never rolled back; the full resulting order is saved in the
// background. moved is false for a no-op. done yields the save result; a
// save overtaken by a newer one reports nil without writing.
func (e *Engine) Reorder(ctx context.Context, fromID, toID int64) (moved bool, done <-chan error) {
	e.mu.Lock()
	if fromID == toID || indexOf(e.rows, fromID) < 0 || indexOf(e.rows, toID) < 0 {
		e.mu.Unlock()
		return false, closedErr()
	}

	from, to := indexOf(e.all, fromID), indexOf(e.all, toID)
	e.all = move(e.all, from, to)
	e.refreshLocked()
	order := library.OrderOf(e.all)
	ev := e.snapshotLocked(OrderChanged)
	e.mu.Unlock()

	e.emit(ev)
	return true, e.persist(ctx, order)
}

func (e *Engine) persist(ctx context.Context, order []library.RowOrder) <-chan error {
	gen := e.saveGen.Add(1)
	done := make(chan error, 1)
	ctx = context.WithoutCancel(ctx)

	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		defer close(done)

		e.saveMu.Lock()
		defer e.saveMu.Unlock()

		if e.saveGen.Load() != gen {
			done <- nil
			return
		}

		if err := e.src.SaveOrder(ctx, order); err != nil {
			err = fmt.Errorf("save row order: %w", err)
			logger.Warn("row order not saved", logger.ErrorField(err), logger.Int("rows", len(order)))
			e.emit(Event{Kind: OrderSaveFailed, Err: err})
			done <- err
			return
		}
		logger.Debug("row order saved", logger.Int("rows", len(order)))
		e.emit(Event{Kind: OrderSaved})
		done <- nil
	}()
	return done
}

// Wait blocks until every started save has finished.
func (e *Engine) Wait() {
	e.pending.Wait()
}

// move removes s[from] and reinserts it at index to.
func move(s []library.Beat, from, to int) []library.Beat {
	out := make([]library.Beat, 0, len(s))
	out = append(out, s[:from]...)
	out = append(out, s[from+1:]...)
	item := s[from]
	out = append(out[:to], append([]library.Beat{item}, out[to:]...)...)
	return out
}

func indexOf(s []library.Beat, id int64) int {
	for i, b := range s {
		if b.ID == id {
			return i
		}
	}
	return -1
}

func closedErr() <-chan error {
	ch := make(chan error)
	close(ch)
	return ch
}
