/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

// Package store persists beats, sets, row order and column visibility.
package store

import (
	"context"
	"errors"

	"beatbank/internal/library"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Store is the record store seen by the rest of the application.
type Store interface {
	FetchBeats(ctx context.Context) ([]library.Beat, error)
	FetchBeat(ctx context.Context, id int64) (library.Beat, error)
	InsertBeat(ctx context.Context, b library.Beat) (int64, error)
	UpdateBeat(ctx context.Context, patch library.BeatPatch) error
	DeleteBeat(ctx context.Context, id int64) error
	UpdateOrder(ctx context.Context, pairs []library.RowOrder) error

	FetchSets(ctx context.Context) ([]library.Set, error)
	CreateSet(ctx context.Context, name string) (library.Set, error)
	DeleteSet(ctx context.Context, id int64) error
	FetchSetBeats(ctx context.Context, setID int64) ([]library.Beat, error)
	AddToSet(ctx context.Context, setID int64, beatIDs ...int64) error
	RemoveFromSet(ctx context.Context, setID int64, beatIDs ...int64) error
	UpdateSetOrder(ctx context.Context, setID int64, pairs []library.RowOrder) error

	FetchColumnVisibility(ctx context.Context) (library.ColumnVisibility, error)
	SaveColumnVisibility(ctx context.Context, cv library.ColumnVisibility) error

	Close() error
}
