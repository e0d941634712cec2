/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

package store

import (
	"context"

	"beatbank/internal/library"
)

// LibraryView scopes Fetch and SaveOrder to the whole library.
type LibraryView struct {
	Store Store
}

func (v LibraryView) Fetch(ctx context.Context) ([]library.Beat, error) {
	return v.Store.FetchBeats(ctx)
}

func (v LibraryView) SaveOrder(ctx context.Context, pairs []library.RowOrder) error {
	return v.Store.UpdateOrder(ctx, pairs)
}

func (v LibraryView) String() string { return "library" }

// SetView scopes Fetch and SaveOrder to one set's own order.
type SetView struct {
	Store Store
	Set   library.Set
}

func (v SetView) Fetch(ctx context.Context) ([]library.Beat, error) {
	return v.Store.FetchSetBeats(ctx, v.Set.ID)
}

func (v SetView) SaveOrder(ctx context.Context, pairs []library.RowOrder) error {
	return v.Store.UpdateSetOrder(ctx, v.Set.ID, pairs)
}

func (v SetView) String() string { return "set " + v.Set.Name }
