/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"beatbank/internal/library"
	"beatbank/internal/logger"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

const schema = `
create table if not exists beats (
	id          integer primary key autoincrement,
	title       text not null,
	bpm         real not null default 0,
	musical_key text not null default '',
	duration    text not null default '00:00',
	artist      text not null default '',
	date_added  datetime not null,
	file_path   text not null,
	checksum    text,
	row_number  integer not null default 0
);
create unique index if not exists beats_checksum on beats(checksum) where checksum is not null;
create index if not exists beats_row_number on beats(row_number);

create table if not exists sets (
	id   integer primary key autoincrement,
	name text not null unique
);

create table if not exists set_beats (
	set_id     integer not null references sets(id) on delete cascade,
	beat_id    integer not null references beats(id) on delete cascade,
	row_number integer not null,
	primary key (set_id, beat_id)
);

create table if not exists column_visibility (
	id          integer primary key check (id = 1),
	title       boolean not null,
	bpm         boolean not null,
	musical_key boolean not null,
	duration    boolean not null,
	artist      boolean not null,
	date_added  boolean not null,
	file_path   boolean not null
);`

const beatColumns = `b.id, b.title, b.bpm, b.musical_key, b.duration, b.artist, b.date_added,
	b.file_path, coalesce(b.checksum, '') as checksum`

// SQLiteStore is the sqlx/sqlite3 backed Store.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	logger.Debug("store opened", logger.String("path", path))
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUnique(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// ===============================
// Beats
// ===============================

func (s *SQLiteStore) FetchBeats(ctx context.Context) ([]library.Beat, error) {
	beats := make([]library.Beat, 0)
	err := s.db.SelectContext(ctx, &beats,
		`select `+beatColumns+` from beats as b order by b.row_number, b.id`)
	if err != nil {
		return nil, fmt.Errorf("fetch beats: %w", err)
	}
	return beats, nil
}

func (s *SQLiteStore) FetchBeat(ctx context.Context, id int64) (library.Beat, error) {
	var b library.Beat
	err := s.db.GetContext(ctx, &b, `select `+beatColumns+` from beats as b where b.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	if err != nil {
		return b, fmt.Errorf("fetch beat %d: %w", id, err)
	}
	return b, nil
}

// InsertBeat appends b at the end of the library order.
func (s *SQLiteStore) InsertBeat(ctx context.Context, b library.Beat) (int64, error) {
	if b.DateAdded.IsZero() {
		b.DateAdded = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
	  insert into beats (title, bpm, musical_key, duration, artist, date_added, file_path, checksum, row_number)
	  values (?, ?, ?, ?, ?, ?, ?, ?, (select coalesce(max(row_number), 0) + 1 from beats));`,
		b.Title, library.RoundBPM(b.BPM), b.Key, b.Duration, b.Artist, b.DateAdded.UTC(),
		b.FilePath, nullIfEmpty(b.Checksum),
	)
	if isUnique(err) {
		return 0, ErrDuplicate
	}
	if err != nil {
		return 0, fmt.Errorf("insert beat: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateBeat(ctx context.Context, patch library.BeatPatch) error {
	if patch.Empty() {
		return nil
	}

	var (
		sets []string
		args []interface{}
	)
	add := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.BPM != nil {
		add("bpm", library.RoundBPM(*patch.BPM))
	}
	if patch.Key != nil {
		add("musical_key", *patch.Key)
	}
	if patch.Duration != nil {
		add("duration", *patch.Duration)
	}
	if patch.Artist != nil {
		add("artist", *patch.Artist)
	}
	if patch.FilePath != nil {
		add("file_path", *patch.FilePath)
	}
	args = append(args, patch.ID)

	res, err := s.db.ExecContext(ctx,
		`update beats set `+strings.Join(sets, ", ")+` where id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update beat %d: %w", patch.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBeat removes the beat and its set membership, then closes the gaps
// it leaves in every affected order.
func (s *SQLiteStore) DeleteBeat(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var setIDs []int64
		if err := tx.SelectContext(ctx, &setIDs,
			`select set_id from set_beats where beat_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `delete from set_beats where beat_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `delete from beats where id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if err := compactLibrary(ctx, tx); err != nil {
			return err
		}
		for _, sid := range setIDs {
			if err := compactSet(ctx, tx, sid); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateOrder writes all pairs in one transaction.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, pairs []library.RowOrder) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, `update beats set row_number = ? where id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range pairs {
			if _, err := stmt.ExecContext(ctx, p.RowNumber, p.RowID); err != nil {
				return fmt.Errorf("row %d: %w", p.RowID, err)
			}
		}
		return nil
	})
}

// ===============================
// Sets
// ===============================

func (s *SQLiteStore) FetchSets(ctx context.Context) ([]library.Set, error) {
	sets := make([]library.Set, 0)
	if err := s.db.SelectContext(ctx, &sets, `select id, name from sets order by name, id`); err != nil {
		return nil, fmt.Errorf("fetch sets: %w", err)
	}
	return sets, nil
}

func (s *SQLiteStore) CreateSet(ctx context.Context, name string) (library.Set, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return library.Set{}, errors.New("set name is empty")
	}
	res, err := s.db.ExecContext(ctx, `insert into sets (name) values (?)`, name)
	if isUnique(err) {
		return library.Set{}, ErrDuplicate
	}
	if err != nil {
		return library.Set{}, fmt.Errorf("create set: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return library.Set{}, err
	}
	return library.Set{ID: id, Name: name}, nil
}

func (s *SQLiteStore) DeleteSet(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `delete from set_beats where set_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `delete from sets where id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLiteStore) FetchSetBeats(ctx context.Context, setID int64) ([]library.Beat, error) {
	beats := make([]library.Beat, 0)
	err := s.db.SelectContext(ctx, &beats, `
	  select `+beatColumns+`
	  from set_beats as sb join beats as b on b.id = sb.beat_id
	  where sb.set_id = ?
	  order by sb.row_number, b.id`, setID)
	if err != nil {
		return nil, fmt.Errorf("fetch set %d: %w", setID, err)
	}
	return beats, nil
}

// AddToSet appends beats to the end of the set. Members are not duplicated.
func (s *SQLiteStore) AddToSet(ctx context.Context, setID int64, beatIDs ...int64) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var exists int
		if err := tx.GetContext(ctx, &exists, `select count(*) from sets where id = ?`, setID); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		for _, id := range beatIDs {
			_, err := tx.ExecContext(ctx, `
			  insert or ignore into set_beats (set_id, beat_id, row_number)
			  values (?, ?, (select coalesce(max(row_number), 0) + 1 from set_beats where set_id = ?))`,
				setID, id, setID)
			if err != nil {
				var se sqlite3.Error
				if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
					return fmt.Errorf("beat %d: %w", id, ErrNotFound)
				}
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) RemoveFromSet(ctx context.Context, setID int64, beatIDs ...int64) error {
	if len(beatIDs) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		query, args, err := sqlx.In(`delete from set_beats where set_id = ? and beat_id in (?)`, setID, beatIDs)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return err
		}
		return compactSet(ctx, tx, setID)
	})
}

func (s *SQLiteStore) UpdateSetOrder(ctx context.Context, setID int64, pairs []library.RowOrder) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx,
			`update set_beats set row_number = ? where set_id = ? and beat_id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range pairs {
			if _, err := stmt.ExecContext(ctx, p.RowNumber, setID, p.RowID); err != nil {
				return fmt.Errorf("row %d: %w", p.RowID, err)
			}
		}
		return nil
	})
}

// ===============================
// Column visibility
// ===============================

func (s *SQLiteStore) FetchColumnVisibility(ctx context.Context) (library.ColumnVisibility, error) {
	var cv library.ColumnVisibility
	err := s.db.GetContext(ctx, &cv, `
	  select title, bpm, musical_key, duration, artist, date_added, file_path
	  from column_visibility where id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return library.DefaultColumnVisibility(), nil
	}
	if err != nil {
		return cv, fmt.Errorf("fetch column visibility: %w", err)
	}
	return cv, nil
}

func (s *SQLiteStore) SaveColumnVisibility(ctx context.Context, cv library.ColumnVisibility) error {
	_, err := s.db.NamedExecContext(ctx, `
	  insert into column_visibility (id, title, bpm, musical_key, duration, artist, date_added, file_path)
	  values (1, :title, :bpm, :musical_key, :duration, :artist, :date_added, :file_path)
	  on conflict(id) do update set
	    title = excluded.title, bpm = excluded.bpm, musical_key = excluded.musical_key,
	    duration = excluded.duration, artist = excluded.artist,
	    date_added = excluded.date_added, file_path = excluded.file_path`, cv)
	if err != nil {
		return fmt.Errorf("save column visibility: %w", err)
	}
	return nil
}

// ===============================
// helpers
// ===============================

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func compactLibrary(ctx context.Context, tx *sqlx.Tx) error {
	var ids []int64
	if err := tx.SelectContext(ctx, &ids, `select id from beats order by row_number, id`); err != nil {
		return err
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `update beats set row_number = ? where id = ?`, i+1, id); err != nil {
			return err
		}
	}
	return nil
}

func compactSet(ctx context.Context, tx *sqlx.Tx, setID int64) error {
	var ids []int64
	if err := tx.SelectContext(ctx, &ids,
		`select beat_id from set_beats where set_id = ? order by row_number, beat_id`, setID); err != nil {
		return err
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`update set_beats set row_number = ? where set_id = ? and beat_id = ?`, i+1, setID, id); err != nil {
			return err
		}
	}
	return nil
}
