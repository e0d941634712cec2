/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

// Package library holds the beat record types shared by the store, the
// selection engine and the playback controller.
package library

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Beat is one audio asset in the library.
type Beat struct {
	ID        int64     `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	BPM       float64   `db:"bpm" json:"bpm"`
	Key       string    `db:"musical_key" json:"key"`
	Duration  string    `db:"duration" json:"duration"`
	Artist    string    `db:"artist" json:"artist"`
	DateAdded time.Time `db:"date_added" json:"date_added"`
	FilePath  string    `db:"file_path" json:"file_path"`
	Checksum  string    `db:"checksum" json:"-"`
}

// Seconds returns the total length parsed from Duration.
func (b Beat) Seconds() float64 {
	return DurationSeconds(b.Duration)
}

// DurationSeconds parses "mm:ss" into seconds. Anything malformed yields 0.
func DurationSeconds(s string) float64 {
	secs, _ := ParseDuration(s)
	return secs
}

// ParseDuration reads "minutes:seconds" with seconds below 60. ok is false
// when s is not of that shape, so "0:00" is a valid zero.
func ParseDuration(s string) (float64, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || !digits(parts[0]) || !digits(parts[1]) {
		return 0, false
	}
	m, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	sec, err := strconv.Atoi(parts[1])
	if err != nil || sec >= 60 {
		return 0, false
	}
	return float64(m*60 + sec), true
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FormatDuration renders seconds as "mm:ss".
func FormatDuration(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return "00:00"
	}
	total := int(math.Round(seconds))
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// RoundBPM keeps two decimals.
func RoundBPM(bpm float64) float64 {
	return math.Round(bpm*100) / 100
}

// RowOrder is one persisted position. RowID travels as a string on the wire.
type RowOrder struct {
	RowID     int64 `json:"row_id,string" db:"id"`
	RowNumber int   `json:"row_number" db:"row_number"`
}

// OrderOf numbers beats 1..n in slice order.
func OrderOf(beats []Beat) []RowOrder {
	out := make([]RowOrder, len(beats))
	for i, b := range beats {
		out[i] = RowOrder{RowID: b.ID, RowNumber: i + 1}
	}
	return out
}

// IDs returns the ids of beats in order.
func IDs(beats []Beat) []int64 {
	out := make([]int64, len(beats))
	for i, b := range beats {
		out[i] = b.ID
	}
	return out
}

// BeatPatch carries an edit. Nil fields are left untouched.
type BeatPatch struct {
	ID       int64
	Title    *string
	BPM      *float64
	Key      *string
	Duration *string
	Artist   *string
	FilePath *string
}

// Empty reports whether the patch changes nothing.
func (p BeatPatch) Empty() bool {
	return p.Title == nil && p.BPM == nil && p.Key == nil &&
		p.Duration == nil && p.Artist == nil && p.FilePath == nil
}

// Apply returns b with the patch applied.
func (p BeatPatch) Apply(b Beat) Beat {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.BPM != nil {
		b.BPM = RoundBPM(*p.BPM)
	}
	if p.Key != nil {
		b.Key = *p.Key
	}
	if p.Duration != nil {
		b.Duration = *p.Duration
	}
	if p.Artist != nil {
		b.Artist = *p.Artist
	}
	if p.FilePath != nil {
		b.FilePath = *p.FilePath
	}
	return b
}

// PatchField builds a single-field patch from a column name and raw text,
// the way the edit form sends it.
func PatchField(id int64, field, value string) (BeatPatch, error) {
	p := BeatPatch{ID: id}
	switch strings.ToLower(field) {
	case ColTitle:
		p.Title = &value
	case ColBPM:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v <= 0 {
			return p, fmt.Errorf("bpm must be a positive number: %q", value)
		}
		v = RoundBPM(v)
		p.BPM = &v
	case ColKey:
		p.Key = &value
	case ColDuration:
		if _, ok := ParseDuration(value); !ok {
			return p, fmt.Errorf("duration must be mm:ss: %q", value)
		}
		p.Duration = &value
	case ColArtist:
		p.Artist = &value
	case ColFilePath:
		p.FilePath = &value
	default:
		return p, fmt.Errorf("unknown field %q", field)
	}
	return p, nil
}

// Set is a named, separately ordered group of beats.
type Set struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Column names as used by sorting, editing and visibility.
const (
	ColTitle     = "title"
	ColBPM       = "bpm"
	ColKey       = "key"
	ColDuration  = "duration"
	ColArtist    = "artist"
	ColDateAdded = "date_added"
	ColFilePath  = "file_path"
)

// Columns lists the table columns in display order.
var Columns = []string{ColTitle, ColBPM, ColKey, ColDuration, ColArtist, ColDateAdded, ColFilePath}

// ColumnVisibility records which table columns are shown.
type ColumnVisibility struct {
	Title     bool `db:"title" json:"title"`
	BPM       bool `db:"bpm" json:"bpm"`
	Key       bool `db:"musical_key" json:"key"`
	Duration  bool `db:"duration" json:"duration"`
	Artist    bool `db:"artist" json:"artist"`
	DateAdded bool `db:"date_added" json:"date_added"`
	FilePath  bool `db:"file_path" json:"file_path"`
}

// DefaultColumnVisibility is what a fresh library shows.
func DefaultColumnVisibility() ColumnVisibility {
	return ColumnVisibility{Title: true, BPM: true, Key: true, Duration: true}
}

// Visible returns the shown columns in display order.
func (c ColumnVisibility) Visible() []string {
	flags := map[string]bool{
		ColTitle: c.Title, ColBPM: c.BPM, ColKey: c.Key, ColDuration: c.Duration,
		ColArtist: c.Artist, ColDateAdded: c.DateAdded, ColFilePath: c.FilePath,
	}
	var out []string
	for _, col := range Columns {
		if flags[col] {
			out = append(out, col)
		}
	}
	return out
}

// Toggle flips one column by name.
func (c *ColumnVisibility) Toggle(col string) error {
	switch strings.ToLower(col) {
	case ColTitle:
		c.Title = !c.Title
	case ColBPM:
		c.BPM = !c.BPM
	case ColKey:
		c.Key = !c.Key
	case ColDuration:
		c.Duration = !c.Duration
	case ColArtist:
		c.Artist = !c.Artist
	case ColDateAdded:
		c.DateAdded = !c.DateAdded
	case ColFilePath:
		c.FilePath = !c.FilePath
	default:
		return fmt.Errorf("unknown column %q", col)
	}
	return nil
}

// Field returns the display text of one column.
func (b Beat) Field(col string) string {
	switch col {
	case ColTitle:
		return b.Title
	case ColBPM:
		return strconv.FormatFloat(b.BPM, 'f', -1, 64)
	case ColKey:
		return b.Key
	case ColDuration:
		return b.Duration
	case ColArtist:
		return b.Artist
	case ColDateAdded:
		if b.DateAdded.IsZero() {
			return ""
		}
		return b.DateAdded.Format("2006-01-02")
	case ColFilePath:
		return b.FilePath
	}
	return ""
}

// Sort orders beats in place by a column. Ties keep their relative order.
func Sort(beats []Beat, col string, desc bool) error {
	var less func(a, b Beat) bool
	switch strings.ToLower(col) {
	case ColTitle:
		less = func(a, b Beat) bool { return strings.ToLower(a.Title) < strings.ToLower(b.Title) }
	case ColBPM:
		less = func(a, b Beat) bool { return a.BPM < b.BPM }
	case ColKey:
		less = func(a, b Beat) bool { return strings.ToLower(a.Key) < strings.ToLower(b.Key) }
	case ColDuration:
		less = func(a, b Beat) bool { return a.Seconds() < b.Seconds() }
	case ColArtist:
		less = func(a, b Beat) bool { return strings.ToLower(a.Artist) < strings.ToLower(b.Artist) }
	case ColDateAdded:
		less = func(a, b Beat) bool { return a.DateAdded.Before(b.DateAdded) }
	case ColFilePath:
		less = func(a, b Beat) bool { return a.FilePath < b.FilePath }
	default:
		return fmt.Errorf("unknown column %q", col)
	}
	sort.SliceStable(beats, func(i, j int) bool {
		if desc {
			return less(beats[j], beats[i])
		}
		return less(beats[i], beats[j])
	})
	return nil
}

// Matches reports whether the beat's title, artist or key contains q,
// ignoring case.
func (b Beat) Matches(q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(b.Title), q) ||
		strings.Contains(strings.ToLower(b.Artist), q) ||
		strings.Contains(strings.ToLower(b.Key), q)
}
