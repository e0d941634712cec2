/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

package main

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"beatbank/internal/store"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTone(t *testing.T, path string, hz float64) {
	t.Helper()
	const rate = 8000
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	data := make([]int, rate*2)
	for i := range data {
		data[i] = int(8000 * math.Sin(2*math.Pi*hz*float64(i)/rate))
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func tempStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "bank.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestImportSkipsDuplicates(t *testing.T) {
	dir := t.TempDir()
	writeTone(t, filepath.Join(dir, "low.wav"), 220)
	writeTone(t, filepath.Join(dir, "high.wav"), 880)
	writeTone(t, filepath.Join(dir, "low copy.wav"), 220)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	files, err := collect(dir)
	require.NoError(t, err)
	assert.Len(t, files, 3)

	st := tempStore(t)
	im := &importer{store: st, out: &bytes.Buffer{}}
	im.importAll(context.Background(), files)

	assert.Equal(t, 2, im.added)
	assert.Equal(t, 1, im.skipped)
	assert.Equal(t, 0, im.failed)

	beats, err := st.FetchBeats(context.Background())
	require.NoError(t, err)
	require.Len(t, beats, 2)
	assert.Equal(t, "00:02", beats[0].Duration)
}

func TestImportReportsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "broken.wav")
	require.NoError(t, os.WriteFile(bad, []byte("RIFF????"), 0644))

	out := &bytes.Buffer{}
	im := &importer{store: tempStore(t), out: out}
	im.importAll(context.Background(), []string{bad})

	assert.Equal(t, 1, im.failed)
	assert.Contains(t, out.String(), "broken.wav")
}

func TestWatchImportsNewFiles(t *testing.T) {
	dir := t.TempDir()
	st := tempStore(t)
	im := &importer{store: st, out: &bytes.Buffer{}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- im.watch(ctx, dir, 50*time.Millisecond) }()

	// give the watcher time to register the folder
	time.Sleep(100 * time.Millisecond)
	writeTone(t, filepath.Join(dir, "fresh.wav"), 440)

	require.Eventually(t, func() bool {
		beats, err := st.FetchBeats(context.Background())
		return err == nil && len(beats) == 1
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)

	beats, err := st.FetchBeats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", beats[0].Title)
}

func TestSparkline(t *testing.T) {
	assert.Equal(t, "▁▅█", sparkline([]byte{0, 128, 255}))
	assert.Equal(t, "", sparkline(nil))
}
