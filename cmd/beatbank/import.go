/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"beatbank/internal/analysis"
	"beatbank/internal/codec"
	"beatbank/internal/logger"
	"beatbank/internal/store"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <file|dir>...",
	Short: "Analyse audio files and add them to the library",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		var files []string
		for _, arg := range args {
			found, err := collect(arg)
			if err != nil {
				return err
			}
			files = append(files, found...)
		}

		im := &importer{store: st, out: cmd.OutOrStdout()}
		im.importAll(cmd.Context(), files)
		fmt.Fprintf(cmd.OutOrStdout(), "%d added, %d skipped, %d failed\n", im.added, im.skipped, im.failed)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Import new audio files as they appear in a folder",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.WatchDir
		if len(args) == 1 {
			dir = args[0]
		}
		if dir == "" {
			return errors.New("no folder given and BEATBANK_WATCH_DIR is empty")
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		files, err := collect(dir)
		if err != nil {
			return err
		}
		im := &importer{store: st, out: cmd.OutOrStdout()}
		im.importAll(ctx, files)
		fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", dir)
		return im.watch(ctx, dir, 500*time.Millisecond)
	},
}

func init() {
	rootCmd.AddCommand(importCmd, watchCmd)
}

// ======================================================
// Importer
// ======================================================

type importer struct {
	store    store.Store
	out      io.Writer
	progress *Progress

	added, skipped, failed int
}

// collect lists the importable files under path. A plain file is returned
// as is.
func collect(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("walk failed", logger.String("path", p), logger.ErrorField(err))
			return nil
		}
		if !d.IsDir() && codec.Supported(p) {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func (im *importer) importAll(ctx context.Context, files []string) {
	if len(files) > 1 {
		im.progress = NewProgress(im.out, "IMPORTING", len(files))
		defer func() { im.progress = nil }()
	}
	for _, f := range files {
		if ctx.Err() != nil {
			return
		}
		im.importFile(ctx, f)
		if im.progress != nil {
			im.progress.Add(1)
		}
	}
}

func (im *importer) say(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if im.progress != nil {
		im.progress.Println(line)
		return
	}
	fmt.Fprintln(im.out, line)
}

func (im *importer) importFile(ctx context.Context, path string) {
	info, err := analysis.Probe(path)
	if err != nil {
		im.failed++
		logger.Warn("probe failed", logger.String("path", path), logger.ErrorField(err))
		im.say("  ! %s: %v", filepath.Base(path), err)
		return
	}

	beat := info.Beat()
	id, err := im.store.InsertBeat(ctx, beat)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		im.skipped++
		im.say("  = %s (already in library)", beat.Title)
	case err != nil:
		im.failed++
		logger.Error("insert failed", logger.String("path", path), logger.ErrorField(err))
		im.say("  ! %s: %v", beat.Title, err)
	default:
		im.added++
		logger.Info("beat imported",
			logger.Int64("id", id),
			logger.String("title", beat.Title),
			logger.Float64("bpm", beat.BPM),
			logger.String("duration", beat.Duration),
		)
		im.say("  + [%d] %s  %s  %.2f bpm  %s", id, beat.Title, beat.Duration, beat.BPM, sparkline(info.Peaks))
	}
}

var sparks = []rune("▁▂▃▄▅▆▇█")

func sparkline(peaks []byte) string {
	out := make([]rune, len(peaks))
	for i, p := range peaks {
		out[i] = sparks[int(p)*len(sparks)/256]
	}
	return string(out)
}

// watch imports files under dir once they have stopped changing for settle.
func (im *importer) watch(ctx context.Context, dir string, settle time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	pending := make(map[string]time.Time)
	tick := time.NewTicker(settle / 4)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && codec.Supported(ev.Name) {
				pending[ev.Name] = time.Now()
			}

		case <-tick.C:
			now := time.Now()
			for path, last := range pending {
				if now.Sub(last) < settle {
					continue
				}
				delete(pending, path)
				im.importFile(ctx, path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", logger.ErrorField(err))
		}
	}
}
