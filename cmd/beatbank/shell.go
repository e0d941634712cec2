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
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"beatbank/internal/engineipc"
	"beatbank/internal/library"
	"beatbank/internal/logger"
	"beatbank/internal/playback"
	"beatbank/internal/selection"
	"beatbank/internal/store"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Browse, reorder and play the library interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		client := engineipc.New(cfg.EngineSocket)
		defer client.Close()

		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "beatbank> ",
			AutoComplete:    shellCompleter(),
			InterruptPrompt: "^C",
			EOFPrompt:       "quit",
		})
		if err != nil {
			return err
		}
		defer rl.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sh, err := newShell(ctx, st, client, playback.Options{
			ReconcileInterval: cfg.ReconcileInterval,
			RestartThreshold:  cfg.RestartThreshold,
			CommandTimeout:    cfg.CommandTimeout,
			AutoAdvance:       cfg.AutoAdvance,
		}, rl.Stdout())
		if err != nil {
			return err
		}
		go func() {
			if err := sh.ctl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("reconcile loop stopped", logger.ErrorField(err))
			}
		}()
		if err := client.Ping(ctx); err != nil {
			sh.printf("! engine not reachable at %s: %v\n", cfg.EngineSocket, err)
		}

		sh.exec(ctx, "ls")
		for {
			line, err := rl.Readline()
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if err != nil {
				break
			}
			if quit := sh.exec(ctx, line); quit {
				break
			}
		}
		sh.close(cfg.CommandTimeout)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

var shellVerbs = []string{
	"ls", "click", "ctrl", "shift", "all", "none", "drag", "play", "pause", "resume", "toggle",
	"stop", "next", "prev", "seek", "vol", "status", "set", "library", "filter", "sort",
	"edit", "rm", "enqueue", "queue", "cols", "help", "quit",
}

func shellCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(shellVerbs))
	for _, v := range shellVerbs {
		switch v {
		case "sort", "cols":
			cols := make([]readline.PrefixCompleterInterface, 0, len(library.Columns))
			for _, c := range library.Columns {
				cols = append(cols, readline.PcItem(c))
			}
			items = append(items, readline.PcItem(v, cols...))
		default:
			items = append(items, readline.PcItem(v))
		}
	}
	return readline.NewPrefixCompleter(items...)
}

// ======================================================
// Session
// ======================================================

type shell struct {
	store store.Store
	ctl   *playback.Controller
	sel   *selection.Engine
	cols  library.ColumnVisibility

	outMu  sync.Mutex
	out    io.Writer
	focus  int64
	notice error
}

func newShell(ctx context.Context, st store.Store, eng playback.Engine, opts playback.Options, out io.Writer) (*shell, error) {
	sh := &shell{store: st, out: out, ctl: playback.New(eng, opts)}

	cols, err := st.FetchColumnVisibility(ctx)
	if err != nil {
		return nil, err
	}
	sh.cols = cols

	sh.ctl.Subscribe(func(ev playback.Event) {
		if ev.Kind == playback.Notice {
			sh.outMu.Lock()
			sh.notice = ev.Err
			fmt.Fprintf(sh.out, "! %s failed: %v\n", ev.Op, ev.Err)
			sh.outMu.Unlock()
		}
	})
	if err := sh.use(ctx, store.LibraryView{Store: st}); err != nil {
		return nil, err
	}
	return sh, nil
}

// close stops playback and waits for pending order saves.
func (sh *shell) close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := sh.ctl.Stop(ctx)
	if err != nil {
		logger.Warn("stop on exit failed", logger.ErrorField(err))
	}
	sh.sel.Wait()
	return err
}

func (sh *shell) printf(format string, args ...any) {
	sh.outMu.Lock()
	fmt.Fprintf(sh.out, format, args...)
	sh.outMu.Unlock()
}

func (sh *shell) focused() int64 {
	sh.outMu.Lock()
	defer sh.outMu.Unlock()
	return sh.focus
}

// use switches the table to src, loads it and trims the queue to its rows.
func (sh *shell) use(ctx context.Context, src selection.Source) error {
	sel := selection.New(src)
	sel.Subscribe(func(ev selection.Event) {
		switch ev.Kind {
		case selection.Activated:
			sh.outMu.Lock()
			sh.focus = ev.Beat.ID
			sh.outMu.Unlock()
		case selection.OrderSaveFailed:
			sh.printf("! order not saved: %v\n", ev.Err)
		}
	})
	if err := sel.Load(ctx); err != nil {
		return err
	}
	if sh.sel != nil {
		sh.sel.Wait()
	}
	sh.sel = sel
	sh.outMu.Lock()
	sh.focus = 0
	sh.outMu.Unlock()
	sh.ctl.RealignQueue(sel.Rows())
	return nil
}

// reload refetches the table after an edit and lines the queue up with it.
func (sh *shell) reload(ctx context.Context) error {
	if err := sh.sel.Load(ctx); err != nil {
		return err
	}
	sh.ctl.RealignQueue(sh.sel.Rows())
	return nil
}

// exec runs one shell line and reports whether the shell should exit.
func (sh *shell) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]
	if verb == "quit" || verb == "exit" {
		return true
	}
	if err := sh.run(ctx, verb, args); err != nil && !sh.reported(err) {
		sh.printf("! %v\n", err)
	}
	return false
}

// reported tells whether err already reached the user as a notice.
func (sh *shell) reported(err error) bool {
	sh.outMu.Lock()
	defer sh.outMu.Unlock()
	return sh.notice != nil && errors.Is(err, sh.notice)
}

func (sh *shell) run(ctx context.Context, verb string, args []string) error {
	switch verb {
	case "help":
		sh.printf("%s\n", strings.Join(shellVerbs, " "))
	case "ls":
		sh.list()

	// === selection ===
	case "click", "ctrl", "shift":
		id, err := oneID(args)
		if err != nil {
			return err
		}
		sh.sel.Select(id, selection.Modifiers{Ctrl: verb == "ctrl", Shift: verb == "shift"})
		sh.printSelection()
	case "all":
		sh.sel.SelectAll()
		sh.printSelection()
	case "none":
		sh.sel.ClearSelection()
	case "drag":
		ids, err := parseIDs(args)
		if err != nil || len(ids) != 2 {
			return errors.New("usage: drag <from-id> <to-id>")
		}
		if moved, _ := sh.sel.Reorder(ctx, ids[0], ids[1]); moved {
			sh.ctl.RealignQueue(sh.sel.Rows())
			sh.list()
		}
	case "filter":
		sh.sel.Filter(strings.Join(args, " "))
		sh.ctl.RealignQueue(sh.sel.Rows())
		sh.list()
	case "sort":
		if len(args) == 0 {
			return errors.New("usage: sort <column> [desc]")
		}
		desc := len(args) > 1 && strings.EqualFold(args[1], "desc")
		if err := sh.sel.SortBy(args[0], desc); err != nil {
			return err
		}
		sh.ctl.RealignQueue(sh.sel.Rows())
		sh.list()

	// === sources ===
	case "set":
		id, err := oneID(args)
		if err != nil {
			return err
		}
		sets, err := sh.store.FetchSets(ctx)
		if err != nil {
			return err
		}
		for _, s := range sets {
			if s.ID == id {
				if err := sh.use(ctx, store.SetView{Store: sh.store, Set: s}); err != nil {
					return err
				}
				sh.list()
				return nil
			}
		}
		return fmt.Errorf("no set %d", id)
	case "library":
		if err := sh.use(ctx, store.LibraryView{Store: sh.store}); err != nil {
			return err
		}
		sh.list()

	// === records ===
	case "edit":
		if len(args) < 3 {
			return errors.New("usage: edit <id> <field> <value>")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad id %q", args[0])
		}
		patch, err := library.PatchField(id, args[1], strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		if err := sh.store.UpdateBeat(ctx, patch); err != nil {
			return err
		}
		return sh.reload(ctx)
	case "rm":
		id, err := oneID(args)
		if err != nil {
			return err
		}
		if err := sh.store.DeleteBeat(ctx, id); err != nil {
			return err
		}
		return sh.reload(ctx)
	case "cols":
		if len(args) == 1 {
			if err := sh.cols.Toggle(args[0]); err != nil {
				return err
			}
			if err := sh.store.SaveColumnVisibility(ctx, sh.cols); err != nil {
				return err
			}
		}
		sh.printf("columns: %s\n", strings.Join(sh.cols.Visible(), " "))

	// === transport ===
	case "play":
		return sh.play(ctx, args)
	case "pause":
		return sh.ctl.Pause(ctx)
	case "resume":
		return sh.ctl.Resume(ctx)
	case "toggle":
		return sh.ctl.TogglePlay(ctx)
	case "stop":
		return sh.ctl.Stop(ctx)
	case "next":
		return sh.ctl.Next(ctx)
	case "prev":
		return sh.ctl.Previous(ctx)
	case "seek":
		if len(args) != 1 {
			return errors.New("usage: seek <seconds>")
		}
		secs, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("bad position %q", args[0])
		}
		sh.ctl.SeekPreview(secs)
		return sh.ctl.SeekCommit(ctx, secs)
	case "vol":
		if len(args) != 1 {
			sh.printf("volume %d\n", int(math.Round(sh.ctl.View().Volume*100)))
			return nil
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("bad volume %q", args[0])
		}
		return sh.ctl.SetVolume(ctx, v/100)
	case "enqueue":
		id, err := oneID(args)
		if err != nil {
			return err
		}
		b, ok := sh.sel.Row(id)
		if !ok {
			return fmt.Errorf("no beat %d in this view", id)
		}
		if !sh.ctl.Enqueue(b) {
			sh.printf("%s is already queued\n", b.Title)
		}
	case "queue":
		sh.printQueue()
	case "status":
		sh.printStatus()

	default:
		return fmt.Errorf("unknown command %q (try help)", verb)
	}
	return nil
}

// play starts a beat from the visible table, which becomes the queue.
// Without an id it plays the focused row, or resumes the queue.
func (sh *shell) play(ctx context.Context, args []string) error {
	id := sh.focused()
	if len(args) > 0 {
		var err error
		if id, err = oneID(args); err != nil {
			return err
		}
	}
	if id == 0 {
		return sh.ctl.PlayCurrent(ctx)
	}

	rows := sh.sel.Rows()
	for i, b := range rows {
		if b.ID == id {
			return sh.ctl.PlayQueue(ctx, rows, i)
		}
	}
	return fmt.Errorf("no beat %d in this view", id)
}

// ======================================================
// Output
// ======================================================

func (sh *shell) list() {
	marks := make(map[int64]bool)
	for _, id := range sh.sel.Selected() {
		marks[id] = true
	}
	sh.outMu.Lock()
	defer sh.outMu.Unlock()
	fmt.Fprintf(sh.out, "-- %v --\n", sh.sel.Source())
	printTable(sh.out, sh.sel.Rows(), sh.cols.Visible(), marks, sh.focus)
}

func (sh *shell) printSelection() {
	ids := sh.sel.Selected()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	anchor, ok := sh.sel.Anchor()
	if ok {
		sh.printf("selected [%s] anchor %d\n", strings.Join(parts, " "), anchor)
		return
	}
	sh.printf("selected [%s]\n", strings.Join(parts, " "))
}

func (sh *shell) printQueue() {
	v := sh.ctl.View()
	if len(v.Queue) == 0 {
		sh.printf("queue empty\n")
		return
	}
	for i, b := range v.Queue {
		mark := "  "
		if i == v.Index {
			mark = "> "
		}
		sh.printf("%s%d. [%d] %s  %s\n", mark, i+1, b.ID, b.Title, b.Duration)
	}
}

func (sh *shell) printStatus() {
	v := sh.ctl.View()
	title := "-"
	if v.NowPlaying.ID != 0 {
		title = v.NowPlaying.Title
	}
	sh.printf("%s  %s  %s / %s  vol %d\n",
		v.State, title,
		library.FormatDuration(v.Position), library.FormatDuration(v.Duration),
		int(math.Round(v.Volume*100)),
	)
}

func oneID(args []string) (int64, error) {
	ids, err := parseIDs(args)
	if err != nil {
		return 0, err
	}
	if len(ids) != 1 {
		return 0, errors.New("expected one id")
	}
	return ids[0], nil
}
