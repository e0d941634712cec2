/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"beatbank/internal/engineipc"
	"beatbank/internal/library"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the library in its saved order",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()
		beats, err := st.FetchBeats(ctx)
		if err != nil {
			return err
		}
		cols, err := st.FetchColumnVisibility(ctx)
		if err != nil {
			return err
		}
		printTable(cmd.OutOrStdout(), beats, cols.Visible(), nil, 0)
		return nil
	},
}

var setsCmd = &cobra.Command{
	Use:   "sets",
	Short: "List sets, or manage them with a subcommand",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		sets, err := st.FetchSets(cmd.Context())
		if err != nil {
			return err
		}
		if len(sets) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "NO SET YET")
			return nil
		}
		for _, s := range sets {
			beats, err := st.FetchSetBeats(cmd.Context(), s.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s (%d beats)\n", s.ID, s.Name, len(beats))
		}
		return nil
	},
}

var setsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty set",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		s, err := st.CreateSet(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created set [%d] %s\n", s.ID, s.Name)
		return nil
	},
}

var setsDeleteCmd = &cobra.Command{
	Use:   "delete <set-id>",
	Short: "Delete a set; its beats stay in the library",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		return st.DeleteSet(cmd.Context(), ids[0])
	},
}

var setsAddCmd = &cobra.Command{
	Use:   "add <set-id> <beat-id>...",
	Short: "Append beats to a set",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		return st.AddToSet(cmd.Context(), ids[0], ids[1:]...)
	},
}

var setsRemoveCmd = &cobra.Command{
	Use:   "remove <set-id> <beat-id>...",
	Short: "Take beats out of a set",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		return st.RemoveFromSet(cmd.Context(), ids[0], ids[1:]...)
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the audio engine answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := engineipc.New(cfg.EngineSocket)
		defer c.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.CommandTimeout)
		defer cancel()

		start := time.Now()
		if err := c.Ping(ctx); err != nil {
			return err
		}
		rtt := time.Since(start)
		about, err := c.About(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s at %s (%s)\n", about, cfg.EngineSocket, rtt.Round(time.Microsecond))
		return nil
	},
}

func init() {
	setsCmd.AddCommand(setsCreateCmd, setsDeleteCmd, setsAddCmd, setsRemoveCmd)
	rootCmd.AddCommand(listCmd, setsCmd, pingCmd)
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// printTable writes beats as an aligned table. Rows whose id is in marks
// get a '*' and the row whose id equals cursor gets a '>'.
func printTable(w io.Writer, beats []library.Beat, cols []string, marks map[int64]bool, cursor int64) {
	if len(beats) == 0 {
		fmt.Fprintln(w, "NO BEAT YET")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := append([]string{"  ", "#", "ID"}, upper(cols)...)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for i, b := range beats {
		flag := " "
		if marks[b.ID] {
			flag = "*"
		}
		if cursor != 0 && b.ID == cursor {
			flag = ">" + flag
		} else {
			flag = " " + flag
		}
		row := []string{flag, strconv.Itoa(i + 1), strconv.FormatInt(b.ID, 10)}
		for _, c := range cols {
			row = append(row, b.Field(c))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

func upper(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToUpper(s)
	}
	return out
}
