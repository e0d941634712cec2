/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Progress draws a one-line bar that lines printed through Println do not
// break.
type Progress struct {
	out     io.Writer
	label   string
	total   int
	current int
	mu      sync.Mutex
}

func NewProgress(out io.Writer, label string, total int) *Progress {
	return &Progress{out: out, label: label, total: total}
}

func (p *Progress) Add(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current += n
	p.draw()
}

// Println prints a line above the bar.
func (p *Progress) Println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "\r\033[K%s\n", line)
	if p.current > 0 && p.current < p.total {
		p.draw()
	}
}

func (p *Progress) draw() {
	if p.total <= 0 {
		return
	}
	width := 30
	percent := float64(p.current) / float64(p.total)
	if percent > 1 {
		percent = 1
	}
	filled := int(float64(width) * percent)

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	fmt.Fprintf(p.out, "\r [%s] [%s] %d%% (%d/%d files)", p.label, bar, int(percent*100), p.current, p.total)

	if p.current >= p.total {
		fmt.Fprintln(p.out)
	}
}
