/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

// Package engineipc talks to the beatbank-engine process over its unix
// socket.
package engineipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"beatbank/internal/logger"
	"beatbank/internal/playback"
	"beatbank/pkg/spec"
)

var (
	ErrClosed   = errors.New("engine client closed")
	ErrConnLost = errors.New("engine connection lost")
)

// housekeepingBase keeps PING/ABOUT sequence numbers away from the ones the
// playback controller hands out.
const housekeepingBase = uint64(1) << 62

// RemoteError is an ERR reply from the engine.
type RemoteError struct {
	Verb   string
	Reason string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("engine %s: %s", e.Verb, e.Reason)
}

type reply struct {
	kind    string
	payload string
	err     error
}

type pendingReq struct {
	conn net.Conn
	ch   chan reply
}

// Client multiplexes requests over one connection. Replies are matched to
// requests by sequence number, so they may arrive in any order. A broken
// connection is redialled on the next request.
type Client struct {
	socket string

	mu      sync.Mutex
	conn    net.Conn
	pending map[uint64]pendingReq
	closed  bool

	hk atomic.Uint64
}

var _ playback.Engine = (*Client)(nil)

// New returns a client for the socket at path. No connection is made until
// the first request.
func New(path string) *Client {
	return &Client{
		socket:  path,
		pending: make(map[uint64]pendingReq),
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *Client) connLocked(ctx context.Context) (net.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socket)
	if err != nil {
		return nil, fmt.Errorf("dial engine: %w", err)
	}
	c.conn = conn
	go c.readLoop(conn)
	logger.Debug("engine connected", logger.String("socket", c.socket))
	return conn, nil
}

func (c *Client) readLoop(conn net.Conn) {
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		seq, kind, payload, err := spec.ParseReply(sc.Text())
		if err != nil {
			logger.Warn("engine sent malformed line", logger.String("line", sc.Text()))
			continue
		}
		c.mu.Lock()
		p, ok := c.pending[seq]
		if ok && p.conn == conn {
			delete(c.pending, seq)
		} else {
			ok = false
		}
		c.mu.Unlock()
		if ok {
			p.ch <- reply{kind: kind, payload: payload}
		}
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	conn.Close()
	for seq, p := range c.pending {
		if p.conn == conn {
			p.ch <- reply{err: ErrConnLost}
			delete(c.pending, seq)
		}
	}
	c.mu.Unlock()
}

func (c *Client) roundTrip(ctx context.Context, seq uint64, verb, arg string) (reply, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return reply{}, ErrClosed
	}
	if _, dup := c.pending[seq]; dup {
		c.mu.Unlock()
		return reply{}, fmt.Errorf("sequence %d already in flight", seq)
	}
	conn, err := c.connLocked(ctx)
	if err != nil {
		c.mu.Unlock()
		return reply{}, err
	}

	ch := make(chan reply, 1)
	c.pending[seq] = pendingReq{conn: conn, ch: ch}
	if _, err := conn.Write([]byte(spec.FormatRequest(seq, verb, arg) + "\n")); err != nil {
		delete(c.pending, seq)
		if c.conn == conn {
			c.conn = nil
			conn.Close()
		}
		c.mu.Unlock()
		return reply{}, fmt.Errorf("send %s: %w", verb, err)
	}
	c.mu.Unlock()

	select {
	case r := <-ch:
		if r.err != nil {
			return r, r.err
		}
		return r, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		return reply{}, ctx.Err()
	}
}

func (c *Client) command(ctx context.Context, seq uint64, verb, arg string) error {
	r, err := c.roundTrip(ctx, seq, verb, arg)
	if err != nil {
		return err
	}
	switch r.kind {
	case spec.ReplyOK:
		return nil
	case spec.ReplyErr:
		return &RemoteError{Verb: verb, Reason: r.payload}
	}
	return fmt.Errorf("engine %s: unexpected reply %q", verb, r.kind)
}

func (c *Client) Play(ctx context.Context, seq uint64, path string) error {
	return c.command(ctx, seq, spec.VerbPlay, path)
}

func (c *Client) Pause(ctx context.Context, seq uint64) error {
	return c.command(ctx, seq, spec.VerbPause, "")
}

func (c *Client) Resume(ctx context.Context, seq uint64) error {
	return c.command(ctx, seq, spec.VerbResume, "")
}

func (c *Client) Stop(ctx context.Context, seq uint64) error {
	return c.command(ctx, seq, spec.VerbStop, "")
}

func (c *Client) Seek(ctx context.Context, seq uint64, seconds float64) error {
	return c.command(ctx, seq, spec.VerbSeek, strconv.FormatFloat(seconds, 'f', 3, 64))
}

func (c *Client) SetVolume(ctx context.Context, seq uint64, ratio float64) error {
	return c.command(ctx, seq, spec.VerbVolume, strconv.FormatFloat(ratio, 'f', 4, 64))
}

// Status asks for the current playback status.
func (c *Client) Status(ctx context.Context, seq uint64) (spec.Status, error) {
	r, err := c.roundTrip(ctx, seq, spec.VerbStatus, "")
	if err != nil {
		return spec.Status{}, err
	}
	switch r.kind {
	case spec.ReplyStatus:
		return spec.DecodeStatus(r.payload)
	case spec.ReplyErr:
		return spec.Status{}, &RemoteError{Verb: spec.VerbStatus, Reason: r.payload}
	}
	return spec.Status{}, fmt.Errorf("engine STATUS: unexpected reply %q", r.kind)
}

// Ping checks that the engine answers.
func (c *Client) Ping(ctx context.Context) error {
	r, err := c.roundTrip(ctx, housekeepingBase+c.hk.Add(1), spec.VerbPing, "")
	if err != nil {
		return err
	}
	if r.kind != spec.ReplyPong {
		return fmt.Errorf("engine PING: unexpected reply %q", r.kind)
	}
	return nil
}

// About returns the engine's name and version.
func (c *Client) About(ctx context.Context) (string, error) {
	r, err := c.roundTrip(ctx, housekeepingBase+c.hk.Add(1), spec.VerbAbout, "")
	if err != nil {
		return "", err
	}
	if r.kind != spec.ReplyAbout {
		return "", fmt.Errorf("engine ABOUT: unexpected reply %q", r.kind)
	}
	return r.payload, nil
}
