/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

package main

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"beatbank/internal/logger"
	"beatbank/pkg/spec"
)

// transport is the audio side of the engine. Player implements it.
type transport interface {
	Play(path string) error
	Pause() error
	Resume() error
	Stop()
	Seek(seconds float64) error
	SetVolume(ratio float64)
	Status() spec.Status
}

// ===============================
// Control ownership
// ===============================

type server struct {
	player transport

	controlMu    sync.Mutex
	controlOwner net.Conn
}

func newServer(p transport) *server {
	return &server{player: p}
}

func (s *server) isOwner(c net.Conn) bool {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	return s.controlOwner == c
}

func (s *server) claimOwner(c net.Conn) bool {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	if s.controlOwner == nil {
		s.controlOwner = c
		logger.Info("control claimed", logger.String("remote", c.RemoteAddr().String()))
		return true
	}
	return s.controlOwner == c
}

// releaseOwner drops ownership held by c. Playback stops with its owner.
func (s *server) releaseOwner(c net.Conn) {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	if s.controlOwner == c {
		s.controlOwner = nil
		s.player.Stop()
		logger.Info("control released")
	}
}

// ===============================
// IPC Server
// ===============================

func listen(socket string) (net.Listener, error) {
	if err := os.Remove(socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	return net.Listen("unix", socket)
}

func (s *server) serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn("accept failed", logger.ErrorField(err))
			continue
		}
		go s.handleConn(c)
	}
}

func (s *server) handleConn(c net.Conn) {
	defer func() {
		s.releaseOwner(c)
		c.Close()
	}()

	sc := bufio.NewScanner(c)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		seq, verb, arg, err := spec.ParseRequest(line)
		if err != nil {
			logger.Debug("bad request line", logger.String("line", line))
			continue
		}
		reply := s.dispatch(c, seq, verb, arg)
		if _, err := c.Write([]byte(reply + "\n")); err != nil {
			return
		}
	}
}

func (s *server) dispatch(c net.Conn, seq uint64, verb, arg string) string {
	// ==================================================
	// READ-ONLY COMMANDS (no owner needed)
	// ==================================================
	switch verb {
	case spec.VerbAbout:
		return spec.FormatReply(seq, spec.ReplyAbout,
			fmt.Sprintf("%s V.%d.%d", spec.EngineName, spec.VersionMajor, spec.VersionMinor))
	case spec.VerbPing:
		return spec.FormatReply(seq, spec.ReplyPong, "")
	case spec.VerbStatus:
		return spec.FormatReply(seq, spec.ReplyStatus, spec.EncodeStatus(s.player.Status()))
	}

	if !spec.IsControl(verb) {
		return errReply(seq, spec.ErrUnknown)
	}

	// ==================================================
	// CONTROL COMMANDS (owner only)
	// ==================================================
	if !s.claimOwner(c) {
		return errReply(seq, spec.ErrControlLocked)
	}

	var err error
	switch verb {
	case spec.VerbPlay:
		if arg == "" {
			return errReply(seq, spec.ErrArg)
		}
		err = s.player.Play(arg)
	case spec.VerbPause:
		err = s.player.Pause()
	case spec.VerbResume:
		err = s.player.Resume()
	case spec.VerbStop:
		s.player.Stop()
	case spec.VerbSeek:
		v, ok := argFloat(arg)
		if !ok || v < 0 {
			return errReply(seq, spec.ErrArg)
		}
		err = s.player.Seek(v)
	case spec.VerbVolume:
		v, ok := argFloat(arg)
		if !ok || v < 0 || v > 1 {
			return errReply(seq, spec.ErrArg)
		}
		s.player.SetVolume(v)
	}
	if err != nil {
		return errReply(seq, reasonOf(err))
	}
	return spec.FormatReply(seq, spec.ReplyOK, "")
}

func argFloat(arg string) (float64, bool) {
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func errReply(seq uint64, reason string) string {
	return spec.FormatReply(seq, spec.ReplyErr, reason)
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, errFileNotFound):
		return spec.ErrFileNotFound
	case errors.Is(err, errDecode):
		return spec.ErrDecode
	case errors.Is(err, errNothingLoaded):
		return spec.ErrNothingLoaded
	}
	logger.Warn("engine command failed", logger.ErrorField(err))
	return spec.ErrInternal
}
