/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

// Package spec holds the wire protocol shared by the audio engine process
// and its clients.
package spec

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// === IDENTITY & VERSIONING ===
	EngineName    = "BeatBank-Engine"
	VersionMajor  = 1
	VersionMinor  = 0
	DefaultSocket = "/tmp/beatbank-engine.sock"

	// === CONTROL VERBS (need ownership) ===
	VerbPlay   = "PLAY"
	VerbPause  = "PAUSE"
	VerbResume = "RESUME"
	VerbStop   = "STOP"
	VerbSeek   = "SEEK"
	VerbVolume = "VOLUME"

	// === READ-ONLY VERBS ===
	VerbStatus = "STATUS"
	VerbPing   = "PING"
	VerbAbout  = "ABOUT"

	// === REPLY KINDS ===
	ReplyOK     = "OK"
	ReplyErr    = "ERR"
	ReplyStatus = "STATUS"
	ReplyPong   = "PONG"
	ReplyAbout  = "ABOUT"

	// === ERROR REASONS ===
	ErrArg           = "ARG"
	ErrUnknown       = "UNKNOWN"
	ErrControlLocked = "CONTROL_LOCKED"
	ErrFileNotFound  = "FILE_NOT_FOUND"
	ErrDecode        = "DECODE"
	ErrNothingLoaded = "NOTHING_LOADED"
	ErrInternal      = "INTERNAL"
)

// ErrMalformed is returned for lines that do not follow the protocol.
var ErrMalformed = errors.New("malformed protocol line")

// Status is the payload of a STATUS reply. Only pos and is_playing are
// guaranteed; older engines leave the rest empty.
type Status struct {
	Pos       float64 `json:"pos"`
	IsPlaying bool    `json:"is_playing"`
	Path      string  `json:"path,omitempty"`
	Ended     bool    `json:"ended,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
}

// Sanitize replaces negative or non-finite numbers with zero.
func (s Status) Sanitize() Status {
	if math.IsNaN(s.Pos) || math.IsInf(s.Pos, 0) || s.Pos < 0 {
		s.Pos = 0
	}
	if math.IsNaN(s.Duration) || math.IsInf(s.Duration, 0) || s.Duration < 0 {
		s.Duration = 0
	}
	return s
}

// IsControl reports whether verb changes engine state and therefore needs
// the control ownership.
func IsControl(verb string) bool {
	switch verb {
	case VerbPlay, VerbPause, VerbResume, VerbStop, VerbSeek, VerbVolume:
		return true
	}
	return false
}

// FormatRequest builds "<seq> <VERB> [arg]".
func FormatRequest(seq uint64, verb, arg string) string {
	if arg == "" {
		return fmt.Sprintf("%d %s", seq, verb)
	}
	return fmt.Sprintf("%d %s %s", seq, verb, arg)
}

// ParseRequest splits a request line. The argument is kept raw so that
// file paths containing spaces survive.
func ParseRequest(line string) (seq uint64, verb, arg string, err error) {
	parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(parts) < 2 {
		return 0, "", "", ErrMalformed
	}
	seq, err = strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, "", "", ErrMalformed
	}
	verb = strings.ToUpper(parts[1])
	if len(parts) == 3 {
		arg = strings.TrimSpace(parts[2])
	}
	return seq, verb, arg, nil
}

// FormatReply builds "<seq> <KIND> [payload]".
func FormatReply(seq uint64, kind, payload string) string {
	return FormatRequest(seq, kind, payload)
}

// ParseReply is the client side counterpart of FormatReply.
func ParseReply(line string) (seq uint64, kind, payload string, err error) {
	return ParseRequest(line)
}

// EncodeStatus marshals a status payload for a STATUS reply.
func EncodeStatus(s Status) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// DecodeStatus parses a STATUS payload.
func DecodeStatus(payload string) (Status, error) {
	var s Status
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}
	return s.Sanitize(), nil
}
