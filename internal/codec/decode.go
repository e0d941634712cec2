/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

// Package codec opens audio files as beep streamers and derives the
// signal summaries used on import.
package codec

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/vorbis"
	"github.com/faiface/beep/wav"
	"github.com/hraban/opus"
)

const opusRate = 48000

// ErrUnsupported is returned for file extensions no decoder handles.
var ErrUnsupported = errors.New("unsupported format")

// Open decodes the file at path into a seekable streamer.
func Open(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}

	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	switch ext(path) {
	case ".mp3":
		s, format, err = mp3.Decode(f)
	case ".wav":
		s, format, err = wav.Decode(f)
	case ".flac":
		s, format, err = flac.Decode(f)
	case ".ogg":
		s, format, err = vorbis.Decode(f)
	case ".opus":
		s, format, err = decodeOpus(f)
	default:
		err = ErrUnsupported
	}
	if err != nil {
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return s, format, nil
}

// Supported reports whether Open has a decoder for path.
func Supported(path string) bool {
	switch ext(path) {
	case ".mp3", ".wav", ".flac", ".ogg", ".opus":
		return true
	}
	return false
}

func ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// ======================================================
// Ogg Opus: decoded fully into memory
// ======================================================

func decodeOpus(f *os.File) (beep.StreamSeekCloser, beep.Format, error) {
	stream, err := opus.NewStream(f)
	if err != nil {
		return nil, beep.Format{}, err
	}
	defer stream.Close()

	var samples [][2]float64
	buf := make([]float32, 5760*2)
	for {
		n, err := stream.ReadStereoFloat32(buf)
		if err == io.EOF || (err == nil && n == 0) {
			break
		}
		if err != nil {
			return nil, beep.Format{}, err
		}
		for i := 0; i < n; i++ {
			samples = append(samples, [2]float64{float64(buf[i*2]), float64(buf[i*2+1])})
		}
	}

	format := beep.Format{SampleRate: opusRate, NumChannels: 2, Precision: 2}
	return &pcmStreamer{samples: samples, closer: f}, format, nil
}

// pcmStreamer plays back decoded stereo frames.
type pcmStreamer struct {
	samples [][2]float64
	pos     int
	closer  io.Closer
}

func (p *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	if p.pos >= len(p.samples) {
		return 0, false
	}
	n := copy(samples, p.samples[p.pos:])
	p.pos += n
	return n, true
}

func (p *pcmStreamer) Err() error    { return nil }
func (p *pcmStreamer) Len() int      { return len(p.samples) }
func (p *pcmStreamer) Position() int { return p.pos }

func (p *pcmStreamer) Seek(n int) error {
	if n < 0 || n > len(p.samples) {
		return fmt.Errorf("seek %d out of range [0, %d]", n, len(p.samples))
	}
	p.pos = n
	return nil
}

func (p *pcmStreamer) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
