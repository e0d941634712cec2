/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

// Package analysis extracts what the library needs to know about an audio
// file before it is imported.
package analysis

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"beatbank/internal/codec"
	"beatbank/internal/library"
	"beatbank/internal/logger"

	"github.com/go-audio/wav"
)

// EnvelopeRate is the number of energy values per second used for tempo
// detection.
const EnvelopeRate = 100

// Info is the result of probing one file.
type Info struct {
	Path     string
	Title    string
	Seconds  float64
	BPM      float64
	Checksum string
	// Peaks is a coarse waveform, one 0-255 value per point.
	Peaks []byte
}

// WaveformPoints is the length of Info.Peaks.
const WaveformPoints = 32

// Beat converts the probe result into a library record.
func (i Info) Beat() library.Beat {
	return library.Beat{
		Title:     i.Title,
		BPM:       library.RoundBPM(i.BPM),
		Duration:  library.FormatDuration(i.Seconds),
		FilePath:  i.Path,
		Checksum:  i.Checksum,
		DateAdded: time.Now().UTC(),
	}
}

// Probe reads path once for its length and tempo and once for its checksum.
func Probe(path string) (Info, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Info{}, err
	}
	info := Info{Path: abs, Title: titleOf(abs)}

	stream, format, err := codec.Open(abs)
	if err != nil {
		return Info{}, err
	}
	defer stream.Close()

	info.Seconds = format.SampleRate.D(stream.Len()).Seconds()
	if strings.EqualFold(filepath.Ext(abs), ".wav") {
		if secs, err := wavSeconds(abs); err == nil {
			info.Seconds = secs
		} else {
			logger.Debug("wav header duration unavailable", logger.String("path", abs), logger.ErrorField(err))
		}
	}

	env, err := codec.Envelope(stream, int(format.SampleRate)/EnvelopeRate)
	if err != nil {
		logger.Warn("tempo analysis aborted", logger.String("path", abs), logger.ErrorField(err))
	} else {
		info.BPM = EstimateTempo(env, EnvelopeRate)
		info.Peaks = codec.Peaks(env, WaveformPoints)
	}

	if info.Checksum, err = codec.ChecksumFile(abs); err != nil {
		return Info{}, fmt.Errorf("checksum %s: %w", filepath.Base(abs), err)
	}
	return info, nil
}

func wavSeconds(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if err := d.FwdToPCM(); err != nil {
		return 0, err
	}
	if d.AvgBytesPerSec == 0 {
		return 0, fmt.Errorf("wav header has no byte rate")
	}
	return float64(d.PCMSize) / float64(d.AvgBytesPerSec), nil
}

// titleOf turns "/beats/dark_trap-loop.wav" into "dark trap-loop".
func titleOf(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.TrimSpace(strings.ReplaceAll(base, "_", " "))
}
