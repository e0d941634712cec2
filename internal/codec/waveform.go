/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

package codec

import (
	"math"

	"github.com/faiface/beep"
)

// Envelope drains s and returns the RMS energy of every block of frames,
// channels mixed to mono. A trailing partial block is kept.
func Envelope(s beep.Streamer, block int) ([]float64, error) {
	if block <= 0 {
		block = 1
	}

	var (
		out   []float64
		sum   float64
		count int
	)
	buf := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(buf)
		for i := 0; i < n; i++ {
			v := (buf[i][0] + buf[i][1]) / 2
			sum += v * v
			count++
			if count == block {
				out = append(out, math.Sqrt(sum/float64(count)))
				sum, count = 0, 0
			}
		}
		if !ok {
			break
		}
	}
	if count > 0 {
		out = append(out, math.Sqrt(sum/float64(count)))
	}
	return out, s.Err()
}

// Peaks reduces an envelope to points values (0-255) for a compact
// waveform row.
func Peaks(env []float64, points int) []byte {
	if points <= 0 || len(env) == 0 {
		return nil
	}
	step := len(env) / points
	if step == 0 {
		step = 1
	}

	var max float64
	for _, v := range env {
		if v > max {
			max = v
		}
	}

	out := make([]byte, 0, points)
	for i := 0; i < len(env) && len(out) < points; i += step {
		var peak float64
		for j := i; j < i+step && j < len(env); j++ {
			if env[j] > peak {
				peak = env[j]
			}
		}
		if max > 0 {
			peak = peak / max * 255
		}
		out = append(out, uint8(math.Min(peak, 255)))
	}
	return out
}
