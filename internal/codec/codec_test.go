/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

package codec

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/faiface/beep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumStable(t *testing.T) {
	a, err := Checksum(strings.NewReader("kick snare kick snare"))
	require.NoError(t, err)
	b, err := Checksum(strings.NewReader("kick snare kick snare"))
	require.NoError(t, err)
	c, err := Checksum(strings.NewReader("kick snare kick hat"))
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestChecksumFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loop.bin")
	require.NoError(t, os.WriteFile(path, []byte("loop"), 0644))

	fromFile, err := ChecksumFile(path)
	require.NoError(t, err)
	direct, err := Checksum(strings.NewReader("loop"))
	require.NoError(t, err)
	assert.Equal(t, direct, fromFile)

	_, err = ChecksumFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

// constant returns n frames of value v on both channels.
func constant(n int, v float64) beep.Streamer {
	left := n
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if left == 0 {
			return 0, false
		}
		k := len(samples)
		if k > left {
			k = left
		}
		for i := 0; i < k; i++ {
			samples[i] = [2]float64{v, v}
		}
		left -= k
		return k, true
	})
}

func TestEnvelopeBlocks(t *testing.T) {
	env, err := Envelope(beep.Seq(constant(100, 0.5), constant(100, 0)), 50)
	require.NoError(t, err)
	require.Len(t, env, 4)
	assert.InDelta(t, 0.5, env[0], 1e-9)
	assert.InDelta(t, 0.5, env[1], 1e-9)
	assert.Equal(t, 0.0, env[2])
	assert.Equal(t, 0.0, env[3])
}

func TestEnvelopeKeepsPartialBlock(t *testing.T) {
	env, err := Envelope(constant(120, 0.25), 50)
	require.NoError(t, err)
	assert.Len(t, env, 3)
	assert.InDelta(t, 0.25, env[2], 1e-9)
}

func TestPeaks(t *testing.T) {
	env := []float64{0, 1, 0.5, 0.5, 0.25, 0}
	assert.Equal(t, []byte{255, 127, 63}, Peaks(env, 3))
	assert.Nil(t, Peaks(nil, 3))
	assert.Nil(t, Peaks(env, 0))
}

func TestOpenRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("not audio"), 0644))

	_, _, err := Open(path)
	assert.True(t, errors.Is(err, ErrUnsupported))
	assert.False(t, Supported(path))
	assert.True(t, Supported("/beats/Loop.WAV"))
	assert.True(t, Supported("/beats/take.opus"))
}
