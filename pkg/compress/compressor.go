// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package compress

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxDecompressedLength limits the output of a single Decompress call.
const MaxDecompressedLength = 16777216

// ErrTooLarge is returned if decompressed data would exceed MaxDecompressedLength.
var ErrTooLarge = errors.New("compress: decompressed data too large")

// Compressor compresses and decompresses whole packets. Implementations must be safe for concurrent use.
type Compressor interface {
	// Compress appends the compressed src to dst and returns the resulting slice.
	Compress(dst, src []byte) ([]byte, error)

	// Decompress appends the decompressed src to dst and returns the resulting slice.
	Decompress(dst, src []byte) ([]byte, error)
}

// New Compressor by its name: "deflate", "zstd" or "xz". An empty name selects deflate.
func New(name string) (Compressor, error) {
	switch strings.ToLower(name) {
	case "", "deflate":
		return NewDeflate(), nil

	case "zstd":
		return NewZstd()

	case "xz":
		return NewXZ(), nil

	default:
		return nil, fmt.Errorf("unknown compressor %q", name)
	}
}

// readAllLimited appends everything from r to dst, failing beyond MaxDecompressedLength.
func readAllLimited(dst []byte, r io.Reader) ([]byte, error) {
	start := len(dst)
	lr := io.LimitReader(r, MaxDecompressedLength+1)

	for {
		if len(dst) == cap(dst) {
			dst = append(dst, 0)[:len(dst)]
		}

		n, err := lr.Read(dst[len(dst):cap(dst)])
		dst = dst[:len(dst)+n]

		if len(dst)-start > MaxDecompressedLength {
			return nil, ErrTooLarge
		}

		if err == io.EOF {
			return dst, nil
		} else if err != nil {
			return nil, err
		}
	}
}
