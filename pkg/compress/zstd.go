// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package compress

import (
	"github.com/klauspost/compress/zstd"
)

// Zstd is a Zstandard Compressor. A single encoder and decoder are shared by all goroutines.
type Zstd struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstd creates a Zstd Compressor.
func NewZstd() (*Zstd, error) {
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedFastest),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}

	decoder, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(MaxDecompressedLength))
	if err != nil {
		_ = encoder.Close()
		return nil, err
	}

	return &Zstd{encoder: encoder, decoder: decoder}, nil
}

func (z *Zstd) Compress(dst, src []byte) ([]byte, error) {
	return z.encoder.EncodeAll(src, dst), nil
}

func (z *Zstd) Decompress(dst, src []byte) ([]byte, error) {
	return z.decoder.DecodeAll(src, dst)
}

// Close releases the decoder's goroutines.
func (z *Zstd) Close() error {
	z.decoder.Close()
	return z.encoder.Close()
}
