// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package compress

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/flate"
)

// Deflate is a raw DEFLATE Compressor, tuned for speed.
type Deflate struct {
	writers sync.Pool
}

// NewDeflate creates a Deflate Compressor.
func NewDeflate() *Deflate {
	return &Deflate{}
}

func (d *Deflate) Compress(dst, src []byte) ([]byte, error) {
	buf := bytes.NewBuffer(dst)

	fw, _ := d.writers.Get().(*flate.Writer)
	if fw == nil {
		var err error
		if fw, err = flate.NewWriter(buf, flate.BestSpeed); err != nil {
			return nil, err
		}
	} else {
		fw.Reset(buf)
	}
	defer d.writers.Put(fw)

	if _, err := fw.Write(src); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Deflate) Decompress(dst, src []byte) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(src))
	defer fr.Close()

	return readAllLimited(dst, fr)
}
