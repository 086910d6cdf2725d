// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package compress

import (
	"bytes"

	"github.com/ulikunitz/xz"
)

// XZ is a Compressor producing xz streams. Its ratio is high, but so is its header overhead, making it a choice for
// large, compressible payloads over slow links.
type XZ struct{}

// NewXZ creates a XZ Compressor.
func NewXZ() *XZ {
	return &XZ{}
}

func (XZ) Compress(dst, src []byte) ([]byte, error) {
	buf := bytes.NewBuffer(dst)

	xzW, err := xz.NewWriter(buf)
	if err != nil {
		return nil, err
	}
	if _, err := xzW.Write(src); err != nil {
		return nil, err
	}
	if err := xzW.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (XZ) Decompress(dst, src []byte) ([]byte, error) {
	xzR, err := xz.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	return readAllLimited(dst, xzR)
}
