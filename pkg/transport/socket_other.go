// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !linux

package transport

import "syscall"

// socketControl keeps the platform's socket defaults; buffer sizes are still applied after binding.
func socketControl(_ HostConfig) func(network, address string, c syscall.RawConn) error {
	return nil
}
