// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package compress contains the pluggable packet compressors of the transport.
//
// Both sides of a connection must use the same Compressor. Deflate is the default, Zstd and XZ can be selected by
// name through New, e.g., from a configuration file.
package compress
