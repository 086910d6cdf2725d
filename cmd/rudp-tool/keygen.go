// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"

	"github.com/dtn7/rudp-go/pkg/crypto"
)

// keygen prints a new Ed25519 key pair.
func keygen(args []string) {
	if len(args) != 0 {
		printUsage()
	}

	auth, err := crypto.NewEd25519Authenticator()
	if err != nil {
		printFatal(err, "Generating key errored")
	}

	fmt.Printf("private-key = %q\n", auth.ExportPrivateKey())
	fmt.Printf("public-key  = %q\n", auth.ExportPublicKey())
}
