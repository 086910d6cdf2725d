// SPDX-FileCopyrightText: 2019, 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// rudp-tool creates keys, sends single messages and exchanges files through a rudpd.
package main

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// printUsage of rudp-tool and exit with an error code afterwards.
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage of %s keygen|send|exchange|ping:\n\n", os.Args[0])

	_, _ = fmt.Fprintf(os.Stderr, "%s keygen\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Prints a new private and public key, to be used as host.private-key and\n")
	_, _ = fmt.Fprintf(os.Stderr, "  connect.public-key in a rudpd configuration.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s send host:port -|filename [public-key]\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Connects to a host and sends the stdin (-) or the given file (filename) as\n")
	_, _ = fmt.Fprintf(os.Stderr, "  one reliable message. The host is authenticated if a public key is given.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s exchange websocket peer directory\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  %s registers itself as an agent for the peer on the given websocket and\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  writes incoming packets in the directory. If the user drops a new file in the\n")
	_, _ = fmt.Fprintf(os.Stderr, "  directory, it will be sent to the peer. The peer * receives from all peers,\n")
	_, _ = fmt.Fprintf(os.Stderr, "  but cannot send.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s ping websocket peer\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Sends a ping packet to the peer every second and prints its echo.\n\n")

	os.Exit(1)
}

// printFatal logs the error and exits with an error code afterwards.
func printFatal(err error, msg string) {
	log.WithError(err).Error(msg)
	os.Exit(1)
}

// readInput from the stdin (-) or a file.
func readInput(input string) ([]byte, error) {
	if input == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(input)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
	}

	switch os.Args[1] {
	case "keygen":
		keygen(os.Args[2:])

	case "send":
		send(os.Args[2:])

	case "exchange":
		startExchange(os.Args[2:])

	case "ping":
		ping(os.Args[2:])

	default:
		printUsage()
	}
}
