// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/dtn7/rudp-go/pkg/transport/internal/msgs"
)

// PeerConfig configures a single Peer. It is comparable, which ConnectionRequest.Accept relies on.
type PeerConfig struct {
	// ConnectAttempts is the number of connection requests sent before giving up.
	ConnectAttempts int

	// ConnectDelay between two connection requests. The first ping is sent after this delay as well.
	ConnectDelay time.Duration

	// MTU is the largest packet being sent; larger packets are fragmented.
	MTU int

	// PingDelay between two pings, which measure the round trip time.
	PingDelay time.Duration

	// SendDelay to batch messages into one packet.
	SendDelay time.Duration

	// ResendCount is the number of sends of a reliable message before disconnecting with Timeout.
	ResendCount int

	// ResendDelayJitter is added to the round trip time to get the resend delay.
	ResendDelayJitter time.Duration

	ResendDelayMin time.Duration
	ResendDelayMax time.Duration

	// FragmentTimeout after which an incomplete fragmented packet is dropped.
	FragmentTimeout time.Duration

	// DuplicateTimeout for which received unique messages are remembered. Zero disables the duplicate check.
	DuplicateTimeout time.Duration

	// UnsequencedMax is the number of messages without a sequence number sent before one carries a sequence number,
	// so that the receiver can count lost messages.
	UnsequencedMax int

	// OrderedDelayMax is the number of times a reliable ordered message is delayed waiting for the missing ones.
	OrderedDelayMax int

	// OrderedDelayTimeout is the maximum time a reliable ordered message is delayed.
	OrderedDelayTimeout time.Duration

	// DisconnectDelay before disposing a peer after a disconnect.
	DisconnectDelay time.Duration

	// TimeStability between 0 and 1 of the clock delta average. Larger values weight older measurements more.
	TimeStability float64

	// RemotePublicKey to authenticate the remote peer against. Without, the remote peer is not authenticated.
	RemotePublicKey string
}

// DefaultPeerConfig returns the default PeerConfig.
func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		ConnectAttempts:     24,
		ConnectDelay:        250 * time.Millisecond,
		MTU:                 1350,
		PingDelay:           time.Second,
		SendDelay:           15 * time.Millisecond,
		ResendCount:         12,
		ResendDelayJitter:   40 * time.Millisecond,
		ResendDelayMin:      120 * time.Millisecond,
		ResendDelayMax:      800 * time.Millisecond,
		FragmentTimeout:     16 * time.Second,
		DuplicateTimeout:    2 * time.Second,
		UnsequencedMax:      64,
		OrderedDelayMax:     8,
		OrderedDelayTimeout: 4 * time.Second,
		DisconnectDelay:     300 * time.Millisecond,
		TimeStability:       0.98,
	}
}

// minMTU leaves room for all packet headers and at least one byte of fragment payload.
const minMTU = msgs.PacketHeaderLength + msgs.PacketCRCLength + msgs.PacketTicksLength + msgs.FragmentHeaderLength + 1

// Validate checks the configuration, reporting all found issues.
func (conf PeerConfig) Validate() error {
	var errs *multierror.Error

	if conf.ConnectAttempts <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("connect attempts %d must be positive", conf.ConnectAttempts))
	}
	if conf.MTU < minMTU || conf.MTU > 65507 {
		errs = multierror.Append(errs, fmt.Errorf("MTU %d is out of range [%d, 65507]", conf.MTU, minMTU))
	}
	if conf.ResendCount <= 0 || conf.ResendCount > 256 {
		errs = multierror.Append(errs, fmt.Errorf("resend count %d is out of range [1, 256]", conf.ResendCount))
	}
	if conf.ResendDelayMin > conf.ResendDelayMax {
		errs = multierror.Append(errs, fmt.Errorf("resend delay minimum %v exceeds maximum %v",
			conf.ResendDelayMin, conf.ResendDelayMax))
	}
	if conf.UnsequencedMax < 0 {
		errs = multierror.Append(errs, fmt.Errorf("unsequenced maximum %d is negative", conf.UnsequencedMax))
	}
	if conf.OrderedDelayMax < 0 {
		errs = multierror.Append(errs, fmt.Errorf("ordered delay maximum %d is negative", conf.OrderedDelayMax))
	}
	if conf.TimeStability < 0 || conf.TimeStability > 1 {
		errs = multierror.Append(errs, fmt.Errorf("time stability %v is out of range [0, 1]", conf.TimeStability))
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"connect delay", conf.ConnectDelay},
		{"ping delay", conf.PingDelay},
		{"send delay", conf.SendDelay},
		{"resend delay jitter", conf.ResendDelayJitter},
		{"resend delay minimum", conf.ResendDelayMin},
		{"fragment timeout", conf.FragmentTimeout},
		{"duplicate timeout", conf.DuplicateTimeout},
		{"ordered delay timeout", conf.OrderedDelayTimeout},
		{"disconnect delay", conf.DisconnectDelay},
	} {
		if d.value < 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s %v is negative", d.name, d.value))
		}
	}

	return errs.ErrorOrNil()
}
