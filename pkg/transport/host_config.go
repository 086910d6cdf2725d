// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"

	"github.com/dtn7/rudp-go/pkg/alloc"
	"github.com/dtn7/rudp-go/pkg/compress"
	"github.com/dtn7/rudp-go/pkg/crypto"
)

// SimulatorConfig configures the artificial packet loss, latency and jitter of a Host.
type SimulatorConfig struct {
	Enabled bool

	// OutgoingLoss and IncomingLoss are probabilities between 0 and 1 to drop a packet.
	OutgoingLoss float64
	IncomingLoss float64

	OutgoingLatency time.Duration
	IncomingLatency time.Duration

	// OutgoingJitter and IncomingJitter are the maximum random delays added to the latency.
	OutgoingJitter time.Duration
	IncomingJitter time.Duration
}

// HostConfig configures a Host and its socket.
type HostConfig struct {
	// Port to bind to; zero picks any free port.
	Port int

	// BindAddress to bind to; the zero value binds to all interfaces.
	BindAddress netip.Addr

	// DualMode binds an IPv6 socket which accepts IPv4 traffic as well.
	DualMode bool

	// Broadcast allows sending and receiving broadcast packets.
	Broadcast bool

	// TTL of outgoing packets.
	TTL int

	SendBufferSize    int
	ReceiveBufferSize int

	// ReceiveCount is the number of datagrams being processed concurrently.
	ReceiveCount int

	// ReceiveMTU is the largest datagram being received. Larger datagrams are truncated.
	ReceiveMTU int

	// CRC32 adds a checksum to each packet and verifies received ones.
	CRC32 bool

	// Compression of packets, only used if the result is smaller.
	Compression bool

	// Encryption of connected packets after a key exchange.
	Encryption bool

	// PrivateKey of the Authenticator to sign connection requests with. Without, a random key is generated.
	PrivateKey string

	Allocator alloc.Config
	Simulator SimulatorConfig

	// Compressor to be used; Deflate if nil.
	Compressor compress.Compressor

	// Authenticator to sign and verify handshakes; Ed25519 if nil.
	Authenticator crypto.Authenticator

	// Exchanger creates a new key exchange per connection; X25519 if nil.
	Exchanger func() (crypto.Exchanger, error)

	// Clock for all timers and timestamps; the wall clock if nil.
	Clock clock.Clock
}

// DefaultHostConfig returns a HostConfig with CRC32, compression, encryption and broadcasts enabled.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		Port:              0,
		DualMode:          false,
		Broadcast:         true,
		TTL:               128,
		SendBufferSize:    32768,
		ReceiveBufferSize: 32768,
		ReceiveCount:      8,
		ReceiveMTU:        1500,
		CRC32:             true,
		Compression:       true,
		Encryption:        true,
		Allocator:         alloc.DefaultConfig(),
	}
}

// Validate checks the configuration, reporting all found issues.
func (conf HostConfig) Validate() error {
	var errs *multierror.Error

	if conf.Port < 0 || conf.Port > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("port %d is out of range", conf.Port))
	}
	if conf.TTL < 0 || conf.TTL > 255 {
		errs = multierror.Append(errs, fmt.Errorf("TTL %d is out of range", conf.TTL))
	}
	if conf.SendBufferSize < 0 {
		errs = multierror.Append(errs, fmt.Errorf("send buffer size %d is negative", conf.SendBufferSize))
	}
	if conf.ReceiveBufferSize < 0 {
		errs = multierror.Append(errs, fmt.Errorf("receive buffer size %d is negative", conf.ReceiveBufferSize))
	}
	if conf.ReceiveCount <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("receive count %d must be positive", conf.ReceiveCount))
	}
	if conf.ReceiveMTU < 64 || conf.ReceiveMTU > 65536 {
		errs = multierror.Append(errs, fmt.Errorf("receive MTU %d is out of range", conf.ReceiveMTU))
	}
	if conf.BindAddress.IsValid() && conf.DualMode && !conf.BindAddress.Is6() {
		errs = multierror.Append(errs, fmt.Errorf("dual mode requires an IPv6 bind address, not %v", conf.BindAddress))
	}

	sim := conf.Simulator
	if sim.OutgoingLoss < 0 || sim.OutgoingLoss > 1 || sim.IncomingLoss < 0 || sim.IncomingLoss > 1 {
		errs = multierror.Append(errs, fmt.Errorf("simulator loss must be between 0 and 1"))
	}
	if sim.OutgoingLatency < 0 || sim.IncomingLatency < 0 || sim.OutgoingJitter < 0 || sim.IncomingJitter < 0 {
		errs = multierror.Append(errs, fmt.Errorf("simulator latency and jitter must not be negative"))
	}

	return errs.ErrorOrNil()
}
