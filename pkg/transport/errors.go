// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"errors"
	"fmt"
	"net/netip"
)

var (
	// ErrDisposed is returned when operating on a disposed Host or Peer, or while waiting when it gets disposed.
	ErrDisposed = errors.New("transport: disposed")

	// ErrNotConnected is returned when sending through a Peer which is not connected (anymore).
	ErrNotConnected = errors.New("transport: not connected")

	// ErrBroadcastDisabled is returned by SendBroadcast if HostConfig.Broadcast is false.
	ErrBroadcastDisabled = errors.New("transport: broadcast is disabled")

	// errResendExhausted ends a reliable message's resends without acknowledgement.
	errResendExhausted = errors.New("transport: no acknowledgement received")
)

// FormatError reports a received packet or message which was short, malformed, corrupted or unexpected. Such
// packets are dropped.
type FormatError struct {
	Msg    string
	Remote netip.AddrPort
	Cause  error
}

func newFormatError(remote netip.AddrPort, cause error, format string, a ...interface{}) *FormatError {
	return &FormatError{
		Msg:    fmt.Sprintf(format, a...),
		Remote: remote,
		Cause:  cause,
	}
}

func (err *FormatError) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("%s from %v: %v", err.Msg, err.Remote, err.Cause)
	}
	return fmt.Sprintf("%s from %v", err.Msg, err.Remote)
}

func (err *FormatError) Unwrap() error {
	return err.Cause
}

// ProtocolError reports a misuse of the protocol, e.g., accepting an already accepted request or receiving a second
// accept packet after being connected.
type ProtocolError struct {
	Msg    string
	Remote netip.AddrPort
	Cause  error
}

func newProtocolError(remote netip.AddrPort, cause error, format string, a ...interface{}) *ProtocolError {
	return &ProtocolError{
		Msg:    fmt.Sprintf(format, a...),
		Remote: remote,
		Cause:  cause,
	}
}

func (err *ProtocolError) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("%s (%v): %v", err.Msg, err.Remote, err.Cause)
	}
	return fmt.Sprintf("%s (%v)", err.Msg, err.Remote)
}

func (err *ProtocolError) Unwrap() error {
	return err.Cause
}

// SocketError wraps an error of the underlying UDP socket.
type SocketError struct {
	Op     string
	Remote netip.AddrPort
	Cause  error
}

func (err *SocketError) Error() string {
	if err.Remote.IsValid() {
		return fmt.Sprintf("socket %s %v: %v", err.Op, err.Remote, err.Cause)
	}
	return fmt.Sprintf("socket %s: %v", err.Op, err.Cause)
}

func (err *SocketError) Unwrap() error {
	return err.Cause
}

// DisconnectError is a disposed Peer's final error, as returned by Peer.Err.
type DisconnectError struct {
	Reason DisconnectReason
	Cause  error
}

func (err *DisconnectError) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("peer disconnected: %v: %v", err.Reason, err.Cause)
	}
	return fmt.Sprintf("peer disconnected: %v", err.Reason)
}

func (err *DisconnectError) Unwrap() error {
	return err.Cause
}
