// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package agent describes an interface for modules to receive and send packets through the peers of a transport
// Host.
//
// The main interface is the ApplicationAgent, which only requires two channels for incoming and outgoing Messages.
// Additionally, it requests a list of peer addresses it is interested in. Due to this flexibility, an
// ApplicationAgent can be implemented in various forms, e.g., as an external interface for third-party programs or as
// an internal module. Both possibilities are already included in this package, for example the WebSocketAgent or the
// EchoAgent.
package agent
