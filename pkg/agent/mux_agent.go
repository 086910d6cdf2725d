// SPDX-FileCopyrightText: 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"net/netip"
	"sync"
)

// MuxAgent mimics an ApplicationAgent to be used as a multiplexer for different ApplicationAgents.
//
// Incoming Messages are forwarded to each child addressed by the Message's Recipients. PacketMessages are further
// restricted to children accepting their channel, see ChannelAgent.
type MuxAgent struct {
	sync.Mutex

	receiver chan Message
	sender   chan Message

	children []ApplicationAgent
}

// NewMuxAgent creates a new MuxAgent used to multiplex different ApplicationAgents.
func NewMuxAgent() (mux *MuxAgent) {
	mux = &MuxAgent{
		receiver: make(chan Message),
		sender:   make(chan Message),
	}

	go mux.handle()

	return
}

// deliverable checks if a child should receive this Message.
func deliverable(child ApplicationAgent, msg Message) bool {
	rec := msg.Recipients()
	if rec != nil && !AppAgentContainsPeer(child, rec) {
		return false
	}

	if pkt, ok := msg.(PacketMessage); ok {
		return AppAgentAcceptsChannel(child, pkt.Channel)
	}
	return true
}

func (mux *MuxAgent) handle() {
	defer close(mux.sender)

	for msg := range mux.receiver {
		_, isShutdown := msg.(ShutdownMessage)

		mux.Lock()
		for _, child := range mux.children {
			if isShutdown || deliverable(child, msg) {
				child.MessageReceiver() <- msg
			}
		}
		mux.Unlock()

		if isShutdown {
			return
		}
	}
}

// Register a new ApplicationAgent for this multiplexer.
// If this ApplicationAgent closes its channel or broadcasts a ShutdownMessage, it will be unregistered.
func (mux *MuxAgent) Register(agent ApplicationAgent) {
	mux.Lock()
	defer mux.Unlock()

	mux.children = append(mux.children, agent)
	go mux.forward(agent)
}

// forward a child's outgoing Messages until it shuts down.
func (mux *MuxAgent) forward(agent ApplicationAgent) {
	for msg := range agent.MessageSender() {
		if _, isShutdown := msg.(ShutdownMessage); isShutdown {
			break
		}

		mux.sender <- msg
	}

	mux.unregister(agent)
}

// unregister a previously registered ApplicationAgent and close its MessageReceiver.
func (mux *MuxAgent) unregister(agent ApplicationAgent) {
	mux.Lock()
	defer mux.Unlock()

	close(agent.MessageReceiver())

	for i, child := range mux.children {
		if child == agent {
			mux.children = append(mux.children[:i], mux.children[i+1:]...)
			break
		}
	}
}

// Accepts checks if at least one registered ApplicationAgent would receive this Message.
func (mux *MuxAgent) Accepts(msg Message) bool {
	mux.Lock()
	defer mux.Unlock()

	for _, child := range mux.children {
		if deliverable(child, msg) {
			return true
		}
	}
	return false
}

// Children is the number of currently registered ApplicationAgents.
func (mux *MuxAgent) Children() int {
	mux.Lock()
	defer mux.Unlock()

	return len(mux.children)
}

// Peers of all registered ApplicationAgents without duplicates.
func (mux *MuxAgent) Peers() (peers []netip.AddrPort) {
	mux.Lock()
	defer mux.Unlock()

	known := make(map[netip.AddrPort]struct{})
	for _, child := range mux.children {
		for _, peer := range child.Peers() {
			if _, ok := known[peer]; !ok {
				known[peer] = struct{}{}
				peers = append(peers, peer)
			}
		}
	}
	return
}

func (mux *MuxAgent) MessageReceiver() chan Message {
	return mux.receiver
}

func (mux *MuxAgent) MessageSender() chan Message {
	return mux.sender
}
