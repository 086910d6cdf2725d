// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/rudp-go/pkg/agent"
)

// AgentManager is a proxy to connect different ApplicationAgents with a Node.
type AgentManager struct {
	node *Node

	mux    *agent.MuxAgent
	agents atomic.Int32

	closeSyn chan struct{}
	closeAck chan struct{}
}

// NewAgentManager creates a new AgentManager to proxy different ApplicationAgents for a Node.
func NewAgentManager(node *Node) (manager *AgentManager) {
	manager = &AgentManager{
		node:     node,
		mux:      agent.NewMuxAgent(),
		closeSyn: make(chan struct{}),
		closeAck: make(chan struct{}),
	}

	go manager.handler()

	return
}

func (manager *AgentManager) handler() {
	defer func() {
		close(manager.closeAck)
	}()

	for {
		select {
		case <-manager.closeSyn:
			return

		case msg, ok := <-manager.mux.MessageSender():
			if !ok {
				return
			}
			manager.handleMessage(msg)
		}
	}
}

func (manager *AgentManager) handleMessage(msg agent.Message) {
	switch msg := msg.(type) {
	case agent.PacketMessage:
		log.WithField("packet", msg).Debug("AgentManager received packet from client")
		if err := manager.node.Send(msg); err != nil {
			log.WithError(err).WithField("packet", msg).Info("AgentManager failed to send packet")
		}

	default:
		log.WithField("message", msg).Warn("AgentManager received unsupported message")
	}
}

// Register a new ApplicationAgent.
func (manager *AgentManager) Register(appAgent agent.ApplicationAgent) {
	manager.agents.Add(1)
	manager.mux.Register(appAgent)
}

// Agents is the number of ever registered ApplicationAgents.
func (manager *AgentManager) Agents() int {
	return int(manager.agents.Load())
}

// Active is the number of currently registered ApplicationAgents.
func (manager *AgentManager) Active() int {
	return manager.mux.Children()
}

// Deliver a Message to the registered ApplicationAgents, addressed by its recipients.
func (manager *AgentManager) Deliver(msg agent.Message) error {
	if pm, ok := msg.(agent.PacketMessage); ok && !manager.mux.Accepts(pm) {
		log.WithField("packet", pm).Debug("AgentManager has no registered Agent for this packet")
		return fmt.Errorf("no registered ApplicationAgent for peer %v on channel %d", pm.Peer, pm.Channel)
	}

	select {
	case manager.mux.MessageReceiver() <- msg:
		log.WithField("message", msg).Debug("AgentManager delivered message to clients")
		return nil

	case <-manager.closeSyn:
		return fmt.Errorf("AgentManager is closed")
	}
}

// Close down this AgentManager and its underlying ApplicationAgents.
func (manager *AgentManager) Close() error {
	select {
	case <-manager.closeSyn:
		return nil
	default:
	}

	select {
	case manager.mux.MessageReceiver() <- agent.ShutdownMessage{}:
	case <-time.After(time.Second):
		log.Warn("AgentManager failed to deliver shutdown to its clients")
	}

	close(manager.closeSyn)
	select {
	case <-manager.closeAck:
		return nil

	case <-time.After(time.Second):
		return fmt.Errorf("closing timed out after a second")
	}
}
