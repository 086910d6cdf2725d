// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatisticsCollector exports the statistics of a Host and its Peers as Prometheus metrics.
type StatisticsCollector struct {
	host *Host

	socketBytes   *prometheus.Desc
	socketPackets *prometheus.Desc

	peers       *prometheus.Desc
	peerRTT     *prometheus.Desc
	peerBytes   *prometheus.Desc
	peerPackets *prometheus.Desc
	peerMessage *prometheus.Desc
	peerLost    *prometheus.Desc
}

// NewStatisticsCollector for a Host, to be registered at a prometheus.Registerer.
func NewStatisticsCollector(host *Host) *StatisticsCollector {
	const ns = "rudp"

	return &StatisticsCollector{
		host: host,

		socketBytes: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "host", "socket_bytes_total"),
			"Bytes sent or received by the host's socket.",
			[]string{"direction"}, nil),
		socketPackets: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "host", "socket_packets_total"),
			"Datagrams sent or received by the host's socket.",
			[]string{"direction"}, nil),

		peers: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "host", "peers"),
			"Peers of the host by state.",
			[]string{"state"}, nil),
		peerRTT: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "peer", "rtt_milliseconds"),
			"Latest round trip time of a peer.",
			[]string{"peer"}, nil),
		peerBytes: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "peer", "packet_bytes_total"),
			"Packet bytes sent to or received from a peer.",
			[]string{"peer", "direction"}, nil),
		peerPackets: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "peer", "packets_total"),
			"Packets sent to or received from a peer.",
			[]string{"peer", "direction"}, nil),
		peerMessage: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "peer", "messages_total"),
			"Messages sent to or received from a peer by kind.",
			[]string{"peer", "direction", "kind"}, nil),
		peerLost: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "peer", "messages_lost"),
			"Messages from a peer assumed to be lost.",
			[]string{"peer"}, nil),
	}
}

func (sc *StatisticsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range []*prometheus.Desc{
		sc.socketBytes, sc.socketPackets, sc.peers, sc.peerRTT,
		sc.peerBytes, sc.peerPackets, sc.peerMessage, sc.peerLost,
	} {
		ch <- desc
	}
}

func (sc *StatisticsCollector) Collect(ch chan<- prometheus.Metric) {
	hs := sc.host.Statistics()

	ch <- prometheus.MustNewConstMetric(sc.socketBytes, prometheus.CounterValue,
		float64(hs.SocketSendBytes.Load()), "send")
	ch <- prometheus.MustNewConstMetric(sc.socketBytes, prometheus.CounterValue,
		float64(hs.SocketReceiveBytes.Load()), "receive")
	ch <- prometheus.MustNewConstMetric(sc.socketPackets, prometheus.CounterValue,
		float64(hs.SocketSendCount.Load()), "send")
	ch <- prometheus.MustNewConstMetric(sc.socketPackets, prometheus.CounterValue,
		float64(hs.SocketReceiveCount.Load()), "receive")

	states := map[State]int{StateConnecting: 0, StateConnected: 0}

	for _, peer := range sc.host.Peers() {
		states[peer.State()]++

		name := peer.Remote().String()
		ps := peer.Statistics()

		ch <- prometheus.MustNewConstMetric(sc.peerRTT, prometheus.GaugeValue, float64(peer.RTT()), name)

		ch <- prometheus.MustNewConstMetric(sc.peerBytes, prometheus.CounterValue,
			float64(ps.PacketSendBytes.Load()), name, "send")
		ch <- prometheus.MustNewConstMetric(sc.peerBytes, prometheus.CounterValue,
			float64(ps.PacketReceiveBytes.Load()), name, "receive")
		ch <- prometheus.MustNewConstMetric(sc.peerPackets, prometheus.CounterValue,
			float64(ps.PacketSendCount.Load()), name, "send")
		ch <- prometheus.MustNewConstMetric(sc.peerPackets, prometheus.CounterValue,
			float64(ps.PacketReceiveCount.Load()), name, "receive")

		for _, m := range []struct {
			direction string
			kind      string
			value     int64
		}{
			{"send", "reliable", ps.MessageSendReliable.Load()},
			{"send", "unreliable", ps.MessageSendUnreliable.Load()},
			{"send", "duplicated", ps.MessageSendDuplicated.Load()},
			{"send", "acknowledge", ps.MessageSendAcknowledge.Load()},
			{"send", "ping", ps.MessageSendPing.Load()},
			{"receive", "reliable", ps.MessageReceiveReliable.Load()},
			{"receive", "unreliable", ps.MessageReceiveUnreliable.Load()},
			{"receive", "duplicated", ps.MessageReceiveDuplicated.Load()},
			{"receive", "acknowledge", ps.MessageReceiveAcknowledge.Load()},
			{"receive", "ping", ps.MessageReceivePing.Load()},
		} {
			ch <- prometheus.MustNewConstMetric(sc.peerMessage, prometheus.CounterValue,
				float64(m.value), name, m.direction, m.kind)
		}

		// Late messages decrement the lost counter again.
		ch <- prometheus.MustNewConstMetric(sc.peerLost, prometheus.GaugeValue,
			float64(ps.MessageReceiveLost.Load()), name)
	}

	for state, count := range states {
		ch <- prometheus.MustNewConstMetric(sc.peers, prometheus.GaugeValue, float64(count), state.String())
	}
}
