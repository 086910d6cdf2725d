// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

// RestConnectRequest describes a JSON to be POSTed to /connect.
type RestConnectRequest struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key,omitempty"`
	Payload   []byte `json:"payload,omitempty"`
}

// RestConnectResponse describes a JSON response for /connect.
type RestConnectResponse struct {
	Error string `json:"error"`
	Peer  string `json:"peer"`
}

// RestDisconnectRequest describes a JSON to be POSTed to /disconnect.
type RestDisconnectRequest struct {
	Address string `json:"address"`
	Payload []byte `json:"payload,omitempty"`
}

// RestDisconnectResponse describes a JSON response for /disconnect.
type RestDisconnectResponse struct {
	Error string `json:"error"`
}

// RestPeer describes a single Peer in the JSON response of /peers.
type RestPeer struct {
	Address      string  `json:"address"`
	State        string  `json:"state"`
	RTT          uint16  `json:"rtt_ms"`
	TimeDelta    float64 `json:"time_delta_ms"`
	PacketsSent  int64   `json:"packets_sent"`
	PacketsRecv  int64   `json:"packets_received"`
	MessagesSent int64   `json:"messages_sent"`
	MessagesRecv int64   `json:"messages_received"`
	MessagesLost int64   `json:"messages_lost"`
	Duplicates   int64   `json:"messages_duplicated"`
	Acknowledges int64   `json:"acknowledgements_received"`
	Encrypted    bool    `json:"encrypted"`
}

// RestStats describes the JSON response of /stats.
type RestStats struct {
	Address       string `json:"address"`
	Peers         int    `json:"peers"`
	BytesSent     int64  `json:"bytes_sent"`
	BytesRecv     int64  `json:"bytes_received"`
	PacketsSent   int64  `json:"packets_sent"`
	PacketsRecv   int64  `json:"packets_received"`
	Allocated     int64  `json:"buffers_outstanding"`
	PublicKey     string `json:"public_key"`
	AgentsTotal   int    `json:"agents"`
	AgentsActive  int    `json:"agents_active"`
	KnownPeers    int    `json:"known_peers"`
	UptimeSeconds int64  `json:"uptime_s"`
}

// RestKnownPeer describes an entry of the peer book in the JSON response of /known.
type RestKnownPeer struct {
	Address     string `json:"address"`
	Connects    int    `json:"connects"`
	Disconnects int    `json:"disconnects"`
	LastReason  string `json:"last_reason"`
	LastSeen    string `json:"last_seen"`
	Discovered  bool   `json:"discovered"`
}
