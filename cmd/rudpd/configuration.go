// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/rudp-go/pkg/agent"
	"github.com/dtn7/rudp-go/pkg/compress"
	"github.com/dtn7/rudp-go/pkg/node"
	"github.com/dtn7/rudp-go/pkg/transport"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Logging   logConf
	Host      hostConf
	Peer      peerConf
	Simulator simulatorConf
	Discovery discoveryConf
	Agents    agentsConf
	Store     storeConf
	Connect   []connectConf
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// hostConf describes the Host-configuration block.
type hostConf struct {
	Port         int
	Bind         string
	DualMode     bool `toml:"dual-mode"`
	Broadcast    bool
	TTL          int `toml:"ttl"`
	ReceiveCount int  `toml:"receive-count"`
	ReceiveMTU   int  `toml:"receive-mtu"`
	CRC32        bool `toml:"crc32"`
	Compression  bool
	Compressor   string
	Encryption   bool
	PrivateKey   string `toml:"private-key"`
	Accept       bool
}

// peerConf describes the Peer-configuration block, the defaults for all peers.
type peerConf struct {
	ConnectAttempts     int    `toml:"connect-attempts"`
	ConnectDelay        string `toml:"connect-delay"`
	MTU                 int    `toml:"mtu"`
	PingDelay           string `toml:"ping-delay"`
	SendDelay           string `toml:"send-delay"`
	ResendCount         int    `toml:"resend-count"`
	ResendDelayJitter   string `toml:"resend-delay-jitter"`
	ResendDelayMin      string `toml:"resend-delay-min"`
	ResendDelayMax      string `toml:"resend-delay-max"`
	FragmentTimeout     string `toml:"fragment-timeout"`
	DuplicateTimeout    string `toml:"duplicate-timeout"`
	OrderedDelayMax     int    `toml:"ordered-delay-max"`
	OrderedDelayTimeout string `toml:"ordered-delay-timeout"`
	DisconnectDelay     string `toml:"disconnect-delay"`
}

// simulatorConf describes the Simulator-configuration block.
type simulatorConf struct {
	Enabled         bool
	OutgoingLoss    float64 `toml:"outgoing-loss"`
	IncomingLoss    float64 `toml:"incoming-loss"`
	OutgoingLatency string  `toml:"outgoing-latency"`
	IncomingLatency string  `toml:"incoming-latency"`
	OutgoingJitter  string  `toml:"outgoing-jitter"`
	IncomingJitter  string  `toml:"incoming-jitter"`
}

// discoveryConf describes the Discovery-configuration block.
type discoveryConf struct {
	Node     string
	IPv4     bool
	IPv6     bool
	Interval uint
	Connect  bool
}

// agentsConf describes the ApplicationAgents-configuration block.
type agentsConf struct {
	Webserver    webserverConf
	Echo         []string
	EchoChannels []int `toml:"echo-channels"`
}

// webserverConf describes the nested Webserver-configuration block.
type webserverConf struct {
	Address   string
	Websocket bool
	Rest      bool
	Metrics   bool
}

// storeConf describes the peer book's Store-configuration block.
type storeConf struct {
	Path   string
	Expire string
}

// connectConf describes a peer to connect to at startup.
type connectConf struct {
	Address   string
	PublicKey string `toml:"public-key"`
	Payload   string
	Permanent bool
}

// connectTarget is a parsed connectConf.
type connectTarget struct {
	remote    netip.AddrPort
	publicKey string
	payload   []byte
	permanent bool
}

// daemonConfig is the parsed configuration of rudpd.
type daemonConfig struct {
	node      node.Config
	discovery discoveryConf
	webserver webserverConf
	echo      []netip.AddrPort
	echoChans []uint8
	connect   []connectTarget
}

// durationParser parses optional durations, collecting all errors.
type durationParser struct {
	errs *multierror.Error
}

func (dp *durationParser) parse(field, value string, target *time.Duration) {
	if value == "" {
		return
	}

	if d, err := time.ParseDuration(value); err != nil {
		dp.errs = multierror.Append(dp.errs, fmt.Errorf("%s: %w", field, err))
	} else {
		*target = d
	}
}

// setupLogging as configured by the Logging-configuration block.
func setupLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// parseHost creates the HostConfig from its configuration block, starting from the defaults. Switches only override
// the defaults if they are present in the configuration file.
func parseHost(conf hostConf, sim simulatorConf, md toml.MetaData, dp *durationParser) (hc transport.HostConfig, err error) {
	hc = transport.DefaultHostConfig()

	hc.Port = conf.Port
	hc.DualMode = conf.DualMode
	hc.PrivateKey = conf.PrivateKey

	for _, sw := range []struct {
		key    string
		value  bool
		target *bool
	}{
		{"broadcast", conf.Broadcast, &hc.Broadcast},
		{"crc32", conf.CRC32, &hc.CRC32},
		{"compression", conf.Compression, &hc.Compression},
		{"encryption", conf.Encryption, &hc.Encryption},
	} {
		if md.IsDefined("host", sw.key) {
			*sw.target = sw.value
		}
	}

	if conf.Bind != "" {
		if hc.BindAddress, err = netip.ParseAddr(conf.Bind); err != nil {
			return
		}
	}
	if conf.TTL > 0 {
		hc.TTL = conf.TTL
	}
	if conf.ReceiveCount > 0 {
		hc.ReceiveCount = conf.ReceiveCount
	}
	if conf.ReceiveMTU > 0 {
		hc.ReceiveMTU = conf.ReceiveMTU
	}

	if conf.Compressor != "" {
		if hc.Compressor, err = compress.New(conf.Compressor); err != nil {
			return
		}
	}

	hc.Simulator = transport.SimulatorConfig{
		Enabled:      sim.Enabled,
		OutgoingLoss: sim.OutgoingLoss,
		IncomingLoss: sim.IncomingLoss,
	}
	dp.parse("simulator.outgoing-latency", sim.OutgoingLatency, &hc.Simulator.OutgoingLatency)
	dp.parse("simulator.incoming-latency", sim.IncomingLatency, &hc.Simulator.IncomingLatency)
	dp.parse("simulator.outgoing-jitter", sim.OutgoingJitter, &hc.Simulator.OutgoingJitter)
	dp.parse("simulator.incoming-jitter", sim.IncomingJitter, &hc.Simulator.IncomingJitter)

	return
}

// parsePeer creates the default PeerConfig from its configuration block, starting from the defaults.
func parsePeer(conf peerConf, dp *durationParser) transport.PeerConfig {
	pc := transport.DefaultPeerConfig()

	if conf.ConnectAttempts > 0 {
		pc.ConnectAttempts = conf.ConnectAttempts
	}
	if conf.MTU > 0 {
		pc.MTU = conf.MTU
	}
	if conf.ResendCount > 0 {
		pc.ResendCount = conf.ResendCount
	}
	if conf.OrderedDelayMax > 0 {
		pc.OrderedDelayMax = conf.OrderedDelayMax
	}

	dp.parse("peer.connect-delay", conf.ConnectDelay, &pc.ConnectDelay)
	dp.parse("peer.ping-delay", conf.PingDelay, &pc.PingDelay)
	dp.parse("peer.send-delay", conf.SendDelay, &pc.SendDelay)
	dp.parse("peer.resend-delay-jitter", conf.ResendDelayJitter, &pc.ResendDelayJitter)
	dp.parse("peer.resend-delay-min", conf.ResendDelayMin, &pc.ResendDelayMin)
	dp.parse("peer.resend-delay-max", conf.ResendDelayMax, &pc.ResendDelayMax)
	dp.parse("peer.fragment-timeout", conf.FragmentTimeout, &pc.FragmentTimeout)
	dp.parse("peer.duplicate-timeout", conf.DuplicateTimeout, &pc.DuplicateTimeout)
	dp.parse("peer.ordered-delay-timeout", conf.OrderedDelayTimeout, &pc.OrderedDelayTimeout)
	dp.parse("peer.disconnect-delay", conf.DisconnectDelay, &pc.DisconnectDelay)

	return pc
}

// parsePeerAddress parses an address, "*" being every peer.
func parsePeerAddress(addr string) (netip.AddrPort, error) {
	if addr == "*" {
		return agent.AnyPeer, nil
	}
	return netip.ParseAddrPort(addr)
}

// parseConfig reads and validates the TOML configuration file.
func parseConfig(filename string) (dc daemonConfig, err error) {
	var conf tomlConfig
	md, err := toml.DecodeFile(filename, &conf)
	if err != nil {
		return
	}

	setupLogging(conf.Logging)

	var errs *multierror.Error
	dp := &durationParser{}

	// Host and Peer
	if dc.node.Host, err = parseHost(conf.Host, conf.Simulator, md, dp); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("host: %w", err))
	}
	dc.node.Peer = parsePeer(conf.Peer, dp)
	dc.node.Accept = conf.Host.Accept

	// Store
	dc.node.StoreDir = conf.Store.Path
	dp.parse("store.expire", conf.Store.Expire, &dc.node.StoreExpire)

	// Discovery
	dc.discovery = conf.Discovery
	dc.node.ConnectDiscovered = conf.Discovery.Connect
	if dc.discovery.IPv4 || dc.discovery.IPv6 {
		if dc.discovery.Interval == 0 {
			dc.discovery.Interval = 10
		}
		if dc.discovery.Node == "" {
			errs = multierror.Append(errs, fmt.Errorf("discovery.node is empty"))
		}
	}

	// Agents
	dc.webserver = conf.Agents.Webserver
	if (dc.webserver.Websocket || dc.webserver.Rest || dc.webserver.Metrics) && dc.webserver.Address == "" {
		errs = multierror.Append(errs, fmt.Errorf("agents.webserver.address is empty"))
	}
	for _, peer := range conf.Agents.Echo {
		if addr, addrErr := parsePeerAddress(peer); addrErr != nil {
			errs = multierror.Append(errs, fmt.Errorf("agents.echo: %w", addrErr))
		} else {
			dc.echo = append(dc.echo, addr)
		}
	}
	for _, channel := range conf.Agents.EchoChannels {
		if channel < 0 || channel > 255 {
			errs = multierror.Append(errs, fmt.Errorf("agents.echo-channels: channel %d exceeds 0..255", channel))
		} else {
			dc.echoChans = append(dc.echoChans, uint8(channel))
		}
	}

	// Connect
	for _, c := range conf.Connect {
		if remote, addrErr := netip.ParseAddrPort(c.Address); addrErr != nil {
			errs = multierror.Append(errs, fmt.Errorf("connect: %w", addrErr))
		} else {
			dc.connect = append(dc.connect, connectTarget{
				remote:    remote,
				publicKey: c.PublicKey,
				payload:   []byte(c.Payload),
				permanent: c.Permanent,
			})
		}
	}

	errs = multierror.Append(errs, dp.errs)
	if err = dc.node.Host.Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err = dc.node.Peer.Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}

	err = errs.ErrorOrNil()
	return
}
