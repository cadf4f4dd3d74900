// Package netmon watches network interface state and classifies the
// current connectivity for the ambient attribute layer.
package netmon

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"github.com/rs/zerolog"
	psnet "github.com/shirou/gopsutil/v4/net"
)

// Connectivity classes, ordered from no connectivity to wired.
const (
	Offline  = "offline"
	Loopback = "loopback"
	Unknown  = "unknown"
	WiFi     = "wifi"
	Ethernet = "ethernet"
)

// DefaultInterval is the default interface poll interval.
const DefaultInterval = 30 * time.Second

// Monitor polls interface state and reports connectivity changes through
// a callback. One Monitor per pipeline.
type Monitor struct {
	interval time.Duration
	onChange func(class string)
	logger   zerolog.Logger
	probe    func() (psnet.InterfaceStatList, error)

	last string
}

// NewMonitor creates a connectivity monitor. onChange fires from the
// monitor goroutine whenever the connectivity class changes, including
// once for the initial classification.
func NewMonitor(interval time.Duration, onChange func(class string), logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		interval: interval,
		onChange: onChange,
		logger:   logger.With().Str("component", "netmon").Logger(),
		probe:    psnet.Interfaces,
	}
}

// Start polls until the context is cancelled. It classifies once
// immediately so the ambient context is populated before the first tick.
func (m *Monitor) Start(ctx context.Context) error {
	m.logger.Debug().Dur("interval", m.interval).Msg("Starting connectivity monitor")

	m.poll()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug().Msg("Stopping connectivity monitor")
			return ctx.Err()
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	class := m.classify()
	if class == m.last {
		return
	}

	m.logger.Debug().Str("from", m.last).Str("to", class).Msg("Connectivity changed")
	m.last = class
	if m.onChange != nil {
		m.onChange(class)
	}
}

func (m *Monitor) classify() string {
	ifaces, err := m.probe()
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to list network interfaces")
		return Unknown
	}
	return classify(ifaces)
}

// classify picks the best connectivity class across all usable
// interfaces. Interface-name matching is a best-effort heuristic; an up
// interface with an unrecognized name still counts as connected.
func classify(ifaces psnet.InterfaceStatList) string {
	best := Offline
	for _, iface := range ifaces {
		if !hasFlag(iface.Flags, "up") {
			continue
		}

		loopback := hasFlag(iface.Flags, "loopback")
		if !hasUsableAddr(iface, loopback) {
			continue
		}

		var class string
		switch {
		case loopback:
			class = Loopback
		case isWiFiName(iface.Name):
			class = WiFi
		case isEthernetName(iface.Name):
			class = Ethernet
		default:
			class = Unknown
		}

		if rank(class) > rank(best) {
			best = class
		}
	}
	return best
}

func rank(class string) int {
	switch class {
	case Ethernet:
		return 4
	case WiFi:
		return 3
	case Unknown:
		return 2
	case Loopback:
		return 1
	default:
		return 0
	}
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}

// hasUsableAddr reports whether the interface carries an address that
// implies real connectivity. Link-local-only interfaces do not count.
func hasUsableAddr(iface psnet.InterfaceStat, loopback bool) bool {
	for _, addr := range iface.Addrs {
		ip, err := parseAddr(addr.Addr)
		if err != nil {
			continue
		}
		if loopback {
			return true
		}
		if ip.IsGlobalUnicast() && !ip.IsLinkLocalUnicast() {
			return true
		}
	}
	return false
}

// parseAddr accepts both CIDR ("192.168.1.5/24") and bare address forms,
// which vary by platform.
func parseAddr(s string) (netip.Addr, error) {
	if prefix, err := netip.ParsePrefix(s); err == nil {
		return prefix.Addr(), nil
	}
	return netip.ParseAddr(s)
}

func isWiFiName(name string) bool {
	for _, prefix := range []string{"wl", "wifi", "ath"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func isEthernetName(name string) bool {
	for _, prefix := range []string{"en", "eth", "em", "lan"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
