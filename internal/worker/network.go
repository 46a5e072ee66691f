package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/JourdanThomas/CubeSat/internal/logger"
	"github.com/JourdanThomas/CubeSat/internal/process"
)

// Network brings the worker onto the hub's network before it dials.
// Join, address assignment and leave are owned by the host's network stack.
type Network interface {
	// InterfaceUp reports whether the local interface is operational
	InterfaceUp(ctx context.Context) (bool, error)
	// Join starts joining the hub's network
	Join(ctx context.Context) error
	// AddressAssigned reports whether the interface has an address yet
	AddressAssigned(ctx context.Context) (bool, error)
	// Leave disconnects from the hub's network
	Leave(ctx context.Context) error
}

// StaticNetwork is used when the hub is already reachable, e.g. over a wired
// link or a network configured outside the worker.
type StaticNetwork struct{}

func (StaticNetwork) InterfaceUp(context.Context) (bool, error)     { return true, nil }
func (StaticNetwork) Join(context.Context) error                    { return nil }
func (StaticNetwork) AddressAssigned(context.Context) (bool, error) { return true, nil }
func (StaticNetwork) Leave(context.Context) error                   { return nil }

// NMCLINetwork joins the hub's Wi-Fi hotspot with NetworkManager
type NMCLINetwork struct {
	Interface string
	SSID      string
	Password  string
	Runner    process.Runner
}

// InterfaceUp checks `ip link show` for the UP flag
func (n *NMCLINetwork) InterfaceUp(ctx context.Context) (bool, error) {
	out, err := n.Runner.Run(ctx, "ip", "link", "show", n.Interface)
	if err != nil {
		return false, fmt.Errorf("interface %s not available: %w", n.Interface, err)
	}
	return hasLinkFlag(out, "UP"), nil
}

// hasLinkFlag looks for flag in the <...> list of `ip link` output
func hasLinkFlag(out, flag string) bool {
	_, rest, ok := strings.Cut(out, "<")
	if !ok {
		return false
	}
	flags, _, ok := strings.Cut(rest, ">")
	if !ok {
		return false
	}
	for _, f := range strings.Split(flags, ",") {
		if f == flag {
			return true
		}
	}
	return false
}

// Join connects to the hotspot
func (n *NMCLINetwork) Join(ctx context.Context) error {
	logger.Info("Attempting to connect to %s...", n.SSID)

	args := []string{"device", "wifi", "connect", n.SSID}
	if n.Password != "" {
		args = append(args, "password", n.Password)
	}
	args = append(args, "ifname", n.Interface)

	out, err := n.Runner.Run(ctx, "nmcli", args...)
	if err != nil {
		return fmt.Errorf("failed to join %s: %w", n.SSID, err)
	}
	if !strings.Contains(out, "successfully activated") {
		return fmt.Errorf("failed to join %s: %s", n.SSID, strings.TrimSpace(out))
	}

	logger.Info("Successfully connected to %s", n.SSID)
	return nil
}

// AddressAssigned checks `ip addr show` for an IPv4 address
func (n *NMCLINetwork) AddressAssigned(ctx context.Context) (bool, error) {
	out, err := n.Runner.Run(ctx, "ip", "addr", "show", n.Interface)
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "inet "), nil
}

// Leave disconnects the interface
func (n *NMCLINetwork) Leave(ctx context.Context) error {
	if _, err := n.Runner.Run(ctx, "nmcli", "device", "disconnect", n.Interface); err != nil {
		return fmt.Errorf("failed to leave %s: %w", n.SSID, err)
	}
	return nil
}
