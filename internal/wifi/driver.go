package wifi

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/process"
)

// Driver modes.
const (
	ModeSupplicant = "wpa_supplicant"
	ModeExternal   = "external"
)

// supplicantRestartDelay spaces restarts of a crashing wpa_supplicant.
const supplicantRestartDelay = 5 * time.Second

// Supervisor runs the supplicant. Implemented by process.Manager.
type Supervisor interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
}

// Logger is the logging surface the driver needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Driver implements the link driver for a Linux wireless interface.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Driver struct {
	cfg    config.LinkConfig
	ctx    context.Context
	logger Logger

	// Swapped in tests.
	newSupervisor   func(binary string, args []string) Supervisor
	interfaceByName func(name string) (*net.Interface, error)
	interfaceAddrs  func(iface *net.Interface) ([]net.Addr, error)

	mu         sync.Mutex
	supervisor Supervisor
	ssid       string
	passphrase string
}

// New creates a driver for cfg.Interface. The supplicant, once started,
// lives until Disassociate or until ctx is done.
func New(ctx context.Context, cfg config.LinkConfig, logger Logger) *Driver {
	if logger == nil {
		logger = noopLogger{}
	}
	d := &Driver{
		cfg:             cfg,
		ctx:             ctx,
		logger:          logger,
		interfaceByName: net.InterfaceByName,
		interfaceAddrs:  func(iface *net.Interface) ([]net.Addr, error) { return iface.Addrs() },
	}
	d.newSupervisor = func(binary string, args []string) Supervisor {
		m := process.NewManager(process.Config{
			Name:   "wpa_supplicant",
			Binary: binary,
			Args:   args,
			RestartBackoff: func() backoff.BackOff {
				return backoff.NewConstantBackOff(supplicantRestartDelay)
			},
		})
		m.SetLogger(logger)
		return m
	}
	return d
}

func (d *Driver) external() bool {
	return d.cfg.Driver == ModeExternal
}

// Associate starts the supplicant for ssid. Repeated calls for the network
// already being joined leave a running supplicant alone.
func (d *Driver) Associate(ssid, passphrase string) error {
	if d.external() {
		return nil
	}
	if ssid == "" {
		return ErrNoSSID
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.supervisor != nil && d.supervisor.IsRunning() && d.ssid == ssid && d.passphrase == passphrase {
		return nil
	}
	if err := d.stopLocked(); err != nil {
		d.logger.Warn("stopping previous supplicant failed", "interface", d.cfg.Interface, "error", err)
	}

	path, err := writeSupplicantConfig(d.cfg.RuntimeDir, d.cfg.Interface, ssid, passphrase)
	if err != nil {
		return err
	}

	args := []string{"-i", d.cfg.Interface, "-c", path, "-D", "nl80211,wext"}
	sup := d.newSupervisor(d.cfg.SupplicantBinary, args)
	if err := sup.Start(d.ctx); err != nil {
		return err
	}
	d.supervisor = sup
	d.ssid, d.passphrase = ssid, passphrase
	d.logger.Info("wpa_supplicant started", "interface", d.cfg.Interface, "ssid", ssid)
	return nil
}

// Disassociate stops the supplicant, which drops the association.
func (d *Driver) Disassociate() error {
	if d.external() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *Driver) stopLocked() error {
	if d.supervisor == nil {
		return nil
	}
	err := d.supervisor.Stop()
	d.supervisor = nil
	d.ssid, d.passphrase = "", ""
	return err
}

// IsAssociated reports whether the kernel has the interface operationally up.
func (d *Driver) IsAssociated() bool {
	data, err := os.ReadFile(filepath.Join(d.cfg.SysfsRoot, "class", "net", d.cfg.Interface, "operstate"))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "up"
}

// LocalAddress returns the interface's first global unicast IPv4 address.
func (d *Driver) LocalAddress() netip.Addr {
	iface, err := d.interfaceByName(d.cfg.Interface)
	if err != nil {
		return netip.Addr{}
	}
	addrs, err := d.interfaceAddrs(iface)
	if err != nil {
		return netip.Addr{}
	}
	for _, a := range addrs {
		prefix, err := netip.ParsePrefix(a.String())
		if err != nil {
			continue
		}
		ip := prefix.Addr().Unmap()
		if ip.Is4() && ip.IsGlobalUnicast() {
			return ip
		}
	}
	return netip.Addr{}
}

// HardwareAddress returns the interface's MAC address.
func (d *Driver) HardwareAddress() net.HardwareAddr {
	iface, err := d.interfaceByName(d.cfg.Interface)
	if err != nil {
		return nil
	}
	return iface.HardwareAddr
}

// SignalQuality returns the signal level in dBm, or 0 when unknown.
func (d *Driver) SignalQuality() int {
	data, err := os.ReadFile(filepath.Join(d.cfg.ProcfsRoot, "net", "wireless"))
	if err != nil {
		return 0
	}
	return parseWirelessLevel(data, d.cfg.Interface)
}

// parseWirelessLevel extracts the level column for iface from the
// contents of /proc/net/wireless:
//
//	Inter-| sta-|   Quality        |   Discarded packets  ...
//	 face | tus | link level noise |  nwid  crypt   frag  ...
//	 wlan0: 0000   57.  -53.  -256        0      0      0 ...
func parseWirelessLevel(data []byte, iface string) int {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		name, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok || strings.TrimSpace(name) != iface {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 3 {
			return 0
		}
		level, err := strconv.ParseFloat(strings.TrimSuffix(fields[2], "."), 64)
		if err != nil {
			return 0
		}
		return int(level)
	}
	return 0
}
