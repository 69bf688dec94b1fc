// Package wifi is the Linux wireless link driver.
//
// In "wpa_supplicant" mode the driver writes a supplicant configuration for
// the requested network and runs wpa_supplicant under the process
// supervisor, restarting it if it exits. In "external" mode another service
// (NetworkManager, systemd-networkd, a wired uplink) owns the interface and
// the driver only observes it.
//
// Link facts come from the kernel:
//   - association: <sysfs>/class/net/<iface>/operstate is "up"
//   - address: the interface's first global unicast IPv4 address
//   - signal: the level column of <procfs>/net/wireless, in dBm
package wifi
