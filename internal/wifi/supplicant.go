package wifi

import (
	"crypto/sha1" //nolint:gosec // WPA-PSK key derivation is defined over SHA-1
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pskIterations = 4096
	pskKeyLen     = 32

	configPermissions = 0600
	dirPermissions    = 0750
)

// psk derives the 256-bit WPA pre-shared key for passphrase on ssid.
func psk(ssid, passphrase string) string {
	key := pbkdf2.Key([]byte(passphrase), []byte(ssid), pskIterations, pskKeyLen, sha1.New)
	return hex.EncodeToString(key)
}

// supplicantConfig renders a single-network wpa_supplicant configuration.
// The SSID is hex-encoded and the passphrase pre-hashed so neither needs
// quoting. An empty passphrase selects an open network.
func supplicantConfig(controlDir, ssid, passphrase string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ctrl_interface=DIR=%s\n", controlDir)
	b.WriteString("update_config=0\n")
	b.WriteString("network={\n")
	fmt.Fprintf(&b, "\tssid=%s\n", hex.EncodeToString([]byte(ssid)))
	b.WriteString("\tscan_ssid=1\n")
	if passphrase == "" {
		b.WriteString("\tkey_mgmt=NONE\n")
	} else {
		fmt.Fprintf(&b, "\tpsk=%s\n", psk(ssid, passphrase))
	}
	b.WriteString("}\n")
	return b.String()
}

// writeSupplicantConfig writes the configuration for iface under dir and
// returns its path.
func writeSupplicantConfig(dir, iface, ssid, passphrase string) (string, error) {
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return "", fmt.Errorf("%w: %w", ErrWriteConfig, err)
	}
	path := filepath.Join(dir, "wpa_supplicant-"+iface+".conf")
	content := supplicantConfig(filepath.Join(dir, "wpa_supplicant"), ssid, passphrase)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), configPermissions); err != nil {
		return "", fmt.Errorf("%w: %w", ErrWriteConfig, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("%w: %w", ErrWriteConfig, err)
	}
	return path, nil
}
