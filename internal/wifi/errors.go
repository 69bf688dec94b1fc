package wifi

import "errors"

var (
	// ErrNoSSID is returned by Associate when no network is configured.
	ErrNoSSID = errors.New("wifi: no SSID configured")

	// ErrWriteConfig is returned when the supplicant configuration cannot be written.
	ErrWriteConfig = errors.New("wifi: writing supplicant config")
)
