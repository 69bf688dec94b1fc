package heartbeat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemInfo reports host facts for the status document.
type SystemInfo interface {
	// FreeMemory returns available memory in bytes, or 0 if unknown.
	FreeMemory() uint64
	// Platform returns the OS platform and kernel descriptions.
	Platform() (platform, kernel string)
}

// HostFacts reads host facts with gopsutil.
type HostFacts struct {
	timeout time.Duration

	once     sync.Once
	platform string
	kernel   string
}

// NewHostFacts creates a reader whose reads are bounded by timeout.
func NewHostFacts(timeout time.Duration) *HostFacts {
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &HostFacts{timeout: timeout}
}

// FreeMemory returns the memory available to new processes.
func (p *HostFacts) FreeMemory() uint64 {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0
	}
	return vm.Available
}

// Platform is read once; it does not change while the process runs.
func (p *HostFacts) Platform() (string, string) {
	p.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		info, err := host.InfoWithContext(ctx)
		if err != nil {
			p.platform, p.kernel = "unknown", "unknown"
			return
		}
		p.platform = strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
		p.kernel = strings.TrimSpace(info.KernelVersion + " " + info.KernelArch)
	})
	return p.platform, p.kernel
}
