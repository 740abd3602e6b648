// Package identity supplies the per-installation identifier attached to every
// uploaded record.
package identity

import (
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Fallback is returned when no machine identifier can be read.
const Fallback = "unknown-device"

// DefaultMachineIDPaths are tried in order.
var DefaultMachineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// appNamespace scopes derived IDs to this application so the raw machine id
// never leaves the host.
var appNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/censys/radio-survey"))

// Provider computes the identifier once and caches it.
type Provider struct {
	override string
	paths    []string
	readFile func(string) ([]byte, error)

	once sync.Once
	id   string
}

// NewProvider returns a Provider. A non-blank override is used verbatim;
// otherwise the id is derived from the first readable machine-id file.
func NewProvider(override string, paths ...string) *Provider {
	if len(paths) == 0 {
		paths = DefaultMachineIDPaths
	}
	return &Provider{
		override: strings.TrimSpace(override),
		paths:    paths,
		readFile: os.ReadFile,
	}
}

// DeviceID returns the cached identifier.
func (p *Provider) DeviceID() string {
	p.once.Do(func() {
		p.id = p.compute()
	})
	return p.id
}

func (p *Provider) compute() string {
	if p.override != "" {
		return p.override
	}
	for _, path := range p.paths {
		raw, err := p.readFile(path)
		if err != nil {
			continue
		}
		mid := strings.TrimSpace(string(raw))
		if mid == "" {
			continue
		}
		return uuid.NewSHA1(appNamespace, []byte(mid)).String()
	}
	return Fallback
}
