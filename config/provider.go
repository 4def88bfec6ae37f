package config

import (
	"fmt"
	"sync"
	"sync/atomic"

	logging "github.com/ipfs/go-log"
)

var logger = logging.Logger("config")

// Provider hands out the current configuration snapshot and swaps it
// atomically on reload. Readers never see a partially applied reload.
type Provider struct {
	source  string
	current atomic.Value // *Config

	reloadLock sync.Mutex
	version    uint64
}

// NewProvider loads the named resource and keeps it for later reloads.
func NewProvider(source string) (*Provider, error) {
	p := &Provider{source: source}
	_, err := p.Reload()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// NewStaticProvider serves c until Set is called. It has no resource to reload from.
func NewStaticProvider(c *Config) *Provider {
	p := &Provider{}
	p.Set(c)
	return p
}

func (p *Provider) Source() string {
	return p.source
}

func (p *Provider) Current() *Config {
	return p.current.Load().(*Config)
}

// Set publishes a copy of c as the new snapshot.
func (p *Provider) Set(c *Config) *Config {
	p.reloadLock.Lock()
	defer p.reloadLock.Unlock()
	return p.publish(c)
}

// Reload re-reads the source. On failure the previous snapshot stays current.
func (p *Provider) Reload() (*Config, error) {
	if p.source == "" {
		return nil, fmt.Errorf("error: provider has no configuration resource")
	}
	p.reloadLock.Lock()
	defer p.reloadLock.Unlock()

	c, err := LoadFile(p.source)
	if err != nil {
		logger.Warningf("reload of %s failed, keeping version %d: %v", p.source, p.version, err)
		return nil, fmt.Errorf("error reloading %s: %w", p.source, err)
	}
	published := p.publish(c)
	logger.Infof("loaded configuration %s version %d", p.source, published.Version)
	return published, nil
}

func (p *Provider) publish(c *Config) *Config {
	p.version++
	snapshot := *c
	snapshot.Whitelist = c.WhitelistedBNOs()
	snapshot.Version = p.version
	p.current.Store(&snapshot)
	return &snapshot
}
