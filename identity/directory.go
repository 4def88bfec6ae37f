package identity

import (
	"fmt"
	"sort"
	"sync"
)

// Directory is the network map: every party a node can talk to or verify
// signatures from.
type Directory struct {
	sync.RWMutex
	parties map[Name]*Party
}

func NewDirectory() *Directory {
	return &Directory{
		parties: make(map[Name]*Party),
	}
}

// Register adds the party. Registering the same name with a different key fails.
func (d *Directory) Register(p *Party) error {
	d.Lock()
	defer d.Unlock()
	existing, ok := d.parties[p.Name]
	if ok {
		if existing.Address() != p.Address() {
			return fmt.Errorf("party %s already registered with a different key", p.Name)
		}
		return nil
	}
	d.parties[p.Name] = p
	return nil
}

func (d *Directory) Lookup(name Name) (*Party, bool) {
	d.RLock()
	p, ok := d.parties[name]
	d.RUnlock()
	return p, ok
}

// Names returns the registered names in sorted order.
func (d *Directory) Names() []Name {
	d.RLock()
	names := make([]Name, 0, len(d.parties))
	for name := range d.parties {
		names = append(names, name)
	}
	d.RUnlock()
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
