package node

import (
	"fmt"
	"time"

	"github.com/AsynkronIT/protoactor-go/actor"
	datastore "github.com/ipfs/go-datastore"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	logging "github.com/ipfs/go-log"

	"github.com/aelahi23/Corda-BNO-membership/config"
	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/membership"
	"github.com/aelahi23/Corda-BNO-membership/network"
	"github.com/aelahi23/Corda-BNO-membership/storage"
)

// Role is a job a node performs on the network. A node may hold several.
type Role string

const (
	RoleBNO    Role = "bno"
	RoleNotary Role = "notary"
	RoleParty  Role = "party"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleBNO, RoleNotary, RoleParty:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q, must be one of bno, notary, party", s)
	}
}

type Config struct {
	Key              *identity.KeyPair
	Roles            []Role
	Hub              *network.Hub
	Directory        *identity.Directory
	Protocol         *config.Provider
	Storage          datastore.Batching
	Blockstore       blockstore.Blockstore
	ApprovalPolicy   membership.ApprovalPolicy
	SessionTimeout   time.Duration
	RootActorContext *actor.RootContext
	Logger           logging.EventLogger
}

type Option func(c *Config) error

func (c *Config) hasRole(r Role) bool {
	for _, role := range c.Roles {
		if role == r {
			return true
		}
	}
	return false
}

// SetDefaults fills in everything but the key and hub.
func (c *Config) SetDefaults() error {
	if c.Key == nil {
		return fmt.Errorf("a node needs a key")
	}
	if c.Hub == nil {
		return fmt.Errorf("a node needs a hub")
	}

	var err error
	if len(c.Roles) == 0 {
		err = c.ApplyOptions(WithRoles(RoleParty))
		if err != nil {
			return err
		}
	}
	if c.Logger == nil {
		err = c.ApplyOptions(WithLogger(logging.Logger("node." + string(c.Key.Name()))))
		if err != nil {
			return err
		}
	}
	if c.Directory == nil {
		err = c.ApplyOptions(WithDirectory(identity.NewDirectory()))
		if err != nil {
			return err
		}
	}
	if c.Storage == nil {
		err = c.ApplyOptions(WithMemoryStorage())
		if err != nil {
			return err
		}
	}
	if c.Blockstore == nil && c.hasRole(RoleNotary) {
		err = c.ApplyOptions(WithBlockstore(blockstore.NewBlockstore(c.Storage)))
		if err != nil {
			return err
		}
	}
	if c.ApprovalPolicy == "" {
		err = c.ApplyOptions(WithApprovalPolicy(membership.ApproveManually))
		if err != nil {
			return err
		}
	}
	if c.RootActorContext == nil {
		err = c.ApplyOptions(WithRootActorContext(actor.EmptyRootContext))
		if err != nil {
			return err
		}
	}
	if c.Protocol == nil && c.hasRole(RoleParty) {
		return fmt.Errorf("party %s needs a protocol config", c.Key.Name())
	}
	return nil
}

func (c *Config) ApplyOptions(opts ...Option) error {
	for _, factory := range opts {
		err := factory(c)
		if err != nil {
			return fmt.Errorf("error applying option: %v", err)
		}
	}
	return nil
}

func WithKey(v *identity.KeyPair) Option {
	return func(c *Config) error {
		c.Key = v
		return nil
	}
}

func WithRoles(roles ...Role) Option {
	return func(c *Config) error {
		for _, r := range roles {
			if _, err := ParseRole(string(r)); err != nil {
				return err
			}
		}
		c.Roles = roles
		return nil
	}
}

func WithHub(v *network.Hub) Option {
	return func(c *Config) error {
		c.Hub = v
		return nil
	}
}

// WithDirectory shares a network map between nodes.
func WithDirectory(v *identity.Directory) Option {
	return func(c *Config) error {
		c.Directory = v
		return nil
	}
}

func WithProtocolConfig(v *config.Provider) Option {
	return func(c *Config) error {
		c.Protocol = v
		return nil
	}
}

// WithProtocolConfigFile loads the protocol config from a reloadable file.
func WithProtocolConfigFile(path string) Option {
	return func(c *Config) error {
		p, err := config.NewProvider(path)
		if err != nil {
			return err
		}
		return WithProtocolConfig(p)(c)
	}
}

func WithStorage(v datastore.Batching) Option {
	return func(c *Config) error {
		c.Storage = v
		return nil
	}
}

func WithMemoryStorage() Option {
	return WithStorage(storage.NewDefaultMemory())
}

func WithBlockstore(v blockstore.Blockstore) Option {
	return func(c *Config) error {
		c.Blockstore = v
		return nil
	}
}

func WithApprovalPolicy(v membership.ApprovalPolicy) Option {
	return func(c *Config) error {
		c.ApprovalPolicy = v
		return nil
	}
}

func WithSessionTimeout(v time.Duration) Option {
	return func(c *Config) error {
		if v < 0 {
			return fmt.Errorf("session timeout must not be negative")
		}
		c.SessionTimeout = v
		return nil
	}
}

func WithRootActorContext(v *actor.RootContext) Option {
	return func(c *Config) error {
		c.RootActorContext = v
		return nil
	}
}

func WithLogger(v logging.EventLogger) Option {
	return func(c *Config) error {
		c.Logger = v
		return nil
	}
}
