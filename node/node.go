// Package node assembles a network participant from its roles: a BNO
// serving membership, a notary, or a party running flows.
package node

import (
	"context"
	"fmt"

	"github.com/aelahi23/Corda-BNO-membership/config"
	"github.com/aelahi23/Corda-BNO-membership/flows"
	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/membership"
	"github.com/aelahi23/Corda-BNO-membership/network"
	"github.com/aelahi23/Corda-BNO-membership/notary"
	"github.com/aelahi23/Corda-BNO-membership/vault"
)

type Node struct {
	cfg      *Config
	endpoint *network.Endpoint

	membership *membership.Service
	notary     *notary.Service
	vault      *vault.Vault
	flows      *flows.Flows

	cancel context.CancelFunc
}

// New starts a node on its hub. The node runs until ctx is done or Stop is
// called.
func New(ctx context.Context, opts ...Option) (*Node, error) {
	c := &Config{}
	if err := c.ApplyOptions(opts...); err != nil {
		return nil, err
	}
	if err := c.SetDefaults(); err != nil {
		return nil, fmt.Errorf("error setting defaults: %v", err)
	}
	name := c.Key.Name()

	if err := c.Directory.Register(c.Key.Party()); err != nil {
		return nil, err
	}
	endpoint, err := c.Hub.NewEndpoint(name)
	if err != nil {
		return nil, fmt.Errorf("error starting endpoint: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	n := &Node{
		cfg:      c,
		endpoint: endpoint,
		cancel:   cancel,
	}
	if err := n.start(ctx); err != nil {
		n.Stop()
		return nil, err
	}
	go func() {
		<-ctx.Done()
		endpoint.Stop()
	}()
	c.Logger.Infof("%s started with roles %v", name, c.Roles)
	return n, nil
}

func (n *Node) start(ctx context.Context) error {
	c := n.cfg
	var lookup membership.Lookup

	if c.hasRole(RoleBNO) {
		l, err := membership.NewLedger(c.Storage)
		if err != nil {
			return fmt.Errorf("error opening membership ledger: %w", err)
		}
		n.membership = membership.NewService(c.Key.Name(), l, c.ApprovalPolicy)
		n.membership.Serve(n.endpoint)
		lookup = membership.NewRoutedLookup(c.Key.Name(), membership.NewLocalLookup(l), membership.NewRemoteLookup(n.endpoint))
	}

	if c.hasRole(RoleNotary) {
		s, err := notary.NewService(ctx, &notary.Options{
			Key:              c.Key,
			Directory:        c.Directory,
			Datastore:        c.Storage,
			Blockstore:       c.Blockstore,
			RootActorContext: c.RootActorContext,
		})
		if err != nil {
			return fmt.Errorf("error creating notary: %w", err)
		}
		s.Start(ctx)
		flows.ServeNotary(n.endpoint, s)
		n.notary = s
	}

	if c.hasRole(RoleParty) {
		v, err := vault.New(c.Storage)
		if err != nil {
			return fmt.Errorf("error opening vault: %w", err)
		}
		f, err := flows.New(&flows.Options{
			Key:            c.Key,
			Directory:      c.Directory,
			Endpoint:       n.endpoint,
			Vault:          v,
			Config:         c.Protocol,
			Lookup:         lookup,
			Checkpoints:    flows.NewCheckpointStore(c.Storage),
			SessionTimeout: c.SessionTimeout,
		})
		if err != nil {
			return fmt.Errorf("error creating flows: %w", err)
		}
		f.Serve()
		n.vault = v
		n.flows = f
	}
	return nil
}

// Stop shuts the node down. It is safe to call more than once.
func (n *Node) Stop() {
	n.cancel()
	n.endpoint.Stop()
}

func (n *Node) Name() identity.Name {
	return n.cfg.Key.Name()
}

func (n *Node) Party() *identity.Party {
	return n.cfg.Key.Party()
}

func (n *Node) Roles() []Role {
	return append([]Role(nil), n.cfg.Roles...)
}

func (n *Node) HasRole(r Role) bool {
	return n.cfg.hasRole(r)
}

func (n *Node) Endpoint() *network.Endpoint {
	return n.endpoint
}

// Flows is nil unless the node is a party.
func (n *Node) Flows() *flows.Flows {
	return n.flows
}

// Vault is nil unless the node is a party.
func (n *Node) Vault() *vault.Vault {
	return n.vault
}

// Membership is nil unless the node is a BNO.
func (n *Node) Membership() *membership.Service {
	return n.membership
}

// Notary is nil unless the node is a notary.
func (n *Node) Notary() *notary.Service {
	return n.notary
}

// Protocol is nil for nodes that are not parties and were given no config.
func (n *Node) Protocol() *config.Provider {
	return n.cfg.Protocol
}
