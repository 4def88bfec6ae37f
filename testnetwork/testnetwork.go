// Package testnetwork builds an in-process network of a BNO, a notary and
// parties for tests.
package testnetwork

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aelahi23/Corda-BNO-membership/config"
	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/membership"
	"github.com/aelahi23/Corda-BNO-membership/network"
	"github.com/aelahi23/Corda-BNO-membership/node"
)

const (
	BNO    = identity.Name("O=BNO,L=New York,C=US")
	Notary = identity.Name("O=Notary,L=London,C=GB")
	PartyA = identity.Name("O=PartyA,L=London,C=GB")
	PartyB = identity.Name("O=PartyB,L=New York,C=US")
	PartyC = identity.Name("O=PartyC,L=Paris,C=FR")
)

type Options struct {
	ApprovalPolicy   membership.ApprovalPolicy
	MembershipPolicy config.MembershipPolicy
	// Parties defaults to PartyA and PartyB
	Parties        []identity.Name
	HandlerTimeout time.Duration
}

type TestNetwork struct {
	Hub       *network.Hub
	Directory *identity.Directory
	Config    *config.Config
	BNO       *node.Node
	Notary    *node.Node
	Parties   map[identity.Name]*node.Node
	// Keys lets tests sign as any node, e.g. to build hostile transactions
	Keys map[identity.Name]*identity.KeyPair
}

// New starts the network; it is stopped when ctx is done.
func New(ctx context.Context, t testing.TB, opts *Options) *TestNetwork {
	if opts == nil {
		opts = &Options{}
	}
	if len(opts.Parties) == 0 {
		opts.Parties = []identity.Name{PartyA, PartyB}
	}
	if opts.MembershipPolicy == "" {
		opts.MembershipPolicy = config.MembershipExists
	}
	if opts.HandlerTimeout == 0 {
		opts.HandlerTimeout = 10 * time.Second
	}

	tn := &TestNetwork{
		Hub:       network.NewHub(network.WithHandlerTimeout(opts.HandlerTimeout)),
		Directory: identity.NewDirectory(),
		Config: &config.Config{
			TrustedBNO:       BNO,
			Whitelist:        []identity.Name{BNO},
			Notary:           Notary,
			MembershipPolicy: opts.MembershipPolicy,
		},
		Parties: make(map[identity.Name]*node.Node),
		Keys:    make(map[identity.Name]*identity.KeyPair),
	}

	tn.BNO = tn.start(ctx, t, BNO, node.WithRoles(node.RoleBNO), node.WithApprovalPolicy(opts.ApprovalPolicy))
	tn.Notary = tn.start(ctx, t, Notary, node.WithRoles(node.RoleNotary))
	for _, name := range opts.Parties {
		tn.AddParty(ctx, t, name)
	}
	return tn
}

func (tn *TestNetwork) start(ctx context.Context, t testing.TB, name identity.Name, opts ...node.Option) *node.Node {
	key, err := identity.GenerateKeyPair(name)
	require.Nil(t, err)
	tn.Keys[name] = key
	opts = append(opts,
		node.WithKey(key),
		node.WithHub(tn.Hub),
		node.WithDirectory(tn.Directory),
		node.WithSessionTimeout(5*time.Second),
	)
	n, err := node.New(ctx, opts...)
	require.Nil(t, err)
	return n
}

// AddParty starts a party with its own copy of the network's protocol config.
func (tn *TestNetwork) AddParty(ctx context.Context, t testing.TB, name identity.Name) *node.Node {
	n := tn.start(ctx, t, name,
		node.WithRoles(node.RoleParty),
		node.WithProtocolConfig(config.NewStaticProvider(tn.Config)),
	)
	tn.Parties[name] = n
	return n
}

func (tn *TestNetwork) Party(name identity.Name) *node.Node {
	return tn.Parties[name]
}

// Admit gives every named party an ACTIVE membership with the BNO.
func (tn *TestNetwork) Admit(ctx context.Context, t testing.TB, names ...identity.Name) {
	for _, name := range names {
		record, err := tn.Party(name).Flows().RequestMembership(ctx, map[string]string{"role": "trader"})
		require.Nil(t, err)
		if !record.IsActive() {
			_, err = tn.BNO.Membership().Activate(ctx, name)
			require.Nil(t, err)
		}
	}
}

// Untrust points name at a BNO missing from its whitelist.
func (tn *TestNetwork) Untrust(name identity.Name) {
	untrusted := *tn.Config
	untrusted.TrustedBNO = "O=RogueBNO,L=Nowhere,C=XX"
	tn.Party(name).Protocol().Set(&untrusted)
}

// Node finds any node of the network by name.
func (tn *TestNetwork) Node(name identity.Name) (*node.Node, bool) {
	switch name {
	case BNO:
		return tn.BNO, true
	case Notary:
		return tn.Notary, true
	}
	n, ok := tn.Parties[name]
	return n, ok
}
