package node

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelahi23/Corda-BNO-membership/config"
	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/membership"
	"github.com/aelahi23/Corda-BNO-membership/network"
)

const (
	bnoName    = identity.Name("O=BNO,L=New York,C=US")
	notaryName = identity.Name("O=Notary,L=London,C=GB")
	partyName  = identity.Name("O=PartyA,L=London,C=GB")
)

func protocol() *config.Provider {
	return config.NewStaticProvider(&config.Config{
		TrustedBNO:       bnoName,
		Whitelist:        []identity.Name{bnoName},
		Notary:           notaryName,
		MembershipPolicy: config.MembershipExists,
	})
}

func newKey(t *testing.T, name identity.Name) *identity.KeyPair {
	key, err := identity.GenerateKeyPair(name)
	require.Nil(t, err)
	return key
}

func TestSetDefaults(t *testing.T) {
	hub := network.NewHub()

	c := &Config{}
	require.Nil(t, c.ApplyOptions(WithHub(hub)))
	assert.NotNil(t, c.SetDefaults(), "missing key")

	c = &Config{}
	require.Nil(t, c.ApplyOptions(WithKey(newKey(t, partyName))))
	assert.NotNil(t, c.SetDefaults(), "missing hub")

	c = &Config{}
	require.Nil(t, c.ApplyOptions(WithKey(newKey(t, partyName)), WithHub(hub)))
	assert.NotNil(t, c.SetDefaults(), "a party needs a protocol config")

	c = &Config{}
	require.Nil(t, c.ApplyOptions(WithKey(newKey(t, partyName)), WithHub(hub), WithProtocolConfig(protocol())))
	require.Nil(t, c.SetDefaults())
	assert.Equal(t, []Role{RoleParty}, c.Roles)
	assert.Equal(t, membership.ApproveManually, c.ApprovalPolicy)
	assert.NotNil(t, c.Storage)
	assert.NotNil(t, c.Directory)
	assert.Nil(t, c.Blockstore)

	c = &Config{}
	require.Nil(t, c.ApplyOptions(WithKey(newKey(t, notaryName)), WithHub(hub), WithRoles(RoleNotary)))
	require.Nil(t, c.SetDefaults())
	assert.NotNil(t, c.Blockstore)
}

func TestWithRolesRejectsUnknown(t *testing.T) {
	c := &Config{}
	require.NotNil(t, c.ApplyOptions(WithRoles(Role("oracle"))))
	_, err := ParseRole("bno")
	require.Nil(t, err)
}

func TestNodesByRole(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := network.NewHub()
	dir := identity.NewDirectory()
	common := []Option{WithHub(hub), WithDirectory(dir), WithProtocolConfig(protocol())}

	bno, err := New(ctx, append(common, WithKey(newKey(t, bnoName)), WithRoles(RoleBNO), WithApprovalPolicy(membership.ApproveAuto))...)
	require.Nil(t, err)
	defer bno.Stop()
	assert.NotNil(t, bno.Membership())
	assert.Nil(t, bno.Flows())
	assert.Nil(t, bno.Notary())

	n, err := New(ctx, append(common, WithKey(newKey(t, notaryName)), WithRoles(RoleNotary))...)
	require.Nil(t, err)
	defer n.Stop()
	assert.NotNil(t, n.Notary())
	assert.Nil(t, n.Vault())

	party, err := New(ctx, append(common, WithKey(newKey(t, partyName)))...)
	require.Nil(t, err)
	defer party.Stop()
	assert.True(t, party.HasRole(RoleParty))
	require.NotNil(t, party.Flows())
	require.NotNil(t, party.Vault())

	_, ok := dir.Lookup(partyName)
	assert.True(t, ok)

	record, err := party.Flows().RequestMembership(ctx, map[string]string{"role": "buyer"})
	require.Nil(t, err)
	assert.Equal(t, membership.StatusActive, record.Status)

	stored, err := bno.Membership().Get(partyName)
	require.Nil(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "buyer", stored.Metadata["role"])

	_, err = party.Flows().Issue(ctx)
	require.Nil(t, err)
}

func TestDuplicateNameFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := network.NewHub()
	key := newKey(t, notaryName)
	first, err := New(ctx, WithHub(hub), WithKey(key), WithRoles(RoleNotary))
	require.Nil(t, err)
	defer first.Stop()

	_, err = New(ctx, WithHub(hub), WithKey(key), WithRoles(RoleNotary))
	require.NotNil(t, err)
}

func TestStopIsIdempotent(t *testing.T) {
	n, err := New(context.Background(), WithHub(network.NewHub()), WithKey(newKey(t, notaryName)), WithRoles(RoleNotary))
	require.Nil(t, err)
	n.Stop()
	n.Stop()
}
