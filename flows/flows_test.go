package flows_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelahi23/Corda-BNO-membership/authz"
	"github.com/aelahi23/Corda-BNO-membership/config"
	"github.com/aelahi23/Corda-BNO-membership/contracts"
	"github.com/aelahi23/Corda-BNO-membership/flows"
	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/ledger"
	"github.com/aelahi23/Corda-BNO-membership/membership"
	"github.com/aelahi23/Corda-BNO-membership/network"
	"github.com/aelahi23/Corda-BNO-membership/notary"
	"github.com/aelahi23/Corda-BNO-membership/testnetwork"
	"github.com/aelahi23/Corda-BNO-membership/vault"
)

var usd100 = contracts.Amount{Quantity: 100, Currency: "USD"}

func cashOf(t *testing.T, v *vault.Vault, owner identity.Name) uint64 {
	states, err := v.Unconsumed(contracts.CashContractName, owner)
	require.Nil(t, err)
	var total uint64
	for _, sar := range states {
		cash, err := contracts.DecodeCash(sar.State)
		require.Nil(t, err)
		total += cash.Amount.Quantity
	}
	return total
}

func assetsOf(t *testing.T, v *vault.Vault, owner identity.Name) []ledger.StateAndRef {
	states, err := v.Unconsumed(contracts.AssetContractName, owner)
	require.Nil(t, err)
	return states
}

func issue(ctx context.Context, t *testing.T, f *flows.Flows) ledger.StateAndRef {
	stx, err := f.Issue(ctx)
	require.Nil(t, err)
	sar, err := stx.OutputRef(0)
	require.Nil(t, err)
	return sar
}

func TestIssue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tn := testnetwork.New(ctx, t, nil)
	a := tn.Party(testnetwork.PartyA)

	stx, err := a.Flows().Issue(flows.WithFlowID(ctx, "issue-1"))
	require.Nil(t, err)
	require.Nil(t, stx.VerifyNotarized(tn.Directory))
	assert.Len(t, stx.Tx.Outputs, 1)
	assert.Empty(t, stx.Tx.Inputs)

	owned := assetsOf(t, a.Vault(), testnetwork.PartyA)
	require.Len(t, owned, 1)
	asset, err := contracts.DecodeAsset(owned[0].State)
	require.Nil(t, err)
	assert.Equal(t, testnetwork.PartyA, asset.Owner)
	assert.NotEmpty(t, asset.TokenID)

	id, err := stx.ID()
	require.Nil(t, err)
	c, err := a.Flows().Checkpoint("issue-1")
	require.Nil(t, err)
	assert.Equal(t, flows.StateFinalized, c.State)
	assert.Equal(t, []flows.State{flows.StateInit, flows.StateAuthorized, flows.StateBuilt, flows.StateSelfSigned, flows.StateFinalized}, c.History)
	assert.Equal(t, id.String(), c.TxID)
	require.NotNil(t, c.Builder)
	assert.Equal(t, testnetwork.Notary, c.Builder.Notary)
}

func TestIssueThenTransfer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tn := testnetwork.New(ctx, t, nil)
	tn.Admit(ctx, t, testnetwork.PartyA, testnetwork.PartyB)
	a := tn.Party(testnetwork.PartyA)
	b := tn.Party(testnetwork.PartyB)

	issued := issue(ctx, t, a.Flows())
	stx, err := a.Flows().Transfer(flows.WithFlowID(ctx, "transfer-1"), issued.Ref, testnetwork.PartyB, usd100)
	require.Nil(t, err)
	require.Nil(t, stx.VerifyNotarized(tn.Directory))

	var assets []*contracts.AssetState
	for _, out := range stx.Tx.Outputs {
		if out.Contract == contracts.AssetContractName {
			asset, err := contracts.DecodeAsset(out)
			require.Nil(t, err)
			assets = append(assets, asset)
		}
	}
	require.Len(t, assets, 1)
	assert.Equal(t, testnetwork.PartyB, assets[0].Owner)

	id, err := stx.ID()
	require.Nil(t, err)
	observed, err := b.Vault().Transaction(id)
	require.Nil(t, err)
	observedID, err := observed.ID()
	require.Nil(t, err)
	assert.True(t, id.Equals(observedID))

	assert.Len(t, assetsOf(t, b.Vault(), testnetwork.PartyB), 1)
	assert.Empty(t, assetsOf(t, a.Vault(), testnetwork.PartyA))
	assert.Equal(t, uint64(100), cashOf(t, b.Vault(), testnetwork.PartyB))
	assert.Equal(t, uint64(0), cashOf(t, a.Vault(), testnetwork.PartyA))

	_, err = a.Vault().UnconsumedState(issued.Ref)
	assert.True(t, errors.Is(err, vault.ErrNotFound))

	c, err := a.Flows().Checkpoint("transfer-1")
	require.Nil(t, err)
	assert.Equal(t, flows.StateFinalized, c.State)
	assert.Equal(t, id.String(), c.TxID)
	assert.NotEmpty(t, c.FundingTxID)
	assert.Equal(t, testnetwork.PartyB, c.Counterparty)

	// B can move it on to C, shipping the whole chain
	c2 := tn.AddParty(ctx, t, testnetwork.PartyC)
	tn.Admit(ctx, t, testnetwork.PartyC)
	received := assetsOf(t, b.Vault(), testnetwork.PartyB)[0]
	_, err = b.Flows().Transfer(ctx, received.Ref, testnetwork.PartyC, contracts.Amount{Quantity: 5, Currency: "EUR"})
	require.Nil(t, err)
	assert.Len(t, assetsOf(t, c2.Vault(), testnetwork.PartyC), 1)
}

func TestUntrustedBNO(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tn := testnetwork.New(ctx, t, nil)
	tn.Admit(ctx, t, testnetwork.PartyB)
	a := tn.Party(testnetwork.PartyA)

	issued := issue(ctx, t, a.Flows())
	rootBefore, _, err := tn.Notary.Notary().Root()
	require.Nil(t, err)

	tn.Untrust(testnetwork.PartyA)

	var untrusted *authz.UntrustedBNOError
	_, err = a.Flows().Issue(ctx)
	assert.True(t, errors.As(err, &untrusted))

	_, err = a.Flows().Transfer(ctx, issued.Ref, testnetwork.PartyB, usd100)
	assert.True(t, errors.As(err, &untrusted))

	_, err = a.Flows().RequestMembership(ctx, nil)
	assert.True(t, errors.As(err, &untrusted))

	_, err = a.Flows().Membership(ctx, testnetwork.PartyB)
	assert.True(t, errors.As(err, &untrusted))

	// nothing was issued, funded, notarized or requested
	assert.Len(t, assetsOf(t, a.Vault(), testnetwork.PartyA), 1)
	assert.Equal(t, uint64(0), cashOf(t, a.Vault(), testnetwork.PartyA))
	rootAfter, _, err := tn.Notary.Notary().Root()
	require.Nil(t, err)
	assert.True(t, rootBefore.Equals(rootAfter))
	record, err := tn.BNO.Membership().Get(testnetwork.PartyA)
	require.Nil(t, err)
	assert.Nil(t, record)
}

func TestResponderChecksItsOwnBNO(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tn := testnetwork.New(ctx, t, nil)
	tn.Admit(ctx, t, testnetwork.PartyA, testnetwork.PartyB)
	a := tn.Party(testnetwork.PartyA)
	b := tn.Party(testnetwork.PartyB)

	issued := issue(ctx, t, a.Flows())
	tn.Untrust(testnetwork.PartyB)

	_, err := a.Flows().Transfer(ctx, issued.Ref, testnetwork.PartyB, usd100)
	var untrusted *authz.UntrustedBNOError
	require.True(t, errors.As(err, &untrusted))
	assert.Empty(t, assetsOf(t, b.Vault(), testnetwork.PartyB))
}

func TestSelfTransfer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tn := testnetwork.New(ctx, t, nil)
	a := tn.Party(testnetwork.PartyA)
	issued := issue(ctx, t, a.Flows())

	_, err := a.Flows().Transfer(flows.WithFlowID(ctx, "self"), issued.Ref, testnetwork.PartyA, usd100)
	var self *flows.SelfTransferError
	require.True(t, errors.As(err, &self))

	assert.Equal(t, uint64(0), cashOf(t, a.Vault(), testnetwork.PartyA))
	assert.Len(t, assetsOf(t, a.Vault(), testnetwork.PartyA), 1)
	c, err := a.Flows().Checkpoint("self")
	require.Nil(t, err)
	assert.Equal(t, flows.StateFailed, c.State)
	assert.Equal(t, []flows.State{flows.StateInit, flows.StateFailed}, c.History)
}

func TestNotOwner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tn := testnetwork.New(ctx, t, nil)
	tn.Admit(ctx, t, testnetwork.PartyA, testnetwork.PartyB)
	a := tn.Party(testnetwork.PartyA)
	b := tn.Party(testnetwork.PartyB)
	issued := issue(ctx, t, a.Flows())

	// B has never seen the asset
	_, err := b.Flows().Transfer(ctx, issued.Ref, testnetwork.PartyA, usd100)
	var notOwner *flows.NotOwnerError
	require.True(t, errors.As(err, &notOwner))
	assert.Equal(t, testnetwork.PartyB, notOwner.Caller)

	_, err = a.Flows().Transfer(ctx, issued.Ref, testnetwork.PartyB, usd100)
	require.Nil(t, err)

	// A no longer owns what it gave away
	_, err = a.Flows().Transfer(ctx, issued.Ref, testnetwork.PartyB, usd100)
	require.True(t, errors.As(err, &notOwner))
}

func TestUnknownCounterparty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tn := testnetwork.New(ctx, t, nil)
	tn.Admit(ctx, t, testnetwork.PartyB)
	a := tn.Party(testnetwork.PartyA)
	b := tn.Party(testnetwork.PartyB)
	issued := issue(ctx, t, a.Flows())

	_, err := a.Flows().Transfer(flows.WithFlowID(ctx, "unknown"), issued.Ref, testnetwork.PartyB, usd100)
	var unknown *flows.UnknownCounterpartyError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, testnetwork.PartyA, unknown.Party)
	assert.Equal(t, testnetwork.BNO, unknown.BNO)

	assert.Empty(t, assetsOf(t, b.Vault(), testnetwork.PartyB))
	assert.Equal(t, uint64(0), cashOf(t, b.Vault(), testnetwork.PartyB))

	c, err := a.Flows().Checkpoint("unknown")
	require.Nil(t, err)
	assert.Equal(t, flows.StateFailed, c.State)
	assert.NotContains(t, c.History, flows.StateCountersigned)

	// the funding cash stays with A and is spendable once A is admitted
	assert.Equal(t, uint64(100), cashOf(t, a.Vault(), testnetwork.PartyA))
	tn.Admit(ctx, t, testnetwork.PartyA)
	_, err = a.Flows().Transfer(ctx, issued.Ref, testnetwork.PartyB, usd100)
	require.Nil(t, err)
	assert.Equal(t, uint64(100), cashOf(t, a.Vault(), testnetwork.PartyA))
	assert.Equal(t, uint64(100), cashOf(t, b.Vault(), testnetwork.PartyB))
}

func TestMembershipPolicy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A only has a PENDING record
	for _, policy := range []config.MembershipPolicy{config.MembershipExists, config.MembershipActive} {
		tn := testnetwork.New(ctx, t, &testnetwork.Options{MembershipPolicy: policy})
		tn.Admit(ctx, t, testnetwork.PartyB)
		a := tn.Party(testnetwork.PartyA)
		record, err := a.Flows().RequestMembership(ctx, nil)
		require.Nil(t, err)
		require.Equal(t, membership.StatusPending, record.Status)

		issued := issue(ctx, t, a.Flows())
		_, err = a.Flows().Transfer(ctx, issued.Ref, testnetwork.PartyB, usd100)
		if policy == config.MembershipExists {
			require.Nil(t, err)
			continue
		}
		var unknown *flows.UnknownCounterpartyError
		require.True(t, errors.As(err, &unknown))
		assert.Equal(t, membership.StatusPending, unknown.Status)
	}
}

func TestAutoApproval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tn := testnetwork.New(ctx, t, &testnetwork.Options{ApprovalPolicy: membership.ApproveAuto})
	a := tn.Party(testnetwork.PartyA)
	b := tn.Party(testnetwork.PartyB)

	record, err := a.Flows().RequestMembership(ctx, map[string]string{"role": "seller"})
	require.Nil(t, err)
	assert.Equal(t, membership.StatusActive, record.Status)

	observed, err := b.Flows().Membership(ctx, testnetwork.PartyA)
	require.Nil(t, err)
	require.NotNil(t, observed)
	assert.Equal(t, membership.StatusActive, observed.Status)
	assert.Equal(t, "seller", observed.Metadata["role"])
}

func TestFinalizeIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tn := testnetwork.New(ctx, t, nil)
	a := tn.Party(testnetwork.PartyA)

	stx, err := a.Flows().Issue(ctx)
	require.Nil(t, err)
	id, err := stx.ID()
	require.Nil(t, err)
	root, ok, err := tn.Notary.Notary().Root()
	require.Nil(t, err)
	require.True(t, ok)

	again, err := a.Flows().Finalize(ctx, stx)
	require.Nil(t, err)
	againID, err := again.ID()
	require.Nil(t, err)
	assert.True(t, id.Equals(againID))
	assert.Equal(t, stx.Sigs, again.Sigs)

	rootAfter, _, err := tn.Notary.Notary().Root()
	require.Nil(t, err)
	assert.True(t, root.Equals(rootAfter))
	assert.Len(t, assetsOf(t, a.Vault(), testnetwork.PartyA), 1)
}

func TestResponderRefusesBadProposal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tn := testnetwork.New(ctx, t, nil)
	tn.Admit(ctx, t, testnetwork.PartyA, testnetwork.PartyB)
	a := tn.Party(testnetwork.PartyA)
	b := tn.Party(testnetwork.PartyB)

	key, err := identity.GenerateKeyPair(testnetwork.PartyA)
	require.Nil(t, err)
	asset := &contracts.AssetState{TokenID: "token", Owner: testnetwork.PartyB}
	out, err := asset.ToTransactionState()
	require.Nil(t, err)
	builder := ledger.NewBuilder("O=SomeOtherNotary,L=Oslo,C=NO")
	builder.AddOutputState(out)
	builder.AddCommand(contracts.TransferAssetCommand(testnetwork.PartyA, testnetwork.PartyB))
	stx, err := ledger.Sign(builder, key)
	require.Nil(t, err)

	s, err := a.Endpoint().OpenSession(ctx, testnetwork.PartyB, flows.TransferProtocol)
	require.Nil(t, err)
	defer s.Close()
	err = s.SendAndReceive(ctx, &flows.TransferProposal{Tx: *stx}, &flows.SignatureResponse{})
	var rejected *flows.CounterpartySignatureRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, testnetwork.PartyB, rejected.Counterparty)
	assert.Empty(t, assetsOf(t, b.Vault(), testnetwork.PartyB))
}

// propose plays a hand-built initiator against to's responder.
func propose(ctx context.Context, t *testing.T, from *network.Endpoint, to identity.Name, stx *ledger.SignedTransaction, deps ...ledger.SignedTransaction) error {
	s, err := from.OpenSession(ctx, to, flows.TransferProtocol)
	require.Nil(t, err)
	defer s.Close()
	return s.SendAndReceive(ctx, &flows.TransferProposal{Tx: *stx, Dependencies: deps}, &flows.SignatureResponse{})
}

func requireRefusedWithNothingRecorded(t *testing.T, err error, tn *testnetwork.TestNetwork, stxs ...*ledger.SignedTransaction) {
	var rejected *flows.CounterpartySignatureRejectedError
	require.True(t, errors.As(err, &rejected), "expected a rejected signature, got %v", err)
	assert.Equal(t, testnetwork.PartyB, rejected.Counterparty)

	b := tn.Party(testnetwork.PartyB)
	for _, stx := range stxs {
		id, err := stx.ID()
		require.Nil(t, err)
		has, err := b.Vault().HasTransaction(id)
		require.Nil(t, err)
		assert.False(t, has, "%s was recorded", id.String())
	}
	assert.Empty(t, assetsOf(t, b.Vault(), testnetwork.PartyB))
}

func TestResponderRefusesContractViolation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tn := testnetwork.New(ctx, t, nil)
	tn.Admit(ctx, t, testnetwork.PartyA, testnetwork.PartyB)
	a := tn.Party(testnetwork.PartyA)

	issued, err := a.Flows().Issue(ctx)
	require.Nil(t, err)
	in, err := issued.OutputRef(0)
	require.Nil(t, err)

	// right notary, right signers, but the token changes hands as a different token
	out, err := (&contracts.AssetState{TokenID: "not-the-issued-token", Owner: testnetwork.PartyB}).ToTransactionState()
	require.Nil(t, err)
	builder := ledger.NewBuilder(testnetwork.Notary)
	require.Nil(t, builder.AddInputState(in))
	builder.AddOutputState(out)
	builder.AddCommand(contracts.TransferAssetCommand(testnetwork.PartyA, testnetwork.PartyB))
	stx, err := ledger.Sign(builder, tn.Keys[testnetwork.PartyA])
	require.Nil(t, err)

	err = propose(ctx, t, a.Endpoint(), testnetwork.PartyB, stx, *issued)
	requireRefusedWithNothingRecorded(t, err, tn, stx, issued)
}

func TestResponderRefusesUnresolvableInputs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tn := testnetwork.New(ctx, t, nil)
	tn.Admit(ctx, t, testnetwork.PartyA, testnetwork.PartyB)
	a := tn.Party(testnetwork.PartyA)
	aKey := tn.Keys[testnetwork.PartyA]

	transferOf := func(issued *ledger.SignedTransaction) *ledger.SignedTransaction {
		in, err := issued.OutputRef(0)
		require.Nil(t, err)
		asset, err := contracts.DecodeAsset(in.State)
		require.Nil(t, err)
		out, err := (&contracts.AssetState{TokenID: asset.TokenID, Owner: testnetwork.PartyB}).ToTransactionState()
		require.Nil(t, err)
		builder := ledger.NewBuilder(testnetwork.Notary)
		require.Nil(t, builder.AddInputState(in))
		builder.AddOutputState(out)
		builder.AddCommand(contracts.TransferAssetCommand(testnetwork.PartyA, testnetwork.PartyB))
		stx, err := ledger.Sign(builder, aKey)
		require.Nil(t, err)
		return stx
	}

	t.Run("missing dependency", func(t *testing.T) {
		issued, err := a.Flows().Issue(ctx)
		require.Nil(t, err)
		stx := transferOf(issued)
		err = propose(ctx, t, a.Endpoint(), testnetwork.PartyB, stx)
		requireRefusedWithNothingRecorded(t, err, tn, stx, issued)
	})

	t.Run("dependency the notary never saw", func(t *testing.T) {
		asset, err := (&contracts.AssetState{TokenID: "forged", Owner: testnetwork.PartyA}).ToTransactionState()
		require.Nil(t, err)
		builder := ledger.NewBuilder(testnetwork.Notary)
		builder.AddOutputState(asset)
		builder.AddCommand(contracts.IssueAssetCommand(testnetwork.PartyA))
		forged, err := ledger.Sign(builder, aKey)
		require.Nil(t, err)

		stx := transferOf(forged)
		err = propose(ctx, t, a.Endpoint(), testnetwork.PartyB, stx, *forged)
		requireRefusedWithNothingRecorded(t, err, tn, stx, forged)
	})
}

func TestDoubleSpendFailsTransfer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tn := testnetwork.New(ctx, t, nil)
	tn.AddParty(ctx, t, testnetwork.PartyC)
	tn.Admit(ctx, t, testnetwork.PartyA, testnetwork.PartyB)
	a := tn.Party(testnetwork.PartyA)
	b := tn.Party(testnetwork.PartyB)

	issued := issue(ctx, t, a.Flows())
	asset, err := contracts.DecodeAsset(issued.State)
	require.Nil(t, err)

	// spend the asset at the notary without A's vault hearing about it
	out, err := (&contracts.AssetState{TokenID: asset.TokenID, Owner: testnetwork.PartyC}).ToTransactionState()
	require.Nil(t, err)
	builder := ledger.NewBuilder(testnetwork.Notary)
	require.Nil(t, builder.AddInputState(issued))
	builder.AddOutputState(out)
	builder.AddCommand(contracts.TransferAssetCommand(testnetwork.PartyA, testnetwork.PartyC))
	earlier, err := ledger.Sign(builder, tn.Keys[testnetwork.PartyA], tn.Keys[testnetwork.PartyC])
	require.Nil(t, err)
	_, err = tn.Notary.Notary().Notarize(ctx, earlier)
	require.Nil(t, err)
	earlierID, err := earlier.ID()
	require.Nil(t, err)

	_, err = a.Flows().Transfer(flows.WithFlowID(ctx, "double-spend"), issued.Ref, testnetwork.PartyB, usd100)
	var conflict *notary.NotarizationError
	require.True(t, errors.As(err, &conflict), "expected a notarization error, got %v", err)
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, issued.Ref.String(), conflict.Conflicts[0].Ref.String())
	assert.True(t, earlierID.Equals(conflict.Conflicts[0].ConsumedBy))

	c, err := a.Flows().Checkpoint("double-spend")
	require.Nil(t, err)
	assert.Equal(t, flows.StateFailed, c.State)
	assert.Contains(t, c.History, flows.StateCountersigned)
	assert.NotContains(t, c.History, flows.StateFinalized)

	assert.Empty(t, assetsOf(t, b.Vault(), testnetwork.PartyB))
	assert.Equal(t, uint64(0), cashOf(t, b.Vault(), testnetwork.PartyB))
	// funding is not rolled back
	assert.Equal(t, uint64(100), cashOf(t, a.Vault(), testnetwork.PartyA))
}

func TestNotaryRejectsEmptyTransaction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tn := testnetwork.New(ctx, t, nil)
	a := tn.Party(testnetwork.PartyA)

	// fails with a typed error well before the session timeout
	reqCtx, reqCancel := context.WithTimeout(ctx, 2*time.Second)
	defer reqCancel()
	s, err := a.Endpoint().OpenSession(reqCtx, testnetwork.Notary, flows.NotaryProtocol)
	require.Nil(t, err)
	defer s.Close()
	err = s.SendAndReceive(reqCtx, &ledger.SignedTransaction{}, &identity.Signature{})
	var rejected *notary.NotarizationError
	require.True(t, errors.As(err, &rejected), "expected a notarization error, got %v", err)
	assert.Contains(t, rejected.Reason, ledger.ErrNoTransaction.Error())

	_, err = a.Flows().Issue(ctx)
	require.Nil(t, err)
}
