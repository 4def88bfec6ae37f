package contracts

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/ledger"
)

const (
	alice  = identity.Name("O=Alice,L=London,C=GB")
	bob    = identity.Name("O=Bob,L=Paris,C=FR")
	notary = identity.Name("O=Notary,L=Zurich,C=CH")
)

func assetOutput(t *testing.T, token string, owner identity.Name) ledger.TransactionState {
	ts, err := (&AssetState{TokenID: token, Owner: owner}).ToTransactionState()
	require.Nil(t, err)
	return ts
}

func cashOutput(t *testing.T, qty uint64, currency string, owner identity.Name) ledger.TransactionState {
	return issuedCash(t, qty, currency, owner, owner)
}

func issuedCash(t *testing.T, qty uint64, currency string, owner, issuer identity.Name) ledger.TransactionState {
	ts, err := (&CashState{Amount: Amount{Quantity: qty, Currency: currency}, Owner: owner, Issuer: issuer}).ToTransactionState()
	require.Nil(t, err)
	return ts
}

// issued fakes an already recorded output so builders can consume it.
func issued(t *testing.T, ts ledger.TransactionState) ledger.StateAndRef {
	id, err := ledger.NewBuilder(notary).ToWireTransaction().ID()
	require.Nil(t, err)
	return ledger.StateAndRef{Ref: ledger.OutRef(id, 0), State: ts}
}

func requireVerificationError(t *testing.T, err error) {
	var cve *ledger.ContractVerificationError
	require.True(t, errors.As(err, &cve), "expected contract verification error, got %v", err)
}

func TestAssetIssue(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		b := ledger.NewBuilder(notary)
		b.AddOutputState(assetOutput(t, "token-1", alice))
		b.AddCommand(IssueAssetCommand(alice))
		require.Nil(t, b.Verify())
	})

	t.Run("owner must sign", func(t *testing.T) {
		b := ledger.NewBuilder(notary)
		b.AddOutputState(assetOutput(t, "token-1", alice))
		b.AddCommand(IssueAssetCommand(bob))
		requireVerificationError(t, b.Verify())
	})

	t.Run("exactly one output", func(t *testing.T) {
		b := ledger.NewBuilder(notary)
		b.AddOutputState(assetOutput(t, "token-1", alice))
		b.AddOutputState(assetOutput(t, "token-2", alice))
		b.AddCommand(IssueAssetCommand(alice))
		requireVerificationError(t, b.Verify())
	})

	t.Run("lifted owner must match", func(t *testing.T) {
		ts := assetOutput(t, "token-1", alice)
		ts.Owner = bob
		b := ledger.NewBuilder(notary)
		b.AddOutputState(ts)
		b.AddCommand(IssueAssetCommand(bob))
		requireVerificationError(t, b.Verify())
	})
}

func TestAssetTransfer(t *testing.T) {
	in := issued(t, assetOutput(t, "token-1", alice))

	t.Run("valid", func(t *testing.T) {
		b := ledger.NewBuilder(notary)
		require.Nil(t, b.AddInputState(in))
		b.AddOutputState(assetOutput(t, "token-1", bob))
		b.AddCommand(TransferAssetCommand(alice, bob))
		require.Nil(t, b.Verify())
	})

	t.Run("new owner must sign", func(t *testing.T) {
		b := ledger.NewBuilder(notary)
		require.Nil(t, b.AddInputState(in))
		b.AddOutputState(assetOutput(t, "token-1", bob))
		b.AddCommand(IssueAssetCommand(alice))
		requireVerificationError(t, b.Verify())
	})

	t.Run("token id is kept", func(t *testing.T) {
		b := ledger.NewBuilder(notary)
		require.Nil(t, b.AddInputState(in))
		b.AddOutputState(assetOutput(t, "token-2", bob))
		b.AddCommand(TransferAssetCommand(alice, bob))
		requireVerificationError(t, b.Verify())
	})

	t.Run("owner changes", func(t *testing.T) {
		b := ledger.NewBuilder(notary)
		require.Nil(t, b.AddInputState(in))
		b.AddOutputState(assetOutput(t, "token-1", alice))
		b.AddCommand(TransferAssetCommand(alice, alice))
		requireVerificationError(t, b.Verify())
	})
}

func TestCash(t *testing.T) {
	t.Run("issue", func(t *testing.T) {
		b := ledger.NewBuilder(notary)
		b.AddOutputState(cashOutput(t, 100, "USD", alice))
		b.AddCommand(IssueCashCommand(alice))
		require.Nil(t, b.Verify())
	})

	t.Run("issue of zero", func(t *testing.T) {
		b := ledger.NewBuilder(notary)
		b.AddOutputState(cashOutput(t, 0, "USD", alice))
		b.AddCommand(IssueCashCommand(alice))
		requireVerificationError(t, b.Verify())
	})

	in := issued(t, cashOutput(t, 100, "USD", alice))

	t.Run("move conserves", func(t *testing.T) {
		b := ledger.NewBuilder(notary)
		require.Nil(t, b.AddInputState(in))
		b.AddOutputState(issuedCash(t, 60, "USD", bob, alice))
		b.AddOutputState(cashOutput(t, 40, "USD", alice))
		b.AddCommand(MoveCashCommand(alice))
		require.Nil(t, b.Verify())
	})

	t.Run("move cannot inflate", func(t *testing.T) {
		b := ledger.NewBuilder(notary)
		require.Nil(t, b.AddInputState(in))
		b.AddOutputState(issuedCash(t, 101, "USD", bob, alice))
		b.AddCommand(MoveCashCommand(alice))
		requireVerificationError(t, b.Verify())
	})

	t.Run("move cannot change currency", func(t *testing.T) {
		b := ledger.NewBuilder(notary)
		require.Nil(t, b.AddInputState(in))
		b.AddOutputState(issuedCash(t, 100, "EUR", bob, alice))
		b.AddCommand(MoveCashCommand(alice))
		requireVerificationError(t, b.Verify())
	})

	t.Run("input owner signs", func(t *testing.T) {
		b := ledger.NewBuilder(notary)
		require.Nil(t, b.AddInputState(in))
		b.AddOutputState(issuedCash(t, 100, "USD", bob, alice))
		b.AddCommand(MoveCashCommand(bob))
		requireVerificationError(t, b.Verify())
	})

	t.Run("move cannot change issuer", func(t *testing.T) {
		b := ledger.NewBuilder(notary)
		require.Nil(t, b.AddInputState(in))
		b.AddOutputState(issuedCash(t, 100, "USD", bob, "O=CentralBank,L=Frankfurt,C=DE"))
		b.AddCommand(MoveCashCommand(alice))
		requireVerificationError(t, b.Verify())
	})

	t.Run("move keeps issuers apart", func(t *testing.T) {
		fromBob := issued(t, issuedCash(t, 50, "USD", alice, bob))
		b := ledger.NewBuilder(notary)
		require.Nil(t, b.AddInputState(in))
		require.Nil(t, b.AddInputState(fromBob))
		// same total, but alice's cash now claims bob as issuer
		b.AddOutputState(issuedCash(t, 50, "USD", bob, alice))
		b.AddOutputState(issuedCash(t, 100, "USD", bob, bob))
		b.AddCommand(MoveCashCommand(alice))
		requireVerificationError(t, b.Verify())
	})
}

func TestDecodeRejectsOtherContracts(t *testing.T) {
	_, err := DecodeAsset(cashOutput(t, 1, "USD", alice))
	require.NotNil(t, err)
	c, err := DecodeCash(cashOutput(t, 1, "USD", alice))
	require.Nil(t, err)
	assert.Equal(t, Amount{Quantity: 1, Currency: "USD"}, c.Amount)
}
