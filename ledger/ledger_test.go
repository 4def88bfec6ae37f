package ledger

import (
	"errors"
	"fmt"
	"testing"

	cbornode "github.com/ipfs/go-ipld-cbor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelahi23/Corda-BNO-membership/identity"
)

const testContractName = "ledger.test"

// testContract accepts a transaction when every output carries "ok".
type testContract struct{}

func (testContract) Name() string { return testContractName }

func (testContract) Verify(tx *LedgerTransaction) error {
	for _, out := range tx.OutputsOf(testContractName) {
		if string(out.Data) != "ok" {
			return fmt.Errorf("bad output data %q", out.Data)
		}
	}
	return nil
}

func init() {
	MustRegisterContract(testContract{})
}

type testParties struct {
	dir    *identity.Directory
	alice  *identity.KeyPair
	bob    *identity.KeyPair
	notary *identity.KeyPair
}

func newTestParties(t *testing.T) *testParties {
	tp := &testParties{dir: identity.NewDirectory()}
	gen := func(name identity.Name) *identity.KeyPair {
		key, err := identity.GenerateKeyPair(name)
		require.Nil(t, err)
		require.Nil(t, tp.dir.Register(key.Party()))
		return key
	}
	tp.alice = gen("O=Alice,L=London,C=GB")
	tp.bob = gen("O=Bob,L=Paris,C=FR")
	tp.notary = gen("O=Notary,L=Zurich,C=CH")
	return tp
}

func okOutput(owner identity.Name) TransactionState {
	return TransactionState{Contract: testContractName, Owner: owner, Data: []byte("ok")}
}

func TestBuilderStateSurvivesCheckpoint(t *testing.T) {
	tp := newTestParties(t)
	b := NewBuilder(tp.notary.Name())
	b.AddOutputState(okOutput(tp.alice.Name()))
	b.AddCommand(Command{Contract: testContractName, Kind: "Create", Signers: []identity.Name{tp.alice.Name()}})

	before, err := b.ToWireTransaction().ID()
	require.Nil(t, err)

	encoded, err := cbornode.DumpObject(b.State())
	require.Nil(t, err)
	var restoredState BuilderState
	require.Nil(t, cbornode.DecodeInto(encoded, &restoredState))

	after, err := BuilderFromState(restoredState).ToWireTransaction().ID()
	require.Nil(t, err)
	assert.True(t, before.Equals(after))
}

func TestBuilderStateIsACopy(t *testing.T) {
	tp := newTestParties(t)
	b := NewBuilder(tp.notary.Name())
	b.AddCommand(Command{Contract: testContractName, Kind: "Create", Signers: []identity.Name{tp.alice.Name()}})
	s := b.State()
	s.Commands[0].Signers[0] = tp.bob.Name()
	assert.Equal(t, tp.alice.Name(), b.State().Commands[0].Signers[0])
}

func TestNoncesDiffer(t *testing.T) {
	tp := newTestParties(t)
	a, err := NewBuilder(tp.notary.Name()).ToWireTransaction().ID()
	require.Nil(t, err)
	b, err := NewBuilder(tp.notary.Name()).ToWireTransaction().ID()
	require.Nil(t, err)
	assert.False(t, a.Equals(b))
}

func TestVerify(t *testing.T) {
	tp := newTestParties(t)

	t.Run("passes", func(t *testing.T) {
		b := NewBuilder(tp.notary.Name())
		b.AddOutputState(okOutput(tp.alice.Name()))
		b.AddCommand(Command{Contract: testContractName, Kind: "Create", Signers: []identity.Name{tp.alice.Name()}})
		require.Nil(t, b.Verify())
	})

	t.Run("contract rejects", func(t *testing.T) {
		b := NewBuilder(tp.notary.Name())
		b.AddOutputState(TransactionState{Contract: testContractName, Owner: tp.alice.Name(), Data: []byte("nope")})
		b.AddCommand(Command{Contract: testContractName, Kind: "Create", Signers: []identity.Name{tp.alice.Name()}})
		err := b.Verify()
		var cve *ContractVerificationError
		require.True(t, errors.As(err, &cve))
		assert.Equal(t, testContractName, cve.Contract)
	})

	t.Run("unknown contract", func(t *testing.T) {
		b := NewBuilder(tp.notary.Name())
		b.AddOutputState(TransactionState{Contract: "nobody.knows", Owner: tp.alice.Name()})
		b.AddCommand(Command{Contract: "nobody.knows", Kind: "Create", Signers: []identity.Name{tp.alice.Name()}})
		var cve *ContractVerificationError
		require.True(t, errors.As(b.Verify(), &cve))
	})

	t.Run("no commands", func(t *testing.T) {
		b := NewBuilder(tp.notary.Name())
		b.AddOutputState(okOutput(tp.alice.Name()))
		var cve *ContractVerificationError
		require.True(t, errors.As(b.Verify(), &cve))
	})
}

func TestDuplicateInputRejected(t *testing.T) {
	tp := newTestParties(t)
	id, err := NewBuilder(tp.notary.Name()).ToWireTransaction().ID()
	require.Nil(t, err)
	in := StateAndRef{Ref: OutRef(id, 0), State: okOutput(tp.alice.Name())}

	b := NewBuilder(tp.notary.Name())
	require.Nil(t, b.AddInputState(in))
	require.NotNil(t, b.AddInputState(in))
}

func TestSignatures(t *testing.T) {
	tp := newTestParties(t)
	b := NewBuilder(tp.notary.Name())
	b.AddOutputState(okOutput(tp.bob.Name()))
	b.AddCommand(Command{Contract: testContractName, Kind: "Move", Signers: []identity.Name{tp.alice.Name(), tp.bob.Name()}})

	stx, err := Sign(b, tp.alice)
	require.Nil(t, err)

	err = stx.VerifySignatures(tp.dir)
	var missing *MissingSignaturesError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []identity.Name{tp.bob.Name()}, missing.Missing)

	require.Nil(t, stx.VerifySignatures(tp.dir, tp.bob.Name()))

	bobSig, err := SignTransaction(stx.Tx, tp.bob)
	require.Nil(t, err)
	full := stx.WithSignatures(*bobSig, *bobSig)
	assert.Len(t, full.Sigs, 2)
	require.Nil(t, full.VerifySignatures(tp.dir))
	require.NotNil(t, full.VerifyNotarized(tp.dir))

	// a signature from the wrong key is rejected
	forged := &SignedTransaction{Tx: stx.Tx, Sigs: []identity.Signature{{By: string(tp.bob.Name()), Bytes: stx.Sigs[0].Bytes}}}
	require.NotNil(t, forged.VerifySignatures(tp.dir, tp.alice.Name()))
}

func notarize(t *testing.T, tp *testParties, b *Builder, signers ...*identity.KeyPair) *SignedTransaction {
	stx, err := Sign(b, append(signers, tp.notary)...)
	require.Nil(t, err)
	return stx
}

func TestVerifyChain(t *testing.T) {
	tp := newTestParties(t)

	issue := NewBuilder(tp.notary.Name())
	issue.AddOutputState(okOutput(tp.alice.Name()))
	issue.AddCommand(Command{Contract: testContractName, Kind: "Create", Signers: []identity.Name{tp.alice.Name()}})
	issued := notarize(t, tp, issue, tp.alice)

	in, err := issued.OutputRef(0)
	require.Nil(t, err)

	move := NewBuilder(tp.notary.Name())
	require.Nil(t, move.AddInputState(in))
	move.AddOutputState(okOutput(tp.bob.Name()))
	move.AddCommand(Command{Contract: testContractName, Kind: "Move", Signers: []identity.Name{tp.alice.Name(), tp.bob.Name()}})
	proposal, err := Sign(move, tp.alice)
	require.Nil(t, err)

	resolver, err := VerifyChain(tp.dir, nil, issued)
	require.Nil(t, err)
	lt, err := proposal.Tx.ToLedgerTransaction(resolver)
	require.Nil(t, err)
	require.Nil(t, lt.Verify())
	assert.Equal(t, tp.alice.Name(), lt.Inputs[0].State.Owner)

	t.Run("missing dependency", func(t *testing.T) {
		empty, err := NewTransactionResolver(nil)
		require.Nil(t, err)
		_, err = proposal.Tx.ToLedgerTransaction(empty)
		require.True(t, errors.Is(err, ErrUnresolvedState))
	})

	t.Run("unnotarized dependency", func(t *testing.T) {
		unnotarized, err := Sign(issue, tp.alice)
		require.Nil(t, err)
		_, err = VerifyChain(tp.dir, nil, unnotarized)
		require.NotNil(t, err)
	})
}

func TestParseStateRef(t *testing.T) {
	wt := NewBuilder("notary").ToWireTransaction()
	id, err := wt.ID()
	require.Nil(t, err)
	ref := OutRef(id, 3)

	parsed, err := ParseStateRef(ref.String())
	require.Nil(t, err)
	assert.Equal(t, ref, parsed)

	_, err = ParseStateRef(id.String())
	assert.NotNil(t, err)
	_, err = ParseStateRef("nope:1")
	assert.NotNil(t, err)
	_, err = ParseStateRef(id.String() + ":-1")
	assert.NotNil(t, err)
}
