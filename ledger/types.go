package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ipfs/go-cid"
	cbornode "github.com/ipfs/go-ipld-cbor"
	"github.com/quorumcontrol/chaintree/safewrap"

	"github.com/aelahi23/Corda-BNO-membership/identity"
)

func init() {
	cbornode.RegisterCborType(StateRef{})
	cbornode.RegisterCborType(TransactionState{})
	cbornode.RegisterCborType(StateAndRef{})
	cbornode.RegisterCborType(Command{})
	cbornode.RegisterCborType(WireTransaction{})
	cbornode.RegisterCborType(SignedTransaction{})
	cbornode.RegisterCborType(BuilderState{})
}

// StateRef points at one output of a transaction.
type StateRef struct {
	TxID  cid.Cid
	Index int
}

func (r StateRef) String() string {
	return fmt.Sprintf("%s:%d", r.TxID.String(), r.Index)
}

// TransactionState is a contract-owned output. Data holds the contract's own
// cbor encoding of the state; Owner is lifted out so vaults can index on it.
type TransactionState struct {
	Contract string
	Owner    identity.Name
	Data     []byte
}

type StateAndRef struct {
	Ref   StateRef
	State TransactionState
}

// Command names the action a contract is asked to verify and who must sign for it.
type Command struct {
	Contract string
	Kind     string
	Signers  []identity.Name
}

// WireTransaction is the unsigned, content addressed body of a transaction.
type WireTransaction struct {
	Inputs   []StateRef
	Outputs  []TransactionState
	Commands []Command
	Notary   identity.Name
	Nonce    string
}

// ID is the cid of the cbor encoding of the transaction.
func (wt *WireTransaction) ID() (cid.Cid, error) {
	sw := &safewrap.SafeWrap{}
	n := sw.WrapObject(wt)
	if sw.Err != nil {
		return cid.Undef, fmt.Errorf("error wrapping transaction: %w", sw.Err)
	}
	return n.Cid(), nil
}

// RequiredSigners is the sorted union of every command's signers.
func (wt *WireTransaction) RequiredSigners() []identity.Name {
	seen := make(map[identity.Name]struct{})
	var signers []identity.Name
	for _, cmd := range wt.Commands {
		for _, s := range cmd.Signers {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			signers = append(signers, s)
		}
	}
	sort.Slice(signers, func(i, j int) bool { return signers[i] < signers[j] })
	return signers
}

// OutRef returns the reference to output i of a transaction with the given id.
func OutRef(txID cid.Cid, i int) StateRef {
	return StateRef{TxID: txID, Index: i}
}

// Participants is every owner named by the transaction's outputs.
func (wt *WireTransaction) Participants() []identity.Name {
	seen := make(map[identity.Name]struct{})
	var names []identity.Name
	for _, out := range wt.Outputs {
		if _, ok := seen[out.Owner]; ok {
			continue
		}
		seen[out.Owner] = struct{}{}
		names = append(names, out.Owner)
	}
	return names
}

// SignedTransaction is a transaction plus the signatures collected so far.
type SignedTransaction struct {
	Tx   *WireTransaction
	Sigs []identity.Signature
}

// ErrNoTransaction is returned for a SignedTransaction without a body.
var ErrNoTransaction = errors.New("signed transaction has no transaction")

func (st *SignedTransaction) ID() (cid.Cid, error) {
	if st == nil || st.Tx == nil {
		return cid.Undef, ErrNoTransaction
	}
	return st.Tx.ID()
}

// SignatureBy returns the signature made by name, if any.
func (st *SignedTransaction) SignatureBy(name identity.Name) (identity.Signature, bool) {
	for _, sig := range st.Sigs {
		if sig.By == string(name) {
			return sig, true
		}
	}
	return identity.Signature{}, false
}

// WithSignatures returns a copy of st carrying sigs as well. A signer that
// already signed keeps its first signature.
func (st *SignedTransaction) WithSignatures(sigs ...identity.Signature) *SignedTransaction {
	next := &SignedTransaction{
		Tx:   st.Tx,
		Sigs: append([]identity.Signature(nil), st.Sigs...),
	}
	for _, sig := range sigs {
		if _, ok := next.SignatureBy(identity.Name(sig.By)); ok {
			continue
		}
		next.Sigs = append(next.Sigs, sig)
	}
	return next
}

// OutputRef returns the StateAndRef for output i.
func (st *SignedTransaction) OutputRef(i int) (StateAndRef, error) {
	if i < 0 || i >= len(st.Tx.Outputs) {
		return StateAndRef{}, fmt.Errorf("output %d out of range", i)
	}
	id, err := st.ID()
	if err != nil {
		return StateAndRef{}, err
	}
	return StateAndRef{Ref: OutRef(id, i), State: st.Tx.Outputs[i]}, nil
}

// ParseStateRef reverses StateRef.String.
func ParseStateRef(s string) (StateRef, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return StateRef{}, fmt.Errorf("error parsing state ref %q: missing index", s)
	}
	id, err := cid.Decode(s[:i])
	if err != nil {
		return StateRef{}, fmt.Errorf("error parsing state ref %q: %w", s, err)
	}
	idx, err := strconv.Atoi(s[i+1:])
	if err != nil || idx < 0 {
		return StateRef{}, fmt.Errorf("error parsing state ref %q: bad index", s)
	}
	return StateRef{TxID: id, Index: idx}, nil
}
