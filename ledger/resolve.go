package ledger

import (
	"errors"
	"fmt"

	"github.com/aelahi23/Corda-BNO-membership/identity"
)

// ErrUnresolvedState is returned when no known transaction produced a state.
var ErrUnresolvedState = errors.New("unresolved state")

// TransactionResolver resolves states out of a fixed set of transactions,
// falling back to another resolver (usually a vault) for the rest.
type TransactionResolver struct {
	txs      map[string]*SignedTransaction
	fallback StateResolver
}

var _ StateResolver = (*TransactionResolver)(nil)

func NewTransactionResolver(fallback StateResolver, txs ...*SignedTransaction) (*TransactionResolver, error) {
	r := &TransactionResolver{
		txs:      make(map[string]*SignedTransaction, len(txs)),
		fallback: fallback,
	}
	for _, tx := range txs {
		id, err := tx.ID()
		if err != nil {
			return nil, err
		}
		r.txs[id.String()] = tx
	}
	return r, nil
}

func (r *TransactionResolver) ResolveState(ref StateRef) (*TransactionState, error) {
	if tx, ok := r.txs[ref.TxID.String()]; ok {
		if ref.Index < 0 || ref.Index >= len(tx.Tx.Outputs) {
			return nil, fmt.Errorf("%w: %s has no output %d", ErrUnresolvedState, ref.TxID.String(), ref.Index)
		}
		state := tx.Tx.Outputs[ref.Index]
		return &state, nil
	}
	if r.fallback != nil {
		return r.fallback.ResolveState(ref)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnresolvedState, ref.String())
}

// VerifyChain checks every dependency in order: all required signers and the
// notary have signed, and the contracts accept it. The returned resolver can
// then resolve the inputs of a transaction built on top of deps.
func VerifyChain(dir *identity.Directory, known StateResolver, deps ...*SignedTransaction) (*TransactionResolver, error) {
	resolver, err := NewTransactionResolver(known, deps...)
	if err != nil {
		return nil, err
	}
	for _, dep := range deps {
		if err := dep.VerifyNotarized(dir); err != nil {
			return nil, fmt.Errorf("error verifying dependency: %w", err)
		}
		lt, err := dep.Tx.ToLedgerTransaction(resolver)
		if err != nil {
			return nil, err
		}
		if err := lt.Verify(); err != nil {
			return nil, err
		}
	}
	return resolver, nil
}
