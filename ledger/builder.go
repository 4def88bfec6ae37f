package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/aelahi23/Corda-BNO-membership/identity"
)

// BuilderState is everything a Builder has accumulated. It is plain data so
// that flows can checkpoint it and rebuild the Builder later.
type BuilderState struct {
	Notary   identity.Name
	Nonce    string
	Inputs   []StateAndRef
	Outputs  []TransactionState
	Commands []Command
}

// Builder assembles a transaction for a specific notary.
type Builder struct {
	state BuilderState
}

// NewBuilder starts an empty transaction. Every builder gets its own nonce so
// that two otherwise identical issuances have different ids.
func NewBuilder(notary identity.Name) *Builder {
	return &Builder{
		state: BuilderState{
			Notary: notary,
			Nonce:  uuid.New().String(),
		},
	}
}

// BuilderFromState restores a builder from a checkpointed state.
func BuilderFromState(s BuilderState) *Builder {
	return &Builder{state: s.copy()}
}

func (s BuilderState) copy() BuilderState {
	c := BuilderState{
		Notary:  s.Notary,
		Nonce:   s.Nonce,
		Inputs:  append([]StateAndRef(nil), s.Inputs...),
		Outputs: append([]TransactionState(nil), s.Outputs...),
	}
	for _, cmd := range s.Commands {
		cmd.Signers = append([]identity.Name(nil), cmd.Signers...)
		c.Commands = append(c.Commands, cmd)
	}
	return c
}

// State returns a copy of what has been accumulated so far.
func (b *Builder) State() BuilderState {
	return b.state.copy()
}

func (b *Builder) Notary() identity.Name {
	return b.state.Notary
}

// AddInputState consumes in. The same reference cannot be added twice.
func (b *Builder) AddInputState(in StateAndRef) error {
	for _, existing := range b.state.Inputs {
		if existing.Ref.TxID.Equals(in.Ref.TxID) && existing.Ref.Index == in.Ref.Index {
			return fmt.Errorf("input %s already added", in.Ref.String())
		}
	}
	b.state.Inputs = append(b.state.Inputs, in)
	return nil
}

// AddOutputState appends out and returns its output index.
func (b *Builder) AddOutputState(out TransactionState) int {
	b.state.Outputs = append(b.state.Outputs, out)
	return len(b.state.Outputs) - 1
}

func (b *Builder) AddCommand(cmd Command) {
	cmd.Signers = append([]identity.Name(nil), cmd.Signers...)
	b.state.Commands = append(b.state.Commands, cmd)
}

func (b *Builder) Inputs() []StateAndRef {
	return append([]StateAndRef(nil), b.state.Inputs...)
}

func (b *Builder) Outputs() []TransactionState {
	return append([]TransactionState(nil), b.state.Outputs...)
}

func (b *Builder) ToWireTransaction() *WireTransaction {
	s := b.state.copy()
	wt := &WireTransaction{
		Outputs:  s.Outputs,
		Commands: s.Commands,
		Notary:   s.Notary,
		Nonce:    s.Nonce,
	}
	for _, in := range s.Inputs {
		wt.Inputs = append(wt.Inputs, in.Ref)
	}
	return wt
}

// ToLedgerTransaction resolves inputs from the states the builder was given.
func (b *Builder) ToLedgerTransaction() (*LedgerTransaction, error) {
	wt := b.ToWireTransaction()
	id, err := wt.ID()
	if err != nil {
		return nil, err
	}
	return &LedgerTransaction{
		ID:       id,
		Inputs:   b.Inputs(),
		Outputs:  wt.Outputs,
		Commands: wt.Commands,
		Notary:   wt.Notary,
	}, nil
}

// Verify checks the accumulated transaction against its contracts. Violations
// are returned as *ContractVerificationError.
func (b *Builder) Verify() error {
	lt, err := b.ToLedgerTransaction()
	if err != nil {
		return err
	}
	return lt.Verify()
}
