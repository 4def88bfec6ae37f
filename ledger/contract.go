package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/aelahi23/Corda-BNO-membership/identity"
)

// Contract verifies the part of a transaction that touches its states and commands.
type Contract interface {
	Name() string
	Verify(tx *LedgerTransaction) error
}

var (
	contractsLock sync.RWMutex
	contracts     = make(map[string]Contract)
)

// RegisterContract makes c available to Verify. Names must be unique.
func RegisterContract(c Contract) error {
	contractsLock.Lock()
	defer contractsLock.Unlock()
	if _, ok := contracts[c.Name()]; ok {
		return fmt.Errorf("contract %s already registered", c.Name())
	}
	contracts[c.Name()] = c
	return nil
}

// MustRegisterContract is RegisterContract for package init functions.
func MustRegisterContract(c Contract) {
	if err := RegisterContract(c); err != nil {
		panic(err)
	}
}

func contractFor(name string) (Contract, bool) {
	contractsLock.RLock()
	defer contractsLock.RUnlock()
	c, ok := contracts[name]
	return c, ok
}

// ContractVerificationError is returned when a transaction breaks the rules
// of one of the contracts it touches.
type ContractVerificationError struct {
	TxID     cid.Cid
	Contract string
	Err      error
}

func (e *ContractVerificationError) Error() string {
	if e.Contract == "" {
		return fmt.Sprintf("transaction %s failed verification: %v", e.TxID.String(), e.Err)
	}
	return fmt.Sprintf("transaction %s failed verification of contract %s: %v", e.TxID.String(), e.Contract, e.Err)
}

func (e *ContractVerificationError) Unwrap() error {
	return e.Err
}

// LedgerTransaction is a WireTransaction with its inputs resolved to states.
type LedgerTransaction struct {
	ID       cid.Cid
	Inputs   []StateAndRef
	Outputs  []TransactionState
	Commands []Command
	Notary   identity.Name
}

func (lt *LedgerTransaction) InputsOf(contract string) []TransactionState {
	var states []TransactionState
	for _, in := range lt.Inputs {
		if in.State.Contract == contract {
			states = append(states, in.State)
		}
	}
	return states
}

func (lt *LedgerTransaction) OutputsOf(contract string) []TransactionState {
	var states []TransactionState
	for _, out := range lt.Outputs {
		if out.Contract == contract {
			states = append(states, out)
		}
	}
	return states
}

func (lt *LedgerTransaction) CommandsOf(contract string) []Command {
	var cmds []Command
	for _, cmd := range lt.Commands {
		if cmd.Contract == contract {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

// Verify runs the structural checks and then every contract the transaction touches.
func (lt *LedgerTransaction) Verify() error {
	fail := func(contract string, err error) error {
		return &ContractVerificationError{TxID: lt.ID, Contract: contract, Err: err}
	}

	if lt.Notary == "" {
		return fail("", fmt.Errorf("no notary named"))
	}
	if len(lt.Commands) == 0 {
		return fail("", fmt.Errorf("no commands"))
	}
	seenInputs := make(map[string]bool, len(lt.Inputs))
	for _, in := range lt.Inputs {
		key := in.Ref.String()
		if seenInputs[key] {
			return fail("", fmt.Errorf("input %s consumed twice", key))
		}
		seenInputs[key] = true
	}
	for _, cmd := range lt.Commands {
		if len(cmd.Signers) == 0 {
			return fail(cmd.Contract, fmt.Errorf("command %s has no signers", cmd.Kind))
		}
	}

	names := make(map[string]struct{})
	for _, in := range lt.Inputs {
		names[in.State.Contract] = struct{}{}
	}
	for _, out := range lt.Outputs {
		names[out.Contract] = struct{}{}
	}
	for _, cmd := range lt.Commands {
		names[cmd.Contract] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		c, ok := contractFor(name)
		if !ok {
			return fail(name, fmt.Errorf("unknown contract"))
		}
		if err := c.Verify(lt); err != nil {
			return fail(name, err)
		}
	}
	return nil
}

// StateResolver finds the state a reference points at.
type StateResolver interface {
	ResolveState(ref StateRef) (*TransactionState, error)
}

// ToLedgerTransaction resolves the inputs of wt through resolver.
func (wt *WireTransaction) ToLedgerTransaction(resolver StateResolver) (*LedgerTransaction, error) {
	id, err := wt.ID()
	if err != nil {
		return nil, err
	}
	lt := &LedgerTransaction{
		ID:       id,
		Outputs:  wt.Outputs,
		Commands: wt.Commands,
		Notary:   wt.Notary,
	}
	for _, ref := range wt.Inputs {
		state, err := resolver.ResolveState(ref)
		if err != nil {
			return nil, fmt.Errorf("error resolving input %s: %w", ref.String(), err)
		}
		lt.Inputs = append(lt.Inputs, StateAndRef{Ref: ref, State: *state})
	}
	return lt, nil
}
