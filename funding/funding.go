// Package funding issues and spends the cash that accompanies an asset transfer.
package funding

import (
	"fmt"

	"github.com/aelahi23/Corda-BNO-membership/contracts"
	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/ledger"
)

// InsufficientFundsError is returned when the payer's unlocked cash does not cover the amount.
type InsufficientFundsError struct {
	Payer     identity.Name
	Requested contracts.Amount
	Available uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s has %d %s available, %s requested", e.Payer, e.Available, e.Requested.Currency, e.Requested.String())
}

// CashSource is the part of a vault coin selection needs.
type CashSource interface {
	Unconsumed(contract string, owner identity.Name) ([]ledger.StateAndRef, error)
	SoftLock(lockID string, refs ...ledger.StateRef) error
	LockedByOther(ref ledger.StateRef, lockID string) bool
}

// NewIssueBuilder builds a self-issuance of amount to owner.
func NewIssueBuilder(notary identity.Name, amount contracts.Amount, owner identity.Name) (*ledger.Builder, error) {
	cash := &contracts.CashState{Amount: amount, Owner: owner, Issuer: owner}
	ts, err := cash.ToTransactionState()
	if err != nil {
		return nil, err
	}
	b := ledger.NewBuilder(notary)
	b.AddOutputState(ts)
	b.AddCommand(contracts.IssueCashCommand(owner))
	return b, nil
}

type selected struct {
	sar  ledger.StateAndRef
	cash *contracts.CashState
}

// GenerateSpend adds to b exactly the cash inputs needed to pay amount from
// payer to payee, the payment and change outputs, and a Move command signed
// by payer. The chosen inputs are soft locked under lockID.
func GenerateSpend(b *ledger.Builder, src CashSource, amount contracts.Amount, payer, payee identity.Name, lockID string) error {
	if amount.Quantity == 0 {
		return fmt.Errorf("cannot spend a zero amount")
	}
	candidates, err := src.Unconsumed(contracts.CashContractName, payer)
	if err != nil {
		return fmt.Errorf("error listing cash: %w", err)
	}

	var chosen []selected
	var total, available uint64
	for _, sar := range candidates {
		if src.LockedByOther(sar.Ref, lockID) {
			continue
		}
		cash, err := contracts.DecodeCash(sar.State)
		if err != nil {
			return err
		}
		if cash.Amount.Currency != amount.Currency {
			continue
		}
		available += cash.Amount.Quantity
		if total >= amount.Quantity {
			continue
		}
		chosen = append(chosen, selected{sar: sar, cash: cash})
		total += cash.Amount.Quantity
	}
	if total < amount.Quantity {
		return &InsufficientFundsError{Payer: payer, Requested: amount, Available: available}
	}

	refs := make([]ledger.StateRef, len(chosen))
	for i, c := range chosen {
		refs[i] = c.sar.Ref
	}
	if err := src.SoftLock(lockID, refs...); err != nil {
		return fmt.Errorf("error locking cash: %w", err)
	}

	// payments and change are kept separate per issuer
	var issuers []identity.Name
	seen := make(map[identity.Name]bool)
	payments := make(map[identity.Name]uint64)
	change := make(map[identity.Name]uint64)
	remaining := amount.Quantity
	for _, c := range chosen {
		if err := b.AddInputState(c.sar); err != nil {
			return err
		}
		if !seen[c.cash.Issuer] {
			seen[c.cash.Issuer] = true
			issuers = append(issuers, c.cash.Issuer)
		}
		pay := c.cash.Amount.Quantity
		if pay > remaining {
			pay = remaining
		}
		remaining -= pay
		if pay > 0 {
			payments[c.cash.Issuer] += pay
		}
		if rest := c.cash.Amount.Quantity - pay; rest > 0 {
			change[c.cash.Issuer] += rest
		}
	}

	addOutput := func(qty uint64, owner, issuer identity.Name) error {
		cash := &contracts.CashState{
			Amount: contracts.Amount{Quantity: qty, Currency: amount.Currency},
			Owner:  owner,
			Issuer: issuer,
		}
		ts, err := cash.ToTransactionState()
		if err != nil {
			return err
		}
		b.AddOutputState(ts)
		return nil
	}
	for _, issuer := range issuers {
		if qty := payments[issuer]; qty > 0 {
			if err := addOutput(qty, payee, issuer); err != nil {
				return err
			}
		}
		if qty := change[issuer]; qty > 0 {
			if err := addOutput(qty, payer, issuer); err != nil {
				return err
			}
		}
	}
	b.AddCommand(contracts.MoveCashCommand(payer))
	return nil
}
