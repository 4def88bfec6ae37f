package contracts

import (
	"fmt"

	cbornode "github.com/ipfs/go-ipld-cbor"

	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/ledger"
)

const (
	CashContractName = "bno.cash"

	CashIssue = "Issue"
	CashMove  = "Move"
)

func init() {
	cbornode.RegisterCborType(Amount{})
	cbornode.RegisterCborType(CashState{})
	ledger.MustRegisterContract(&CashContract{})
}

type Amount struct {
	Quantity uint64
	Currency string
}

func (a Amount) String() string {
	return fmt.Sprintf("%d %s", a.Quantity, a.Currency)
}

// CashState is a fungible funding instrument issued by Issuer.
type CashState struct {
	Amount Amount
	Owner  identity.Name
	Issuer identity.Name
}

func (c *CashState) ToTransactionState() (ledger.TransactionState, error) {
	data, err := cbornode.DumpObject(c)
	if err != nil {
		return ledger.TransactionState{}, fmt.Errorf("error encoding cash: %v", err)
	}
	return ledger.TransactionState{
		Contract: CashContractName,
		Owner:    c.Owner,
		Data:     data,
	}, nil
}

func DecodeCash(ts ledger.TransactionState) (*CashState, error) {
	if ts.Contract != CashContractName {
		return nil, fmt.Errorf("state belongs to %s, not %s", ts.Contract, CashContractName)
	}
	c := &CashState{}
	if err := cbornode.DecodeInto(ts.Data, c); err != nil {
		return nil, fmt.Errorf("error decoding cash: %v", err)
	}
	if c.Owner != ts.Owner {
		return nil, fmt.Errorf("cash owner %s does not match state owner %s", c.Owner, ts.Owner)
	}
	return c, nil
}

func IssueCashCommand(issuer identity.Name) ledger.Command {
	return ledger.Command{Contract: CashContractName, Kind: CashIssue, Signers: []identity.Name{issuer}}
}

func MoveCashCommand(owners ...identity.Name) ledger.Command {
	return ledger.Command{Contract: CashContractName, Kind: CashMove, Signers: owners}
}

type CashContract struct{}

var _ ledger.Contract = (*CashContract)(nil)

func (cc *CashContract) Name() string {
	return CashContractName
}

func (cc *CashContract) Verify(tx *ledger.LedgerTransaction) error {
	cmds := tx.CommandsOf(CashContractName)
	if len(cmds) != 1 {
		return fmt.Errorf("expected exactly one cash command, got %d", len(cmds))
	}
	cmd := cmds[0]

	inputs, err := decodeCash(tx.InputsOf(CashContractName))
	if err != nil {
		return err
	}
	outputs, err := decodeCash(tx.OutputsOf(CashContractName))
	if err != nil {
		return err
	}
	for _, out := range outputs {
		if out.Amount.Quantity == 0 {
			return fmt.Errorf("cash outputs must be positive")
		}
	}

	switch cmd.Kind {
	case CashIssue:
		if len(inputs) != 0 {
			return fmt.Errorf("issuance must not consume cash")
		}
		if len(outputs) == 0 {
			return fmt.Errorf("issuance must create cash")
		}
		for _, out := range outputs {
			if !hasSigner(cmd, out.Issuer) {
				return fmt.Errorf("issuance must be signed by the issuer %s", out.Issuer)
			}
		}
	case CashMove:
		if len(inputs) == 0 {
			return fmt.Errorf("move must consume cash")
		}
		for _, in := range inputs {
			if !hasSigner(cmd, in.Owner) {
				return fmt.Errorf("move must be signed by input owner %s", in.Owner)
			}
		}
		in, err := sumByIssuedCurrency(inputs)
		if err != nil {
			return err
		}
		out, err := sumByIssuedCurrency(outputs)
		if err != nil {
			return err
		}
		if len(in) != len(out) {
			return fmt.Errorf("move must not create or destroy issued currencies")
		}
		for key, total := range in {
			if out[key] != total {
				return fmt.Errorf("%s issued by %s is not conserved: %d in, %d out", key.currency, key.issuer, total, out[key])
			}
		}
	default:
		return fmt.Errorf("unknown cash command %s", cmd.Kind)
	}
	return nil
}

func decodeCash(states []ledger.TransactionState) ([]*CashState, error) {
	cash := make([]*CashState, len(states))
	for i, s := range states {
		c, err := DecodeCash(s)
		if err != nil {
			return nil, err
		}
		cash[i] = c
	}
	return cash, nil
}

// issuedCurrency keeps cash of different issuers apart; a move can never
// change who issued the cash it spends.
type issuedCurrency struct {
	issuer   identity.Name
	currency string
}

func sumByIssuedCurrency(cash []*CashState) (map[issuedCurrency]uint64, error) {
	totals := make(map[issuedCurrency]uint64)
	for _, c := range cash {
		key := issuedCurrency{issuer: c.Issuer, currency: c.Amount.Currency}
		next := totals[key] + c.Amount.Quantity
		if next < totals[key] {
			return nil, fmt.Errorf("%s issued by %s overflows", key.currency, key.issuer)
		}
		totals[key] = next
	}
	return totals, nil
}
