package contracts

import (
	"fmt"

	cbornode "github.com/ipfs/go-ipld-cbor"

	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/ledger"
)

const (
	AssetContractName = "bno.asset"

	AssetIssue    = "Issue"
	AssetTransfer = "Transfer"
)

func init() {
	cbornode.RegisterCborType(AssetState{})
	ledger.MustRegisterContract(&AssetContract{})
}

// AssetState is a unique, non-fungible token with exactly one owner.
type AssetState struct {
	TokenID string
	Owner   identity.Name
}

// ToTransactionState wraps the asset for inclusion in a transaction.
func (a *AssetState) ToTransactionState() (ledger.TransactionState, error) {
	data, err := cbornode.DumpObject(a)
	if err != nil {
		return ledger.TransactionState{}, fmt.Errorf("error encoding asset: %v", err)
	}
	return ledger.TransactionState{
		Contract: AssetContractName,
		Owner:    a.Owner,
		Data:     data,
	}, nil
}

// DecodeAsset unwraps an asset and checks the lifted owner matches.
func DecodeAsset(ts ledger.TransactionState) (*AssetState, error) {
	if ts.Contract != AssetContractName {
		return nil, fmt.Errorf("state belongs to %s, not %s", ts.Contract, AssetContractName)
	}
	a := &AssetState{}
	if err := cbornode.DecodeInto(ts.Data, a); err != nil {
		return nil, fmt.Errorf("error decoding asset: %v", err)
	}
	if a.Owner != ts.Owner {
		return nil, fmt.Errorf("asset owner %s does not match state owner %s", a.Owner, ts.Owner)
	}
	return a, nil
}

// IssueAssetCommand requires the new owner's signature.
func IssueAssetCommand(owner identity.Name) ledger.Command {
	return ledger.Command{Contract: AssetContractName, Kind: AssetIssue, Signers: []identity.Name{owner}}
}

// TransferAssetCommand requires both the current and the new owner to sign.
func TransferAssetCommand(from, to identity.Name) ledger.Command {
	return ledger.Command{Contract: AssetContractName, Kind: AssetTransfer, Signers: []identity.Name{from, to}}
}

type AssetContract struct{}

var _ ledger.Contract = (*AssetContract)(nil)

func (ac *AssetContract) Name() string {
	return AssetContractName
}

func (ac *AssetContract) Verify(tx *ledger.LedgerTransaction) error {
	cmds := tx.CommandsOf(AssetContractName)
	if len(cmds) != 1 {
		return fmt.Errorf("expected exactly one asset command, got %d", len(cmds))
	}
	cmd := cmds[0]

	inputs, err := decodeAssets(tx.InputsOf(AssetContractName))
	if err != nil {
		return err
	}
	outputs, err := decodeAssets(tx.OutputsOf(AssetContractName))
	if err != nil {
		return err
	}

	switch cmd.Kind {
	case AssetIssue:
		if len(inputs) != 0 {
			return fmt.Errorf("issuance must not consume assets")
		}
		if len(outputs) != 1 {
			return fmt.Errorf("issuance must create exactly one asset")
		}
		if outputs[0].TokenID == "" {
			return fmt.Errorf("issued asset has no token id")
		}
		if !hasSigner(cmd, outputs[0].Owner) {
			return fmt.Errorf("issuance must be signed by the owner %s", outputs[0].Owner)
		}
	case AssetTransfer:
		if len(inputs) != 1 || len(outputs) != 1 {
			return fmt.Errorf("transfer must consume one asset and create one asset")
		}
		in, out := inputs[0], outputs[0]
		if in.TokenID != out.TokenID {
			return fmt.Errorf("transfer cannot change the token id")
		}
		if in.Owner == out.Owner {
			return fmt.Errorf("transfer must change the owner")
		}
		if !hasSigner(cmd, in.Owner) || !hasSigner(cmd, out.Owner) {
			return fmt.Errorf("transfer must be signed by %s and %s", in.Owner, out.Owner)
		}
	default:
		return fmt.Errorf("unknown asset command %s", cmd.Kind)
	}
	return nil
}

func decodeAssets(states []ledger.TransactionState) ([]*AssetState, error) {
	assets := make([]*AssetState, len(states))
	for i, s := range states {
		a, err := DecodeAsset(s)
		if err != nil {
			return nil, err
		}
		assets[i] = a
	}
	return assets, nil
}

func hasSigner(cmd ledger.Command, name identity.Name) bool {
	for _, s := range cmd.Signers {
		if s == name {
			return true
		}
	}
	return false
}
