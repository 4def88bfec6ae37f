package flows

import (
	"context"
	"errors"
	"fmt"

	cbornode "github.com/ipfs/go-ipld-cbor"
	"github.com/opentracing/opentracing-go"

	"github.com/aelahi23/Corda-BNO-membership/authz"
	"github.com/aelahi23/Corda-BNO-membership/contracts"
	"github.com/aelahi23/Corda-BNO-membership/funding"
	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/ledger"
	"github.com/aelahi23/Corda-BNO-membership/network"
	"github.com/aelahi23/Corda-BNO-membership/vault"
)

func init() {
	cbornode.RegisterCborType(TransferProposal{})
	cbornode.RegisterCborType(SignatureResponse{})
}

// TransferProposal is the initiator's self-signed transaction plus every
// transaction its inputs depend on, dependencies first.
type TransferProposal struct {
	Tx           ledger.SignedTransaction
	Dependencies []ledger.SignedTransaction
}

type SignatureResponse struct {
	Sig identity.Signature
}

// Transfer moves the asset at assetRef to counterparty, paying amount of
// freshly self-issued cash along with it.
func (f *Flows) Transfer(ctx context.Context, assetRef ledger.StateRef, counterparty identity.Name, amount contracts.Amount) (*ledger.SignedTransaction, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "flows.Transfer")
	defer sp.Finish()

	ctx, cancel := f.bounded(ctx)
	defer cancel()

	inst, err := newInstance(ctx, KindTransfer, f.config.Current(), f.checkpoints)
	if err != nil {
		return nil, err
	}
	sp.SetTag("flow", inst.ID())
	cfg := inst.Config()
	me := f.key.Name()

	if counterparty == me {
		return nil, inst.Fail(&SelfTransferError{Party: me})
	}
	assetIn, asset, err := f.ownedAsset(assetRef)
	if err != nil {
		return nil, inst.Fail(err)
	}

	if err := authz.Check(cfg); err != nil {
		return nil, inst.Fail(err)
	}
	if err := inst.Advance(StateAuthorized, withCounterparty(counterparty)); err != nil {
		return nil, inst.Fail(err)
	}
	notaryName := cfg.NotaryName()

	fundingTx, err := f.issueFunding(ctx, inst, amount)
	if err != nil {
		return nil, inst.Fail(fmt.Errorf("error issuing funding: %w", err))
	}
	fundingID, err := fundingTx.ID()
	if err != nil {
		return nil, inst.Fail(err)
	}
	if err := inst.Advance(StateFunded, withFundingTxID(fundingID.String())); err != nil {
		return nil, inst.Fail(err)
	}

	defer f.vault.ReleaseSoftLocks(inst.ID())
	b := ledger.NewBuilder(notaryName)
	if err := b.AddInputState(*assetIn); err != nil {
		return nil, inst.Fail(err)
	}
	moved := &contracts.AssetState{TokenID: asset.TokenID, Owner: counterparty}
	out, err := moved.ToTransactionState()
	if err != nil {
		return nil, inst.Fail(err)
	}
	b.AddOutputState(out)
	b.AddCommand(contracts.TransferAssetCommand(me, counterparty))
	if err := funding.GenerateSpend(b, f.vault, amount, me, counterparty, inst.ID()); err != nil {
		return nil, inst.Fail(err)
	}
	if err := inst.Advance(StateBuilt, withBuilder(b)); err != nil {
		return nil, inst.Fail(err)
	}

	if err := b.Verify(); err != nil {
		return nil, inst.Fail(err)
	}
	stx, err := ledger.Sign(b, f.key)
	if err != nil {
		return nil, inst.Fail(err)
	}
	id, err := stx.ID()
	if err != nil {
		return nil, inst.Fail(err)
	}
	if err := inst.Advance(StateSelfSigned, withTxID(id.String())); err != nil {
		return nil, inst.Fail(err)
	}

	session, err := f.endpoint.OpenSession(ctx, counterparty, TransferProtocol)
	if err != nil {
		return nil, inst.Fail(err)
	}
	defer session.Close()
	if err := inst.Advance(StateSessionOpen); err != nil {
		return nil, inst.Fail(err)
	}

	signed, err := f.collectSignature(ctx, session, stx)
	if err != nil {
		return nil, inst.Fail(err)
	}
	if err := inst.Advance(StateCountersigned); err != nil {
		return nil, inst.Fail(err)
	}

	final, err := f.Finalize(ctx, signed, session)
	if err != nil {
		return nil, inst.Fail(err)
	}
	if err := inst.Advance(StateFinalized); err != nil {
		return nil, inst.Fail(err)
	}
	f.logger.Infof("transferred %s to %s in %s (flow %s)", asset.TokenID, counterparty, id.String(), inst.ID())
	return final, nil
}

func (f *Flows) ownedAsset(ref ledger.StateRef) (*ledger.StateAndRef, *contracts.AssetState, error) {
	me := f.key.Name()
	sar, err := f.vault.UnconsumedState(ref)
	if errors.Is(err, vault.ErrNotFound) {
		return nil, nil, &NotOwnerError{Ref: ref, Caller: me}
	}
	if err != nil {
		return nil, nil, err
	}
	asset, err := contracts.DecodeAsset(sar.State)
	if err != nil {
		return nil, nil, &NotOwnerError{Ref: ref, Caller: me}
	}
	if asset.Owner != me {
		return nil, nil, &NotOwnerError{Ref: ref, Owner: asset.Owner, Caller: me}
	}
	return sar, asset, nil
}

// collectSignature sends the proposal and checks the counter-signature that
// comes back. Refusals that are not already typed become
// CounterpartySignatureRejectedError.
func (f *Flows) collectSignature(ctx context.Context, s *network.Session, stx *ledger.SignedTransaction) (*ledger.SignedTransaction, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "flows.collectSignature")
	defer sp.Finish()

	deps, err := f.vault.BackChain(stx.Tx)
	if err != nil {
		return nil, err
	}
	proposal := &TransferProposal{Tx: *stx}
	for _, dep := range deps {
		proposal.Dependencies = append(proposal.Dependencies, *dep)
	}

	resp := &SignatureResponse{}
	err = s.SendAndReceive(ctx, proposal, resp)
	if err != nil {
		var sessionErr *network.SessionError
		if errors.As(err, &sessionErr) && errors.Unwrap(sessionErr) == nil {
			return nil, &CounterpartySignatureRejectedError{Counterparty: s.Counterparty(), Reason: sessionErr.Message}
		}
		return nil, err
	}

	counterparty := s.Counterparty()
	if resp.Sig.By != string(counterparty) {
		return nil, &CounterpartySignatureRejectedError{Counterparty: counterparty, Reason: fmt.Sprintf("signature made by %s", resp.Sig.By)}
	}
	id, err := stx.ID()
	if err != nil {
		return nil, err
	}
	if err := identity.Verify(f.directory, ledger.SigningDigest(id), resp.Sig); err != nil {
		return nil, &CounterpartySignatureRejectedError{Counterparty: counterparty, Reason: err.Error()}
	}
	return stx.WithSignatures(resp.Sig), nil
}
