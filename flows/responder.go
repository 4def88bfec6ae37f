package flows

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"

	"github.com/aelahi23/Corda-BNO-membership/authz"
	"github.com/aelahi23/Corda-BNO-membership/config"
	"github.com/aelahi23/Corda-BNO-membership/contracts"
	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/ledger"
	"github.com/aelahi23/Corda-BNO-membership/network"
)

// transferResponder is the counterparty side of Transfer. Trust is rooted in
// this node's own configuration, never in anything the initiator sends.
func (f *Flows) transferResponder(ctx context.Context, s *network.Session) error {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "flows.transferResponder")
	defer sp.Finish()

	inst, err := newInstance(ctx, KindRespond, f.config.Current(), f.checkpoints)
	if err != nil {
		return err
	}
	sp.SetTag("flow", inst.ID())
	cfg := inst.Config()
	initiator := s.Counterparty()

	if err := authz.Check(cfg); err != nil {
		return inst.Fail(err)
	}
	if err := inst.Advance(StateAuthorized, withCounterparty(initiator)); err != nil {
		return inst.Fail(err)
	}

	if err := f.checkMembership(ctx, cfg, initiator); err != nil {
		return inst.Fail(err)
	}
	if err := inst.Advance(StateCounterpartyVerified); err != nil {
		return inst.Fail(err)
	}

	proposal := &TransferProposal{}
	if err := s.Receive(ctx, proposal); err != nil {
		return inst.Fail(err)
	}
	if err := f.verifyProposal(cfg, initiator, proposal); err != nil {
		f.logger.Warningf("refusing proposal from %s: %v", initiator, err)
		return inst.Fail(&CounterpartySignatureRejectedError{Counterparty: f.key.Name(), Reason: err.Error()})
	}
	id, err := proposal.Tx.ID()
	if err != nil {
		return inst.Fail(err)
	}
	if err := inst.Advance(StateProposalVerified, withTxID(id.String())); err != nil {
		return inst.Fail(err)
	}

	sig, err := ledger.SignTransaction(proposal.Tx.Tx, f.key)
	if err != nil {
		return inst.Fail(err)
	}
	if err := s.Send(ctx, &SignatureResponse{Sig: *sig}); err != nil {
		return inst.Fail(err)
	}
	if err := inst.Advance(StateSelfSigned); err != nil {
		return inst.Fail(err)
	}

	if _, err := f.receiveFinality(ctx, s, id.String()); err != nil {
		return inst.Fail(err)
	}
	if err := inst.Advance(StateFinalized); err != nil {
		return inst.Fail(err)
	}
	f.logger.Infof("received %s from %s (flow %s)", id.String(), initiator, inst.ID())
	return nil
}

// checkMembership applies the configured membership policy to the initiator.
func (f *Flows) checkMembership(ctx context.Context, cfg *config.Config, initiator identity.Name) error {
	bno := cfg.CurrentBNO()
	record, err := f.lookup.GetMembership(ctx, bno, initiator)
	if err != nil {
		return fmt.Errorf("error looking up %s with %s: %w", initiator, bno, err)
	}
	if record == nil {
		return &UnknownCounterpartyError{Party: initiator, BNO: bno}
	}
	if record.IsActive() {
		return nil
	}
	if cfg.MembershipPolicy == config.MembershipActive {
		return &UnknownCounterpartyError{Party: initiator, BNO: bno, Status: record.Status}
	}
	f.logger.Warningf("accepting %s whose membership with %s is %s", initiator, bno, record.Status)
	return nil
}

// verifyProposal resolves and checks the proposal and its dependencies. The
// verified dependencies are recorded so later transfers can ship them on.
func (f *Flows) verifyProposal(cfg *config.Config, initiator identity.Name, proposal *TransferProposal) error {
	me := f.key.Name()
	tx := proposal.Tx.Tx
	if tx == nil {
		return fmt.Errorf("empty proposal")
	}
	if tx.Notary != cfg.NotaryName() {
		return fmt.Errorf("proposal uses notary %s, not %s", tx.Notary, cfg.NotaryName())
	}

	var signers []identity.Name
	for _, cmd := range tx.Commands {
		if cmd.Contract == contracts.AssetContractName {
			signers = cmd.Signers
		}
	}
	if !contains(signers, me) || !contains(signers, initiator) {
		return fmt.Errorf("proposal is not an asset transfer between %s and %s", initiator, me)
	}
	receivesAsset := false
	for _, out := range tx.Outputs {
		if out.Contract == contracts.AssetContractName && out.Owner == me {
			receivesAsset = true
		}
	}
	if !receivesAsset {
		return fmt.Errorf("proposal does not transfer an asset to %s", me)
	}

	deps := make([]*ledger.SignedTransaction, len(proposal.Dependencies))
	for i := range proposal.Dependencies {
		deps[i] = &proposal.Dependencies[i]
	}
	resolver, err := ledger.VerifyChain(f.directory, f.vault, deps...)
	if err != nil {
		return err
	}
	lt, err := tx.ToLedgerTransaction(resolver)
	if err != nil {
		return err
	}
	if err := lt.Verify(); err != nil {
		return err
	}
	if err := proposal.Tx.VerifySignatures(f.directory, me); err != nil {
		return err
	}

	for _, dep := range deps {
		if _, err := f.vault.Record(dep); err != nil {
			return fmt.Errorf("error recording dependency: %w", err)
		}
	}
	return nil
}

func contains(names []identity.Name, name identity.Name) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
