package flows

import (
	"context"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"

	"github.com/aelahi23/Corda-BNO-membership/authz"
	"github.com/aelahi23/Corda-BNO-membership/contracts"
	"github.com/aelahi23/Corda-BNO-membership/funding"
	"github.com/aelahi23/Corda-BNO-membership/ledger"
)

// Issue creates a new asset owned by this party and finalizes it with the
// notary. No other party signs.
func (f *Flows) Issue(ctx context.Context) (*ledger.SignedTransaction, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "flows.Issue")
	defer sp.Finish()

	ctx, cancel := f.bounded(ctx)
	defer cancel()

	inst, err := newInstance(ctx, KindIssue, f.config.Current(), f.checkpoints)
	if err != nil {
		return nil, err
	}
	sp.SetTag("flow", inst.ID())
	cfg := inst.Config()

	if err := authz.Check(cfg); err != nil {
		return nil, inst.Fail(err)
	}
	if err := inst.Advance(StateAuthorized); err != nil {
		return nil, inst.Fail(err)
	}

	me := f.key.Name()
	asset := &contracts.AssetState{TokenID: uuid.New().String(), Owner: me}
	out, err := asset.ToTransactionState()
	if err != nil {
		return nil, inst.Fail(err)
	}
	b := ledger.NewBuilder(cfg.NotaryName())
	b.AddOutputState(out)
	b.AddCommand(contracts.IssueAssetCommand(me))
	if err := b.Verify(); err != nil {
		return nil, inst.Fail(err)
	}
	if err := inst.Advance(StateBuilt, withBuilder(b)); err != nil {
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

	final, err := f.Finalize(ctx, stx)
	if err != nil {
		return nil, inst.Fail(err)
	}
	if err := inst.Advance(StateFinalized); err != nil {
		return nil, inst.Fail(err)
	}
	f.logger.Infof("issued asset %s in %s (flow %s)", asset.TokenID, id.String(), inst.ID())
	return final, nil
}

// issueFunding self-issues amount of cash and finalizes it on its own.
// A transfer that fails later leaves this cash with the issuer.
func (f *Flows) issueFunding(ctx context.Context, inst *Instance, amount contracts.Amount) (*ledger.SignedTransaction, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "flows.issueFunding")
	defer sp.Finish()

	b, err := funding.NewIssueBuilder(inst.Config().NotaryName(), amount, f.key.Name())
	if err != nil {
		return nil, err
	}
	if err := b.Verify(); err != nil {
		return nil, err
	}
	stx, err := ledger.Sign(b, f.key)
	if err != nil {
		return nil, err
	}
	return f.Finalize(ctx, stx)
}
