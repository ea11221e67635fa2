package evaluator

import (
	"fmt"
	"strings"

	"ChainCore/internal/protocol"
	"ChainCore/internal/state"
)

func (d *Dispatcher) evaluateAssetCreate(op *protocol.AssetCreateOp) error {
	if existing := d.db.FindAssetBySymbol(op.Symbol); existing != nil {
		return fmt.Errorf("symbol %q is taken by asset %d", op.Symbol, existing.ID)
	}
	if dot := strings.IndexByte(op.Symbol, '.'); dot >= 0 {
		parent := d.db.FindAssetBySymbol(op.Symbol[:dot])
		if parent == nil {
			return fmt.Errorf("parent symbol %q does not exist", op.Symbol[:dot])
		}
		if parent.Issuer != op.Issuer {
			return fmt.Errorf("sub-asset of %q may only be created by its issuer", parent.Symbol)
		}
	}
	if op.BackedOpts == nil {
		return nil
	}

	flags := op.Common.Flags
	if flags&protocol.FlagProducerFed != 0 && flags&protocol.FlagDelegateFed != 0 {
		return fmt.Errorf("asset cannot be both producer fed and delegate fed")
	}
	backing, err := d.db.GetAsset(op.BackedOpts.ShortBackingAsset)
	if err != nil {
		return fmt.Errorf("backing asset: %w", err)
	}
	if err := d.validateBackingChain(op.Issuer, backing); err != nil {
		return err
	}
	if op.IsPredictionMarket && op.Precision != backing.Precision {
		return fmt.Errorf("prediction market precision %d must match backing asset precision %d",
			op.Precision, backing.Precision)
	}
	return nil
}

// validateBackingChain enforces the one-level backing depth rule and the
// core-only rule for blockchain-owned assets.
func (d *Dispatcher) validateBackingChain(issuer protocol.AccountID, backing *state.Asset) error {
	if issuer == protocol.CouncilAccountID && backing.ID != protocol.CoreAssetID {
		return fmt.Errorf("blockchain-controlled assets must be backed by the core asset")
	}
	if backing.IsBacked {
		grand := d.db.BackedData(backing.ID).Options.ShortBackingAsset
		if grand != protocol.CoreAssetID {
			return fmt.Errorf("backing asset %d is itself backed by non-core asset %d, chain too deep",
				backing.ID, grand)
		}
	}
	return nil
}

func (d *Dispatcher) applyAssetCreate(op *protocol.AssetCreateOp) {
	a := d.db.CreateAsset(op.Symbol, op.Precision, op.Issuer, op.Common)
	if op.BackedOpts != nil {
		d.db.CreateBackedAssetData(a.ID, *op.BackedOpts, op.IsPredictionMarket)
	}
}

func (d *Dispatcher) issuerAsset(issuer protocol.AccountID, id protocol.AssetID) (*state.Asset, error) {
	a, err := d.db.GetAsset(id)
	if err != nil {
		return nil, err
	}
	if a.Issuer != issuer {
		return nil, fmt.Errorf("asset %d is controlled by account %d, not %d", id, a.Issuer, issuer)
	}
	return a, nil
}

func (d *Dispatcher) evaluateAssetIssue(op *protocol.AssetIssueOp) error {
	a, err := d.issuerAsset(op.Issuer, op.AssetToIssue.AssetID)
	if err != nil {
		return err
	}
	if a.IsBacked {
		return fmt.Errorf("backed asset %d is minted by borrowing, not issuance", a.ID)
	}
	if _, err := d.db.GetAccount(op.IssueTo); err != nil {
		return err
	}
	supply := d.db.DynamicData(a.ID).CurrentSupply
	if supply+op.AssetToIssue.Amount > a.Options.MaxSupply {
		return fmt.Errorf("issuing %d would push supply %d past the %d cap",
			op.AssetToIssue.Amount, supply, a.Options.MaxSupply)
	}
	return nil
}

func (d *Dispatcher) applyAssetIssue(op *protocol.AssetIssueOp) {
	d.db.ModifyDynamicData(op.AssetToIssue.AssetID, func(dd *state.AssetDynamicData) {
		dd.CurrentSupply += op.AssetToIssue.Amount
	})
	d.db.AdjustBalance(op.IssueTo, op.AssetToIssue)
}

func (d *Dispatcher) evaluateAssetReserve(op *protocol.AssetReserveOp) error {
	a, err := d.db.GetAsset(op.AmountToReserve.AssetID)
	if err != nil {
		return err
	}
	if a.IsBacked {
		return fmt.Errorf("backed asset %d is retired by covering debt, not reserving", a.ID)
	}
	return d.requireBalance(op.Payer, op.AmountToReserve)
}

func (d *Dispatcher) applyAssetReserve(op *protocol.AssetReserveOp) {
	d.db.AdjustBalance(op.Payer, op.AmountToReserve.Neg())
	d.db.ModifyDynamicData(op.AmountToReserve.AssetID, func(dd *state.AssetDynamicData) {
		dd.CurrentSupply -= op.AmountToReserve.Amount
	})
}

func (d *Dispatcher) evaluateAssetFundFeePool(op *protocol.AssetFundFeePoolOp) error {
	if _, err := d.db.GetAsset(op.AssetID); err != nil {
		return err
	}
	return d.requireBalance(op.From, protocol.CoreAsset(op.Amount))
}

func (d *Dispatcher) applyAssetFundFeePool(op *protocol.AssetFundFeePoolOp) {
	d.db.AdjustBalance(op.From, protocol.CoreAsset(op.Amount).Neg())
	d.db.ModifyDynamicData(op.AssetID, func(dd *state.AssetDynamicData) {
		dd.FeePool += op.Amount
	})
}

func (d *Dispatcher) evaluateAssetUpdate(op *protocol.AssetUpdateOp) error {
	a, err := d.issuerAsset(op.Issuer, op.AssetToUpdate)
	if err != nil {
		return err
	}
	if op.NewIssuer != nil {
		if _, err := d.db.GetAccount(*op.NewIssuer); err != nil {
			return fmt.Errorf("new issuer: %w", err)
		}
	}
	// Permissions only ever narrow, and stay within what the asset kind
	// understands.
	mask := protocol.UIAPermissionMask
	if a.IsBacked {
		mask = protocol.BackedPermissionMask
	}
	if op.NewOptions.IssuerPermissions&^mask != 0 {
		return fmt.Errorf("permissions %#x invalid for this asset kind", op.NewOptions.IssuerPermissions)
	}
	if op.NewOptions.IssuerPermissions&^a.Options.IssuerPermissions != 0 {
		return fmt.Errorf("permissions may be dropped but never re-added, %#x -> %#x",
			a.Options.IssuerPermissions, op.NewOptions.IssuerPermissions)
	}
	return nil
}

func (d *Dispatcher) applyAssetUpdate(op *protocol.AssetUpdateOp) {
	d.db.ModifyAsset(op.AssetToUpdate, func(a *state.Asset) {
		a.Options = op.NewOptions
		if op.NewIssuer != nil {
			a.Issuer = *op.NewIssuer
		}
	})
}

func (d *Dispatcher) evaluateAssetUpdateBacked(op *protocol.AssetUpdateBackedOp) error {
	a, err := d.issuerAsset(op.Issuer, op.AssetToUpdate)
	if err != nil {
		return err
	}
	bd := d.db.FindBackedData(op.AssetToUpdate)
	if bd == nil {
		return fmt.Errorf("asset %d is not collateral backed", op.AssetToUpdate)
	}
	if bd.HasSettlement() {
		return fmt.Errorf("asset %d is globally settled, its backing options are frozen", op.AssetToUpdate)
	}
	if op.NewOptions.ShortBackingAsset == bd.Options.ShortBackingAsset {
		return nil
	}

	// Changing the backing asset rewires the collateral graph, only legal
	// while nothing is outstanding.
	if supply := d.db.DynamicData(op.AssetToUpdate).CurrentSupply; supply != 0 {
		return fmt.Errorf("cannot change backing asset with %d supply outstanding", supply)
	}
	if op.NewOptions.ShortBackingAsset == op.AssetToUpdate {
		return fmt.Errorf("asset cannot back itself")
	}
	backing, err := d.db.GetAsset(op.NewOptions.ShortBackingAsset)
	if err != nil {
		return fmt.Errorf("backing asset: %w", err)
	}
	if err := d.validateBackingChain(a.Issuer, backing); err != nil {
		return err
	}
	// Any asset using this one as backing would now sit two levels from
	// the new backing asset, so children force the new backing to be core.
	if op.NewOptions.ShortBackingAsset != protocol.CoreAssetID {
		for _, child := range d.db.BackedAssets() {
			if child.Options.ShortBackingAsset == op.AssetToUpdate {
				return fmt.Errorf("asset %d is a backing asset of %d and may only be backed by core",
					op.AssetToUpdate, child.ID)
			}
		}
	}
	return nil
}

func (d *Dispatcher) applyAssetUpdateBacked(op *protocol.AssetUpdateBackedOp) {
	d.db.ModifyBackedData(op.AssetToUpdate, func(b *state.BackedAssetData) {
		b.Options = op.NewOptions
	})
	// Feed lifetime or minimum feed count changes can move the median.
	d.updateMedianFeed(op.AssetToUpdate)
	d.afterFeedChange(op.AssetToUpdate)
}

func (d *Dispatcher) evaluateAssetUpdateFeedProducers(op *protocol.AssetUpdateFeedProducersOp) error {
	a, err := d.issuerAsset(op.Issuer, op.AssetToUpdate)
	if err != nil {
		return err
	}
	if d.db.FindBackedData(op.AssetToUpdate) == nil {
		return fmt.Errorf("asset %d is not collateral backed", op.AssetToUpdate)
	}
	if a.FlagSet(protocol.FlagProducerFed) || a.FlagSet(protocol.FlagDelegateFed) {
		return fmt.Errorf("asset %d derives its feed from elected authorities", op.AssetToUpdate)
	}
	for _, p := range op.NewProducers {
		if _, err := d.db.GetAccount(p); err != nil {
			return fmt.Errorf("feed producer: %w", err)
		}
	}
	return nil
}

func (d *Dispatcher) applyAssetUpdateFeedProducers(op *protocol.AssetUpdateFeedProducersOp) {
	d.db.ModifyBackedData(op.AssetToUpdate, func(b *state.BackedAssetData) {
		keep := make(map[protocol.AccountID]struct{}, len(op.NewProducers))
		for _, p := range op.NewProducers {
			keep[p] = struct{}{}
		}
		b.Producers = keep
		for publisher := range b.Feeds {
			if _, ok := keep[publisher]; !ok {
				delete(b.Feeds, publisher)
			}
		}
	})
	d.updateMedianFeed(op.AssetToUpdate)
	d.afterFeedChange(op.AssetToUpdate)
}

func (d *Dispatcher) evaluateAssetClaimFees(op *protocol.AssetClaimFeesOp) error {
	a, err := d.issuerAsset(op.Issuer, op.AmountToClaim.AssetID)
	if err != nil {
		return err
	}
	if have := d.db.DynamicData(a.ID).AccumulatedFees; have < op.AmountToClaim.Amount {
		return fmt.Errorf("asset %d accumulated %d in fees, claim wants %d",
			a.ID, have, op.AmountToClaim.Amount)
	}
	return nil
}

func (d *Dispatcher) applyAssetClaimFees(op *protocol.AssetClaimFeesOp) {
	d.db.ModifyDynamicData(op.AmountToClaim.AssetID, func(dd *state.AssetDynamicData) {
		dd.AccumulatedFees -= op.AmountToClaim.Amount
	})
	d.db.AdjustBalance(op.Issuer, op.AmountToClaim)
}

func (d *Dispatcher) evaluateAssetClaimPool(op *protocol.AssetClaimPoolOp) error {
	if op.AmountToClaim.AssetID != protocol.CoreAssetID {
		return fmt.Errorf("fee pools hold the core asset, cannot claim asset %d", op.AmountToClaim.AssetID)
	}
	a, err := d.issuerAsset(op.Issuer, op.AssetID)
	if err != nil {
		return err
	}
	if have := d.db.DynamicData(a.ID).FeePool; have < op.AmountToClaim.Amount {
		return fmt.Errorf("asset %d fee pool holds %d, claim wants %d", a.ID, have, op.AmountToClaim.Amount)
	}
	return nil
}

func (d *Dispatcher) applyAssetClaimPool(op *protocol.AssetClaimPoolOp) {
	d.db.ModifyDynamicData(op.AssetID, func(dd *state.AssetDynamicData) {
		dd.FeePool -= op.AmountToClaim.Amount
	})
	d.db.AdjustBalance(op.Issuer, op.AmountToClaim)
}
