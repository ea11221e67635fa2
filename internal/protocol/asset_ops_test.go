package protocol

import "testing"

func TestValidateSymbol(t *testing.T) {
	valid := []string{"USD", "GOLD", "CNY1", "ABC.DEF", "A2B", "ABCDEFGHIJKLMNOP"}
	for _, s := range valid {
		if err := ValidateSymbol(s); err != nil {
			t.Errorf("ValidateSymbol(%q) = %v, want nil", s, err)
		}
	}

	invalid := map[string]string{
		"AB":                "too short",
		"ABCDEFGHIJKLMNOPQ": "too long",
		"1AB":               "starts with digit",
		".AB":               "starts with dot",
		"ABC.":              "ends with dot",
		"A.B.C":             "two dots",
		"usd":               "lowercase",
		"AB-C":              "invalid character",
	}
	for s, why := range invalid {
		if err := ValidateSymbol(s); err == nil {
			t.Errorf("ValidateSymbol(%q) accepted (%s)", s, why)
		}
	}
}

func TestAssetCreateValidate(t *testing.T) {
	base := AssetCreateOp{
		Issuer:    17,
		Symbol:    "GOLD",
		Precision: 4,
		Common: AssetOptions{
			MaxSupply:         1_000_000,
			IssuerPermissions: UIAPermissionMask,
			CoreExchangeRate:  price(1, 5, 10, CoreAssetID),
		},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid create rejected: %v", err)
	}

	op := base
	op.Symbol = "BITGOLD"
	if err := op.Validate(); err == nil {
		t.Error("reserved BIT prefix accepted")
	}

	op = base
	op.Common.Flags = FlagDisableForceSettle
	op.Common.IssuerPermissions = BackedPermissionMask
	if err := op.Validate(); err == nil {
		t.Error("backed-only permissions accepted on a plain asset")
	}

	op = base
	op.IsPredictionMarket = true
	if err := op.Validate(); err == nil {
		t.Error("prediction market without backed options accepted")
	}

	op = base
	op.Common.Flags = FlagChargeMarketFee | FlagWhiteList
	op.Common.IssuerPermissions = FlagChargeMarketFee
	if err := op.Validate(); err == nil {
		t.Error("flags outside issuer permissions accepted")
	}

	backed := base
	opts := DefaultBackedAssetOptions()
	backed.BackedOpts = &opts
	backed.Common.IssuerPermissions = BackedPermissionMask
	if err := backed.Validate(); err != nil {
		t.Errorf("valid backed create rejected: %v", err)
	}
}

func TestOperationEnvelopeRoundTrip(t *testing.T) {
	tcr := uint16(1900)
	ops := []Operation{
		&TransferOp{From: 5, To: 6, Amount: CoreAsset(1000)},
		&LimitOrderCreateOp{
			Seller:       5,
			AmountToSell: NewAsset(500, 0),
			MinToReceive: NewAsset(100, 1),
			Expiration:   1_900_000_000,
		},
		&CallOrderUpdateOp{
			FundingAccount:        5,
			DeltaCollateral:       NewAsset(15000, 0),
			DeltaDebt:             NewAsset(1000, 1),
			TargetCollateralRatio: &tcr,
		},
		&AssetPublishFeedOp{
			Publisher: 5,
			AssetID:   1,
			Feed: PriceFeed{
				SettlementPrice:            price(1, 1, 10, 0),
				MaintenanceCollateralRatio: 1750,
				MaximumShortSqueezeRatio:   1100,
			},
		},
	}
	for _, op := range ops {
		raw, err := MarshalOperation(op)
		if err != nil {
			t.Fatalf("marshal %s: %v", op.Type(), err)
		}
		got, err := UnmarshalOperation(raw)
		if err != nil {
			t.Fatalf("unmarshal %s: %v", op.Type(), err)
		}
		if got.Type() != op.Type() {
			t.Errorf("round trip changed type: %s -> %s", op.Type(), got.Type())
		}
		if got.FeePayer() != op.FeePayer() {
			t.Errorf("%s: round trip changed fee payer", op.Type())
		}
	}

	if _, err := UnmarshalOperation([]byte(`{"type":"fill_order","payload":{}}`)); err == nil {
		t.Error("virtual operation decoded from the wire")
	}
}

func TestTransactionValidate(t *testing.T) {
	tx := Transaction{ID: "tx-1"}
	if err := tx.Validate(); err == nil {
		t.Error("empty transaction accepted")
	}

	tx.Operations = []Operation{&TransferOp{From: 1, To: 1, Amount: CoreAsset(10)}}
	if err := tx.Validate(); err == nil {
		t.Error("self transfer accepted")
	}

	tx.Operations = []Operation{&TransferOp{From: 1, To: 2, Amount: CoreAsset(10)}}
	if err := tx.Validate(); err != nil {
		t.Errorf("valid transaction rejected: %v", err)
	}
}
