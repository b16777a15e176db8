package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func sampleOrder() SettlementOrder {
	return SettlementOrder{
		SellToken:         common.HexToAddress("0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84"),
		BuyToken:          common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
		Receiver:          common.HexToAddress("0x3e40D73EB977Dc6a537aF587D48316feE66E9C8c"),
		SellAmount:        big.NewInt(1_000_000),
		BuyAmount:         big.NewInt(990_000),
		ValidTo:           1_700_003_600,
		AppData:           common.Hash{},
		FeeAmount:         new(big.Int),
		Kind:              KindSell,
		PartiallyFillable: false,
		SellTokenBalance:  BalanceERC20,
		BuyTokenBalance:   BalanceERC20,
	}
}

var testDomainSep = common.HexToHash("0xc078f884a2676e1345748b1feace7b0abee5d00ecadb6e574dcdd109a63e8943")

func TestFingerprintDeterministic(t *testing.T) {
	a := sampleOrder()
	b := sampleOrder()

	ha, err := a.Fingerprint(testDomainSep)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	hb, err := b.Fingerprint(testDomainSep)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if ha != hb {
		t.Errorf("identical orders hash differently: %s vs %s", ha.Hex(), hb.Hex())
	}
	if ha == (common.Hash{}) {
		t.Error("fingerprint is zero")
	}
}

func TestFingerprintFieldSensitivity(t *testing.T) {
	base := sampleOrder()
	baseHash, err := base.Fingerprint(testDomainSep)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*SettlementOrder)
	}{
		{"sell token", func(o *SettlementOrder) { o.SellToken = common.HexToAddress("0x01") }},
		{"buy token", func(o *SettlementOrder) { o.BuyToken = common.HexToAddress("0x02") }},
		{"receiver", func(o *SettlementOrder) { o.Receiver = common.HexToAddress("0x03") }},
		{"sell amount", func(o *SettlementOrder) { o.SellAmount = big.NewInt(1_000_001) }},
		{"buy amount", func(o *SettlementOrder) { o.BuyAmount = big.NewInt(990_001) }},
		{"valid to", func(o *SettlementOrder) { o.ValidTo++ }},
		{"app data", func(o *SettlementOrder) { o.AppData = common.HexToHash("0x04") }},
		{"fee amount", func(o *SettlementOrder) { o.FeeAmount = big.NewInt(1) }},
		{"partially fillable", func(o *SettlementOrder) { o.PartiallyFillable = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := sampleOrder()
			tt.mutate(&order)
			h, err := order.Fingerprint(testDomainSep)
			if err != nil {
				t.Fatalf("fingerprint: %v", err)
			}
			if h == baseHash {
				t.Errorf("changing %s did not change the fingerprint", tt.name)
			}
		})
	}
}

func TestFingerprintDomainSensitivity(t *testing.T) {
	order := sampleOrder()
	h1, err := order.Fingerprint(testDomainSep)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	h2, err := order.Fingerprint(common.HexToHash("0x05"))
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if h1 == h2 {
		t.Error("same fingerprint under different domain separators")
	}
}

func TestFingerprintNilAmounts(t *testing.T) {
	order := sampleOrder()
	order.FeeAmount = nil
	if _, err := order.Fingerprint(testDomainSep); err == nil {
		t.Error("expected error for nil fee amount")
	}
}
