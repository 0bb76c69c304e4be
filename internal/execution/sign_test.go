package execution

import (
	"encoding/base64"
	"testing"

	"craftstrat-engine/pkg/types"
)

func TestPriceToAmountsBuy(t *testing.T) {
	t.Parallel()
	maker, taker := PriceToAmounts(0.55, 100, types.BUY)
	if maker.Int64() != 55_000_000 {
		t.Errorf("maker (USDC cost) = %v, want 55000000", maker)
	}
	if taker.Int64() != 100_000_000 {
		t.Errorf("taker (tokens) = %v, want 100000000", taker)
	}
}

func TestPriceToAmountsSell(t *testing.T) {
	t.Parallel()
	maker, taker := PriceToAmounts(0.60, 50, types.SELL)
	if maker.Int64() != 50_000_000 {
		t.Errorf("maker (tokens) = %v, want 50000000", maker)
	}
	if taker.Int64() != 30_000_000 {
		t.Errorf("taker (USDC revenue) = %v, want 30000000", taker)
	}
}

func TestBuildHMACDecodesMultipleEncodings(t *testing.T) {
	t.Parallel()
	raw := []byte("super-secret-key-bytes")

	for name, secret := range map[string]string{
		"url":       base64.URLEncoding.EncodeToString(raw),
		"raw_url":   base64.RawURLEncoding.EncodeToString(raw),
		"std":       base64.StdEncoding.EncodeToString(raw),
		"raw_std":   base64.RawStdEncoding.EncodeToString(raw),
	} {
		sig, err := BuildHMAC(secret, "123", "POST", "/order", `{"a":1}`)
		if err != nil {
			t.Fatalf("%s: BuildHMAC error: %v", name, err)
		}
		if sig == "" {
			t.Errorf("%s: expected non-empty signature", name)
		}
	}
}

func TestBuildHMACDeterministic(t *testing.T) {
	t.Parallel()
	secret := base64.URLEncoding.EncodeToString([]byte("key"))
	sig1, _ := BuildHMAC(secret, "100", "GET", "/data/order/1", "")
	sig2, _ := BuildHMAC(secret, "100", "GET", "/data/order/1", "")
	if sig1 != sig2 {
		t.Error("expected deterministic signature for identical inputs")
	}
	sig3, _ := BuildHMAC(secret, "101", "GET", "/data/order/1", "")
	if sig1 == sig3 {
		t.Error("expected different signature for different timestamp")
	}
}
