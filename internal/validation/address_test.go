package validation

import (
	"errors"
	"testing"
)

func TestValidateAddressAcceptsKnownShapes(t *testing.T) {
	v := NewRuleValidator()

	cases := []struct {
		network string
		address string
	}{
		{"ethereum", "0x52908400098527886E0F7030069857D2E4169EE7"},
		{"bitcoin", "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"},
		{"wire", "DE89370400440532013000"},
	}
	for _, tc := range cases {
		if err := v.ValidateAddress("USDC", tc.network, tc.address); err != nil {
			t.Fatalf("%s address rejected: %v", tc.network, err)
		}
	}
}

func TestValidateAddressRejectsBadShapes(t *testing.T) {
	v := NewRuleValidator()

	cases := []struct {
		network string
		address string
	}{
		{"ethereum", "0xdeadbeef"},
		{"ethereum", "52908400098527886E0F7030069857D2E4169EE7ab"},
		{"bitcoin", "xyz"},
		{"solana", "whatever"},
	}
	for _, tc := range cases {
		if err := v.ValidateAddress("USDC", tc.network, tc.address); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("%s %q: expected ErrInvalidAddress, got %v", tc.network, tc.address, err)
		}
	}
}

func TestMaskAddress(t *testing.T) {
	masked := MaskAddress("0x52908400098527886E0F7030069857D2E4169EE7")
	if masked != "0x5290…9EE7" {
		t.Fatalf("unexpected mask: %s", masked)
	}
	if got := MaskAddress("short"); got != "*****" {
		t.Fatalf("short addresses must be fully redacted, got %s", got)
	}
}
