package validation

import (
	"testing"
)

func TestIsSupportedChain(t *testing.T) {
	tests := []struct {
		chain string
		want  bool
	}{
		{"ethereum", true},
		{"bsc", true},
		{"polygon", true},

		{"Ethereum", false}, // case sensitive, callers lowercase first
		{"solana", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := IsSupportedChain(tc.chain); got != tc.want {
			t.Errorf("IsSupportedChain(%q) = %v, want %v", tc.chain, got, tc.want)
		}
	}
}

func TestIsValidContractAddress(t *testing.T) {
	tests := []struct {
		addr  string
		chain string
		valid bool
	}{
		{"0x1234567890123456789012345678901234567890", "ethereum", true},
		{"0xabcdefABCDEF1234567890123456789012345678", "bsc", true},
		{"0x0000000000000000000000000000000000000000", "polygon", true},

		// Invalid cases
		{"1234567890123456789012345678901234567890", "ethereum", false},     // No 0x
		{"0x12345678901234567890123456789012345678", "ethereum", false},     // Too short
		{"0x123456789012345678901234567890123456789012", "ethereum", false}, // Too long
		{"0xGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGG", "ethereum", false},   // Invalid chars
		{"", "ethereum", false},
		{"0x", "ethereum", false},
		{"0x1234567890123456789012345678901234567890", "solana", false}, // Unknown chain
	}

	for _, tc := range tests {
		result := IsValidContractAddress(tc.addr, tc.chain)
		if result != tc.valid {
			t.Errorf("IsValidContractAddress(%q, %q) = %v, want %v", tc.addr, tc.chain, result, tc.valid)
		}
	}
}

func TestIsValidTxHash(t *testing.T) {
	tests := []struct {
		hash  string
		valid bool
	}{
		{"0x" + "ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12", true},
		{"0x" + "AB12AB12AB12AB12AB12AB12AB12AB12AB12AB12AB12AB12AB12AB12AB12AB12", true},

		{"ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12", false}, // No 0x
		{"0xab12", false}, // Too short
		{"", false},
	}

	for _, tc := range tests {
		if got := IsValidTxHash(tc.hash); got != tc.valid {
			t.Errorf("IsValidTxHash(%q) = %v, want %v", tc.hash, got, tc.valid)
		}
	}
}

func TestSanitizeAddress(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0x1234567890123456789012345678901234567890", "0x1234567890123456789012345678901234567890"},
		{"0xABCDEF1234567890123456789012345678901234", "0xabcdef1234567890123456789012345678901234"},
		{"  0x1234567890123456789012345678901234567890  ", "0x1234567890123456789012345678901234567890"},
		{"1234567890123456789012345678901234567890", "0x1234567890123456789012345678901234567890"},
	}

	for _, tc := range tests {
		result := SanitizeAddress(tc.input)
		if result != tc.expected {
			t.Errorf("SanitizeAddress(%q) = %q, want %q", tc.input, result, tc.expected)
		}
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	errs := Validate(
		Required("contractAddress", ""),
		SupportedChain("chain", "solana"),
	)
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), errs)
	}
	if errs[0].Field != "contractAddress" || errs[0].Message != "is required" {
		t.Errorf("unexpected first error: %+v", errs[0])
	}
	if errs[1].Field != "chain" {
		t.Errorf("unexpected second error: %+v", errs[1])
	}

	errs = Validate(
		Required("contractAddress", "0x1234567890123456789012345678901234567890"),
		SupportedChain("chain", "ethereum"),
		ContractAddress("contractAddress", "0x1234567890123456789012345678901234567890", "ethereum"),
	)
	if len(errs) != 0 {
		t.Errorf("valid input produced errors: %v", errs)
	}
}

func TestValidationErrorsError(t *testing.T) {
	var empty ValidationErrors
	if empty.Error() != "validation failed" {
		t.Errorf("empty Error() = %q", empty.Error())
	}

	errs := ValidationErrors{{Field: "chain", Message: "unsupported chain"}}
	if errs.Error() != "chain: unsupported chain" {
		t.Errorf("Error() = %q", errs.Error())
	}
}

func TestOptionalValidatorsSkipEmpty(t *testing.T) {
	if errs := Validate(SupportedChain("chain", "")); len(errs) != 0 {
		t.Errorf("empty chain should pass SupportedChain: %v", errs)
	}
	if errs := Validate(ContractAddress("contractAddress", "", "ethereum")); len(errs) != 0 {
		t.Errorf("empty address should pass ContractAddress: %v", errs)
	}
}
