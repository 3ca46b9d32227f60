package transform

import "testing"

func TestSlugifyInstitution(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"simple name", "American Express", "american-express", false},
		{"acronym", "PNC Bank", "pnc-bank", false},
		{"punctuation", "First Nat'l Bank & Trust", "first-nat-l-bank-trust", false},
		{"accented characters", "Crédit Lyonnais", "credit-lyonnais", false},
		{"leading and trailing junk", "  --Chase--  ", "chase", false},
		{"empty", "", "", true},
		{"only punctuation", "!!!", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SlugifyInstitution(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SlugifyInstitution(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SlugifyInstitution(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractLast4(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1234567890", "7890"},
		{"12345", "2345"},
		{"1234", "1234"},
		{"123", "123"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ExtractLast4(tt.input); got != tt.want {
			t.Errorf("ExtractLast4(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFileAccountID(t *testing.T) {
	tests := []struct {
		name          string
		slug          string
		accountNumber string
		want          string
	}{
		{"plain slug", "pnc-bank", "1234567890", "acc-pnc-bank-7890"},
		{"abbreviated amex", "american-express", "371234562011", "acc-amex-2011"},
		{"abbreviated boa", "bank-of-america", "5678", "acc-boa-5678"},
		{"short account number", "chase", "42", "acc-chase-42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FileAccountID(tt.slug, tt.accountNumber); got != tt.want {
				t.Errorf("FileAccountID(%q, %q) = %q, want %q", tt.slug, tt.accountNumber, got, tt.want)
			}
		})
	}
}

func TestFileAccountIDDeterministic(t *testing.T) {
	a := FileAccountID("pnc-bank", "1234567890")
	b := FileAccountID("pnc-bank", "1234567890")
	if a != b {
		t.Errorf("FileAccountID not deterministic: %q vs %q", a, b)
	}
}
