// Package fingerprint derives a deterministic content identity for a
// transaction via SHA-256 hashing of its normalized fields.
//
// Two genuinely identical purchases on the same day produce the same
// fingerprint. That collision is intentional: repeated transactions are
// handled downstream by count-based deduplication, never by uniqueness
// constraints on the fingerprint itself.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	nullWordPattern = regexp.MustCompile(`\bnull\b`)
	cardMaskPattern = regexp.MustCompile(`x{10,}\d{4}`)
	shortRunPattern = regexp.MustCompile(`[x0-9]{7,12}`)
	whitespace      = regexp.MustCompile(`\s+`)
	nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]`)
)

// Generate computes the 16-hex-character fingerprint of a transaction from
// its owning account id, ISO calendar date (YYYY-MM-DD), signed amount,
// and raw description.
//
// The sign of the amount is preserved: a purchase and its refund hash to
// different fingerprints. Negative zero normalizes to zero.
func Generate(accountID, isoDate string, amount decimal.Decimal, description string) string {
	// decimal carries no negative zero, so -0.00 already formats as "0.00".
	amountNormalized := amount.StringFixed(2)

	input := fmt.Sprintf("%s|%s|%s|%s", accountID, isoDate, amountNormalized, NormalizeDescription(description))
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}

// NormalizeDescription case-folds a description and strips the artifacts
// that differ between CSV exports and aggregation-API payloads:
//
//   - literal "null" words (CSV exports render missing fields as "null")
//   - card-number masks of 10+ mask characters followed by 4 digits
//   - 7-12 character runs mixing mask characters and digits, collapsed to
//     their last 4 digits (XXXXXX7070 and 7208987070 both become 7070)
//   - all whitespace and non-alphanumeric characters
//
// Short embedded tokens such as ORDER5432 survive normalization intact and
// legitimately differentiate otherwise-identical transactions.
func NormalizeDescription(description string) string {
	desc := strings.ToLower(description)
	desc = nullWordPattern.ReplaceAllString(desc, "")
	desc = cardMaskPattern.ReplaceAllString(desc, "")
	desc = shortRunPattern.ReplaceAllStringFunc(desc, collapseToLast4)
	desc = whitespace.ReplaceAllString(desc, "")
	return nonAlphanumeric.ReplaceAllString(desc, "")
}

// collapseToLast4 reduces a masked or unmasked account/phone number run to
// its last 4 digits. Runs without at least 4 digits are left untouched.
func collapseToLast4(run string) string {
	var digits []byte
	for i := 0; i < len(run); i++ {
		if run[i] >= '0' && run[i] <= '9' {
			digits = append(digits, run[i])
		}
	}
	if len(digits) >= 4 {
		return string(digits[len(digits)-4:])
	}
	return run
}
