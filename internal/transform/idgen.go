// Package transform derives stable identifiers for file-based sources.
// CSV and OFX files carry no provider-assigned account ids, so one is
// minted from the institution name and the account number's last four
// digits; re-importing a file from the same account maps back to the
// same internal account.
package transform

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonSlugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// SlugifyInstitution converts institution name to a URL-safe slug.
// Examples: "American Express" → "american-express", "PNC Bank" → "pnc-bank"
func SlugifyInstitution(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("institution name cannot be empty")
	}

	// Normalize unicode (e.g., accented characters)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	normalized, _, err := transform.String(t, name)
	if err != nil {
		return "", fmt.Errorf("failed to normalize institution name %q: %w", name, err)
	}

	if normalized == "" {
		return "", fmt.Errorf("institution name %q contains only non-displayable unicode characters", name)
	}

	slug := strings.ToLower(normalized)
	slug = nonSlugPattern.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")

	if slug == "" {
		return "", fmt.Errorf("institution name %q contains no alphanumeric characters", name)
	}

	return slug, nil
}

// ExtractLast4 returns the last 4 characters of the account number.
// If the account number has fewer than 4 characters, returns the full number.
// Examples: "12345" → "2345", "123" → "123", "" → ""
func ExtractLast4(accountNumber string) string {
	if len(accountNumber) <= 4 {
		return accountNumber
	}
	return accountNumber[len(accountNumber)-4:]
}

// FileAccountID creates a deterministic provider-side account id for a
// file source. Format: "acc-{institutionSlug}-{last4}".
// Note: Common institution slugs are abbreviated for brevity
// (e.g., "bank-of-america" → "boa"). See abbreviateSlug for the full list.
// Example: FileAccountID("amex", "2011") → "acc-amex-2011"
//
//	FileAccountID("bank-of-america", "5678") → "acc-boa-5678"
//	FileAccountID("pnc-bank", "5678") → "acc-pnc-bank-5678"
func FileAccountID(institutionSlug, accountNumber string) string {
	last4 := ExtractLast4(accountNumber)
	return fmt.Sprintf("acc-%s-%s", abbreviateSlug(institutionSlug), last4)
}

// abbreviateSlug creates shorter versions of common institution names
func abbreviateSlug(slug string) string {
	abbreviations := map[string]string{
		"american-express": "amex",
		"bank-of-america":  "boa",
		"capital-one":      "c1",
	}

	if abbrev, ok := abbreviations[slug]; ok {
		return abbrev
	}

	return slug
}
