package config

import (
	"os"
	"strconv"
	"strings"
)

// ReconDateToleranceDays is how far a statement value date may drift from the posting date
// and still match.
//
// Set via env:
// - RECON_DATE_TOLERANCE_DAYS=2
func ReconDateToleranceDays() int {
	v := strings.TrimSpace(os.Getenv("RECON_DATE_TOLERANCE_DAYS"))
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 2
	}
	return n
}

// ReconReferenceSimilarity is the minimum normalized Levenshtein similarity (0..1) for a fuzzy
// reference match.
//
// Set via env:
// - RECON_REFERENCE_SIMILARITY=0.8
func ReconReferenceSimilarity() float64 {
	v := strings.TrimSpace(os.Getenv("RECON_REFERENCE_SIMILARITY"))
	if v == "" {
		return 0.8
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 || f > 1 {
		return 0.8
	}
	return f
}

// SettlementLockEnabled turns on the cross-instance Redis lock around settlement creation.
//
// Set via env:
// - SETTLEMENT_REDIS_LOCK=true
func SettlementLockEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SETTLEMENT_REDIS_LOCK")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// PayerCountryCode is the default region used to normalize statement MSISDNs.
//
// Set via env:
// - PAYER_COUNTRY_CODE=KE
func PayerCountryCode() string {
	v := strings.ToUpper(strings.TrimSpace(os.Getenv("PAYER_COUNTRY_CODE")))
	if v == "" {
		return "KE"
	}
	return v
}
