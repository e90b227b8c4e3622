package utils

import (
	"fmt"
	"strings"

	"github.com/ttacon/libphonenumber"
)

func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err
	}

	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}

	return nil
}

// NormalizeMSISDN returns the E.164 form of a payer number, or "" when it cannot be parsed.
// Statements from different channels print the same number as 07.., 2547.. or +2547...
func NormalizeMSISDN(raw, countryCode string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "+") && !strings.HasPrefix(raw, "0") && len(raw) > 9 {
		raw = "+" + raw
	}
	p, err := libphonenumber.Parse(raw, countryCode)
	if err != nil || !libphonenumber.IsValidNumber(p) {
		return ""
	}
	return libphonenumber.Format(p, libphonenumber.E164)
}
