package directory

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// PhoneVariants holds the formatted forms of one caller number that the
// store tries in order. Directory records were written by humans and by
// several upstream systems, so the same number may be stored as
// "+14045551234", "14045551234", "4045551234", or "(404) 555-1234".
type PhoneVariants struct {
	// Raw is the digit-only form of the number exactly as received.
	Raw string

	// National is the national-significant number (country code stripped).
	National string

	// E164 is the +-prefixed international form (e.g. "+14045551234").
	E164 string

	// Suffix is the trailing-digit form used for a LIKE suffix match when the
	// exact variants miss. Equal to National.
	Suffix string
}

// All returns the distinct exact-match variants in lookup order.
func (v PhoneVariants) All() []string {
	out := make([]string, 0, 3)
	for _, s := range []string{v.Raw, v.National, v.E164} {
		if s == "" {
			continue
		}
		seen := false
		for _, prev := range out {
			if prev == s {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, s)
		}
	}
	return out
}

// NormalizeDigits strips every non-digit character from raw.
func NormalizeDigits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// VariantsOf derives the lookup variants for a raw phone-number string in
// arbitrary formatting. region is the ISO region assumed for numbers without
// an international prefix. The function never fails: when the number cannot
// be parsed as a valid phone number, the variants fall back to plain digit
// stripping with a leading "1" treated as the country code.
func VariantsOf(raw, region string) PhoneVariants {
	digits := NormalizeDigits(raw)

	v := PhoneVariants{Raw: digits, National: digits}
	if len(digits) == 11 && digits[0] == '1' {
		v.National = digits[1:]
	}

	if num, err := phonenumbers.Parse(raw, region); err == nil && phonenumbers.IsValidNumber(num) {
		v.E164 = phonenumbers.Format(num, phonenumbers.E164)
		v.National = phonenumbers.GetNationalSignificantNumber(num)
	} else if v.National != "" {
		v.E164 = "+1" + v.National
	}

	v.Suffix = v.National
	return v
}
