package report

import (
	"encoding/json"
	"strconv"
	"strings"
)

// CurrencyMarker is the currency prefix stripped from amounts.
const CurrencyMarker = "Rp"

var amountNoise = strings.NewReplacer(
	CurrencyMarker, "",
	".", "",
	",", "",
	" ", "",
)

// CleanValue turns a formatted Rupiah amount into a bare digit string.
//
// The currency marker, dots, commas and spaces are removed. An amount wrapped
// in parentheses, with or without a leading currency marker, becomes negative.
// The result is not checked to be numeric. A nil input returns nil.
func CleanValue(raw *string) *string {
	if raw == nil {
		return nil
	}

	s := strings.TrimSpace(*raw)
	s = strings.TrimSpace(strings.TrimPrefix(s, CurrencyMarker))

	negative := false
	if len(s) >= 2 && strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = strings.TrimSpace(amountNoise.Replace(s))
	if negative {
		s = "-" + s
	}
	return &s
}

// CleanCell cleans a decoded table cell. Strings are cleaned as-is; numbers
// keep their literal text, booleans become "true"/"false" and nested values
// their compact JSON before cleaning. A nil cell returns nil.
func CleanCell(v any) *string {
	var s string
	switch c := v.(type) {
	case nil:
		return nil
	case string:
		s = c
	case json.Number:
		s = c.String()
	case bool:
		s = strconv.FormatBool(c)
	case float64:
		s = strconv.FormatFloat(c, 'f', -1, 64)
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return nil
		}
		s = string(b)
	}
	return CleanValue(&s)
}
