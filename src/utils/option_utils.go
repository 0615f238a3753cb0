package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// OptionSymbol synthesizes the internal symbol for an option contract so
// options and their underlying never share a lot-matching key.
// Example: "AAPL 2026-01-16 CALL 150.00".
func OptionSymbol(underlying, optionType string, strike float64, expiry time.Time) string {
	return fmt.Sprintf("%s %s %s %.2f",
		strings.ToUpper(strings.TrimSpace(underlying)),
		expiry.Format("2006-01-02"),
		strings.ToUpper(optionType),
		strike)
}

// optionDescRe matches free-text descriptions like
// "AAPL 01/16/2026 Call $150.00" or "TSLA 06/21/24 PUT 200".
var optionDescRe = regexp.MustCompile(`(?i)\b([A-Z]{1,6})\s+(\d{2}/\d{2}/(?:\d{4}|\d{2}))\s+(call|put)\s+\$?(\d+(?:\.\d+)?)`)

// ParseOptionDescription is the last-resort fallback when a provider carries
// no structured option metadata: it extracts underlying, type, strike and
// expiry from description text. Returns ok=false when the text does not look
// like an option.
func ParseOptionDescription(desc string) (underlying, optionType string, strike float64, expiry time.Time, ok bool) {
	m := optionDescRe.FindStringSubmatch(desc)
	if m == nil {
		return "", "", 0, time.Time{}, false
	}

	layout := "01/02/2006"
	if len(m[2]) == 8 {
		layout = "01/02/06"
	}
	exp, err := time.Parse(layout, m[2])
	if err != nil {
		return "", "", 0, time.Time{}, false
	}
	strikeVal, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return "", "", 0, time.Time{}, false
	}
	return strings.ToUpper(m[1]), strings.ToUpper(m[3]), strikeVal, exp, true
}
