// Package format renders amounts and dates the way the checkout page shows them
// (en-IN locale, Indian rupees).
package format

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/divan/num2words"
	"golang.org/x/text/currency"
)

// CurrencyUnit is the only currency the checkout deals in.
var CurrencyUnit = currency.INR

const rupeeSign = "₹"

// CurrencyCode returns the ISO 4217 code of CurrencyUnit.
func CurrencyCode() string {
	return CurrencyUnit.String()
}

// Currency formats amount as en-IN rupees: "₹12,34,567.50".
func Currency(amount float64) string {
	scale, _ := currency.Standard.Rounding(CurrencyUnit)
	factor := math.Pow10(scale)

	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	minor := int64(math.Round(amount * factor))
	whole := minor / int64(factor)
	frac := minor % int64(factor)

	out := sign + rupeeSign + groupIndian(whole)
	if scale > 0 {
		out += fmt.Sprintf(".%0*d", scale, frac)
	}
	return out
}

// Minor converts paise to a rupee amount.
func Minor(paise int64) float64 {
	return float64(paise) / 100
}

// Date formats t as en-IN numeric date: day/month/year without padding.
func Date(t time.Time) string {
	return fmt.Sprintf("%d/%d/%d", t.Day(), int(t.Month()), t.Year())
}

// AmountInWords spells out a rupee amount for receipts, e.g.
// "five rupees and fifty paise".
func AmountInWords(amount float64) string {
	if amount < 0 {
		return "minus " + AmountInWords(-amount)
	}
	paise := int64(math.Round(amount * 100))
	rupees := int(paise / 100)
	rest := int(paise % 100)

	words := num2words.Convert(rupees) + " rupees"
	if rest > 0 {
		words += " and " + num2words.Convert(rest) + " paise"
	}
	return words
}

// groupIndian inserts separators after the last three digits and then every two.
func groupIndian(n int64) string {
	digits := strconv.FormatInt(n, 10)
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]

	var parts []string
	for len(head) > 2 {
		parts = append([]string{head[len(head)-2:]}, parts...)
		head = head[:len(head)-2]
	}
	if head != "" {
		parts = append([]string{head}, parts...)
	}
	return strings.Join(parts, ",") + "," + tail
}
