package finance

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatAmount renders a currency amount with digit grouping, dropping the
// paise when they are zero: 500000 -> "500,000", 16251.2 -> "16,251.20".
func FormatAmount(v float64) string {
	p := message.NewPrinter(language.English)
	v = Round2(v)
	if v == float64(int64(v)) {
		return p.Sprintf("%d", int64(v))
	}
	return p.Sprintf("%.2f", v)
}

// FormatRate renders a percentage rate with at most two decimals:
// 10.5 -> "10.5%", 11 -> "11%".
func FormatRate(v float64) string {
	return decimal.NewFromFloat(v).Round(2).String() + "%"
}
