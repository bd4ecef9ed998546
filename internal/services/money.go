package services

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Amount coerces a loosely typed document value into a non-negative int64
// amount in minor units. Missing, malformed, negative, or non-finite values
// fall back to the supplied default so a bad Firestore field never poisons a
// total.
func Amount(value any, fallback int64) int64 {
	switch v := value.(type) {
	case nil:
		return fallback
	case int64:
		if v < 0 {
			return fallback
		}
		return v
	case int:
		if v < 0 {
			return fallback
		}
		return int64(v)
	case int32:
		if v < 0 {
			return fallback
		}
		return int64(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > math.MaxInt64 {
			return fallback
		}
		return int64(math.Round(v))
	case float32:
		return Amount(float64(v), fallback)
	case json.Number:
		return Amount(string(v), fallback)
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return fallback
		}
		if parsed, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			if parsed < 0 {
				return fallback
			}
			return parsed
		}
		if parsed, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return Amount(parsed, fallback)
		}
		return fallback
	default:
		return fallback
	}
}

// MoneyFormatter renders minor-unit amounts for presentation. Output never
// feeds calculations.
type MoneyFormatter struct {
	printer *message.Printer
	symbol  string
}

// NewMoneyFormatter builds a formatter for the given BCP 47 locale and
// currency symbol, defaulting to Vietnamese dong.
func NewMoneyFormatter(locale string, symbol string) *MoneyFormatter {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.Vietnamese
	}
	if strings.TrimSpace(symbol) == "" {
		symbol = "₫"
	}
	return &MoneyFormatter{
		printer: message.NewPrinter(tag),
		symbol:  symbol,
	}
}

// Format renders the amount with locale grouping and the currency symbol,
// e.g. Format(150000) = "150.000 ₫" under vi-VN.
func (f *MoneyFormatter) Format(amount int64) string {
	if f == nil || f.printer == nil {
		return strconv.FormatInt(amount, 10)
	}
	return f.printer.Sprintf("%v %s", number.Decimal(amount), f.symbol)
}
