package symbol

import (
	"strings"
)

type Format string

const (
	FormatStream Format = "stream"
	FormatREST   Format = "rest"
)

// Converter maps a sanitized symbol to the spelling one upstream surface expects.
type Converter interface {
	ToExchange(sanitized string) string

	Format() Format
}

// Sanitize 去除所有非 ASCII 字母数字字符并转为小写，结果可重复调用（幂等）。
func Sanitize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return b.String()
}

type Symbol struct {
	Base  string
	Quote string
}

// Display renders "BTC/USDT", or "" when the pair could not be split.
func (s Symbol) Display() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

var quoteCurrencies = []string{"USDT", "FDUSD", "BUSD", "USDC", "TUSD", "BTC", "ETH", "BNB"}

func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{
				Base:  s[:len(s)-len(quote)],
				Quote: quote,
			}
		}
	}
	return Symbol{}
}

// Pretty is Parse(s).Display() with an upper-case fallback.
func Pretty(s string) string {
	if out := Parse(s).Display(); out != "" {
		return out
	}
	return strings.ToUpper(Sanitize(s))
}
