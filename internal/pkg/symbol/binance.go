package symbol

import "strings"

// BinanceConverter: REST 接口要求大写（BTCUSDT），行情流路径要求小写（btcusdt）。
type BinanceConverter struct {
	format Format
}

func (c BinanceConverter) ToExchange(sanitized string) string {
	s := Sanitize(sanitized)
	if c.format == FormatREST {
		return strings.ToUpper(s)
	}
	return s
}

func (c BinanceConverter) Format() Format {
	return c.format
}

var (
	BinanceREST   = BinanceConverter{format: FormatREST}
	BinanceStream = BinanceConverter{format: FormatStream}
)
