package util

import "strings"

// Exchange suffixes. Brokers report the ISO MIC style (.XSHG/.XSHE); the bot keys
// everything by the short form (.SS/.SZ).
const (
	SuffixShanghai    = ".SS"
	SuffixShenzhen    = ".SZ"
	suffixShanghaiMIC = ".XSHG"
	suffixShenzhenMIC = ".XSHE"
)

// ToStandardSymbol converts a broker symbol to the .SS/.SZ form.
func ToStandardSymbol(symbol string) string {
	switch {
	case strings.HasSuffix(symbol, suffixShenzhenMIC):
		return strings.TrimSuffix(symbol, suffixShenzhenMIC) + SuffixShenzhen
	case strings.HasSuffix(symbol, suffixShanghaiMIC):
		return strings.TrimSuffix(symbol, suffixShanghaiMIC) + SuffixShanghai
	default:
		return symbol
	}
}

// IsShanghai reports whether the symbol trades on the Shanghai exchange.
func IsShanghai(symbol string) bool {
	return strings.HasSuffix(ToStandardSymbol(symbol), SuffixShanghai)
}
