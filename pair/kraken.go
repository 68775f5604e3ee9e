package pair

import (
	"fmt"
	"strings"

	"bitcoin-exchanges-go/money"
)

// KrakenScheme kraken 的前缀式符号：X<base>Z<quote>，BTC 拼作 XBT。
// 例如 BTC_USD -> XXBTZUSD。X 前缀标记加密资产，Z 前缀标记法币。
type KrakenScheme struct{}

var krakenAliases = map[money.Currency]string{
	money.BTC: "XBT",
}

func krakenSpell(c money.Currency) string {
	if alias, ok := krakenAliases[c]; ok {
		return alias
	}
	return string(c)
}

func krakenUnspell(s string) (money.Currency, bool) {
	for canonical, alias := range krakenAliases {
		if alias == s {
			return canonical, true
		}
	}
	c := money.Currency(s)
	if money.Known(c) {
		return c, true
	}
	return "", false
}

// Native BTC_USD -> XXBTZUSD。
func (KrakenScheme) Native(p Pair) (string, error) {
	if !money.Known(p.Base) || !money.Known(p.Quote) {
		return "", fmt.Errorf("unsupported pair %s", p)
	}
	return "X" + krakenSpell(p.Base) + "Z" + krakenSpell(p.Quote), nil
}

// Canonical XXBTZUSD -> BTC_USD。
func (KrakenScheme) Canonical(native string) (Pair, error) {
	if len(native) < 5 || native[0] != 'X' {
		return Pair{}, fmt.Errorf("malformed kraken pair %q", native)
	}
	// 去掉前缀 X 后按法币标记 Z 切分；本库支持的基础货币拼写都不含 Z。
	rest := native[1:]
	z := strings.Index(rest, "Z")
	if z <= 0 || z == len(rest)-1 {
		return Pair{}, fmt.Errorf("malformed kraken pair %q", native)
	}
	base, okB := krakenUnspell(rest[:z])
	quote, okQ := krakenUnspell(rest[z+1:])
	if !okB || !okQ {
		return Pair{}, fmt.Errorf("unknown currency in kraken pair %q", native)
	}
	return New(base, quote)
}

// AssetCurrency kraken 余额接口的资产代码（XXBT、ZUSD、ZEUR）还原为货币。
func AssetCurrency(asset string) (money.Currency, bool) {
	s := asset
	if len(s) == 4 && (s[0] == 'X' || s[0] == 'Z') {
		s = s[1:]
	}
	return krakenUnspell(s)
}
