package pair

import (
	"fmt"
	"strings"

	"bitcoin-exchanges-go/money"
)

// Scheme 单个交易所的符号拼写规则：规范 <-> 原生 双向转换。
// 对交易所支持的每个交易对，Native 与 Canonical 互为逆运算。
type Scheme interface {
	Native(Pair) (string, error)
	Canonical(native string) (Pair, error)
}

// Format 参数化的拼写规则，覆盖拼接、下划线、反序与货币别名方案。
// Aliases 给出规范货币在该交易所的特殊拼写（如 USD 写作 USDT、DASH 写作 DSH）。
type Format struct {
	Delim      string
	Upper      bool
	QuoteFirst bool
	Aliases    map[money.Currency]string
}

func (f Format) spell(c money.Currency) string {
	s, ok := f.Aliases[c]
	if !ok {
		s = string(c)
	}
	if f.Upper {
		return strings.ToUpper(s)
	}
	return strings.ToLower(s)
}

// unspell 还原一个原生货币拼写；别名优先于默认拼写。
func (f Format) unspell(s string) (money.Currency, bool) {
	for canonical, alias := range f.Aliases {
		if strings.EqualFold(alias, s) {
			return canonical, true
		}
	}
	c := money.Currency(strings.ToUpper(s))
	if money.Known(c) {
		return c, true
	}
	return "", false
}

// Native 把规范交易对转成该交易所的原生符号。
func (f Format) Native(p Pair) (string, error) {
	if !money.Known(p.Base) || !money.Known(p.Quote) {
		return "", fmt.Errorf("unsupported pair %s", p)
	}
	first, second := f.spell(p.Base), f.spell(p.Quote)
	if f.QuoteFirst {
		first, second = second, first
	}
	return first + f.Delim + second, nil
}

// Canonical 把原生符号还原为规范交易对。
func (f Format) Canonical(native string) (Pair, error) {
	var first, second string
	if f.Delim != "" {
		parts := strings.Split(native, f.Delim)
		if len(parts) != 2 {
			return Pair{}, fmt.Errorf("malformed native pair %q", native)
		}
		first, second = parts[0], parts[1]
	} else {
		var ok bool
		first, second, ok = f.splitConcat(native)
		if !ok {
			return Pair{}, fmt.Errorf("cannot split native pair %q", native)
		}
	}
	a, okA := f.unspell(first)
	b, okB := f.unspell(second)
	if !okA || !okB {
		return Pair{}, fmt.Errorf("unknown currency in native pair %q", native)
	}
	if f.QuoteFirst {
		a, b = b, a
	}
	return New(a, b)
}

// splitConcat 处理无分隔符的拼接符号（如 btcusd）：尝试 3/4 字长的切分，
// 要求两半都能解析为已知货币。
func (f Format) splitConcat(s string) (string, string, bool) {
	for _, i := range []int{3, 4} {
		if i >= len(s) {
			continue
		}
		if _, ok := f.unspell(s[:i]); !ok {
			continue
		}
		if _, ok := f.unspell(s[i:]); ok {
			return s[:i], s[i:], true
		}
	}
	return "", "", false
}

// 常见方案的现成配置。
var (
	// LowerConcat btcusd 形式（bitstamp、bitfinex）。
	LowerConcat = Format{}
	// LowerUnderscore btc_usd 形式（btce、okcoin、lakebtc）。
	LowerUnderscore = Format{Delim: "_"}
	// UpperUnderscore BTC_USD 形式（exmo）。
	UpperUnderscore = Format{Delim: "_", Upper: true}
)
