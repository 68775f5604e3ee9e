package pair

import (
	"fmt"
	"strings"

	"bitcoin-exchanges-go/money"
)

// Pair 与具体交易所无关的交易对，序列化为 "BASE_QUOTE"。
type Pair struct {
	Base  money.Currency
	Quote money.Currency
}

// New 构造交易对。base 与 quote 必须是不同的已知货币。
func New(base, quote money.Currency) (Pair, error) {
	if !money.Known(base) {
		return Pair{}, fmt.Errorf("unknown base currency %q", base)
	}
	if !money.Known(quote) {
		return Pair{}, fmt.Errorf("unknown quote currency %q", quote)
	}
	if base == quote {
		return Pair{}, fmt.Errorf("base and quote are both %q", base)
	}
	return Pair{Base: base, Quote: quote}, nil
}

// Parse 解析 "BASE_QUOTE" 形式的规范符号。
func Parse(s string) (Pair, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 2 {
		return Pair{}, fmt.Errorf("malformed canonical pair %q", s)
	}
	return New(money.Currency(parts[0]), money.Currency(parts[1]))
}

// MustParse 测试场景使用，解析失败 panic。
func MustParse(s string) Pair {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pair) String() string {
	return string(p.Base) + "_" + string(p.Quote)
}

// IsZero 零值判断。
func (p Pair) IsZero() bool { return p.Base == "" && p.Quote == "" }
