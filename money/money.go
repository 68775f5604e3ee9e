package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency 货币代码，例如 BTC、USD。
type Currency string

// 本库认识的货币集合。交易所返回未知货币时按无效处理。
const (
	BTC  Currency = "BTC"
	LTC  Currency = "LTC"
	ETH  Currency = "ETH"
	DASH Currency = "DASH"
	DOGE Currency = "DOGE"
	USD  Currency = "USD"
	USDT Currency = "USDT"
	EUR  Currency = "EUR"
	GBP  Currency = "GBP"
	JPY  Currency = "JPY"
	CNY  Currency = "CNY"
	RUB  Currency = "RUB"
)

var known = map[Currency]bool{
	BTC: true, LTC: true, ETH: true, DASH: true, DOGE: true,
	USD: true, USDT: true, EUR: true, GBP: true, JPY: true, CNY: true, RUB: true,
}

// Known 报告货币代码是否在已知集合内。
func Known(c Currency) bool { return known[c] }

// Money 带货币单位的精确金额。零值是 0 个未指定货币，仅作占位。
type Money struct {
	Amount   decimal.Decimal
	Currency Currency
}

// New 用十进制字符串构造金额。
func New(amount string, cur Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if !Known(cur) {
		return Money{}, fmt.Errorf("unknown currency %q", cur)
	}
	return Money{Amount: d, Currency: cur}, nil
}

// MustNew 测试与常量场景使用，解析失败 panic。
func MustNew(amount string, cur Currency) Money {
	m, err := New(amount, cur)
	if err != nil {
		panic(err)
	}
	return m
}

// FromDecimal 直接包装一个已解析的数值。
func FromDecimal(d decimal.Decimal, cur Currency) Money {
	return Money{Amount: d, Currency: cur}
}

// FromFloat 从 float64 构造，仅用于精度无关紧要的展示路径。
func FromFloat(f float64, cur Currency) Money {
	return Money{Amount: decimal.NewFromFloat(f), Currency: cur}
}

// Add 同货币相加，货币不同返回错误。
func (m Money) Add(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s + %s", m.Currency, o.Currency)
	}
	return Money{Amount: m.Amount.Add(o.Amount), Currency: m.Currency}, nil
}

// Sub 同货币相减。
func (m Money) Sub(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s - %s", m.Currency, o.Currency)
	}
	return Money{Amount: m.Amount.Sub(o.Amount), Currency: m.Currency}, nil
}

// MulRate 乘以无量纲倍率，货币不变。用于把基础数量换算成计价货币名义值时，
// 调用方负责换到正确的货币，见 Notional。
func (m Money) MulRate(rate decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(rate), Currency: m.Currency}
}

// Notional 返回 price × amount，计价货币。amount 以基础货币计。
func Notional(price Money, amount decimal.Decimal) Money {
	return Money{Amount: price.Amount.Mul(amount), Currency: price.Currency}
}

// Cmp 同货币比较：-1、0、1。货币不同返回错误。
func (m Money) Cmp(o Money) (int, error) {
	if m.Currency != o.Currency {
		return 0, fmt.Errorf("currency mismatch: cmp %s with %s", m.Currency, o.Currency)
	}
	return m.Amount.Cmp(o.Amount), nil
}

// IsZero 金额是否为零。
func (m Money) IsZero() bool { return m.Amount.IsZero() }

// Equal 金额与货币都相同。
func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount.Equal(o.Amount)
}

func (m Money) String() string {
	return m.Amount.String() + " " + string(m.Currency)
}
