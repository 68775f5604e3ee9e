package money

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Multi 每种货币至多一条的金额集合。值语义，修改操作返回新集合。
type Multi struct {
	amounts map[Currency]decimal.Decimal
}

// NewMulti 从零或多个金额构造集合，同货币自动合并。
func NewMulti(ms ...Money) Multi {
	mm := Multi{amounts: map[Currency]decimal.Decimal{}}
	for _, m := range ms {
		mm = mm.Add(m)
	}
	return mm
}

func (mm Multi) clone() Multi {
	out := Multi{amounts: make(map[Currency]decimal.Decimal, len(mm.amounts))}
	for c, d := range mm.amounts {
		out.amounts[c] = d
	}
	return out
}

// Add 并入一笔金额：已有该货币则累加，否则新增。
func (mm Multi) Add(m Money) Multi {
	out := mm.clone()
	if cur, ok := out.amounts[m.Currency]; ok {
		out.amounts[m.Currency] = cur.Add(m.Amount)
	} else {
		out.amounts[m.Currency] = m.Amount
	}
	return out
}

// Sub 按货币扣减一笔金额。
func (mm Multi) Sub(m Money) Multi {
	return mm.Add(Money{Amount: m.Amount.Neg(), Currency: m.Currency})
}

// AddMulti 按货币逐项合并两个集合。
func (mm Multi) AddMulti(o Multi) Multi {
	out := mm.clone()
	for c, d := range o.amounts {
		out = out.Add(Money{Amount: d, Currency: c})
	}
	return out
}

// SubMulti 按货币逐项相减。
func (mm Multi) SubMulti(o Multi) Multi {
	out := mm.clone()
	for c, d := range o.amounts {
		out = out.Sub(Money{Amount: d, Currency: c})
	}
	return out
}

// Get 返回指定货币的金额，缺失时为该货币的零值。
func (mm Multi) Get(cur Currency) Money {
	if d, ok := mm.amounts[cur]; ok {
		return Money{Amount: d, Currency: cur}
	}
	return Money{Currency: cur}
}

// Currencies 返回出现过的货币，按字典序。
func (mm Multi) Currencies() []Currency {
	out := make([]Currency, 0, len(mm.amounts))
	for c := range mm.amounts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Equal 两个集合在每种货币上金额一致。缺失项按零处理。
func (mm Multi) Equal(o Multi) bool {
	for c, d := range mm.amounts {
		if !d.Equal(o.Get(c).Amount) {
			return false
		}
	}
	for c, d := range o.amounts {
		if !d.Equal(mm.Get(c).Amount) {
			return false
		}
	}
	return true
}

func (mm Multi) String() string {
	parts := make([]string, 0, len(mm.amounts))
	for _, c := range mm.Currencies() {
		parts = append(parts, mm.Get(c).String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
