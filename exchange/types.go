package exchange

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bitcoin-exchanges-go/money"
)

// Ticker 规范化行情快照。bid/ask/high/low/last 以计价货币计，
// volume 以基础货币计，timestamp 为交易所报告或采样时的墙钟时间。
type Ticker struct {
	Bid       money.Money
	Ask       money.Money
	High      money.Money
	Low       money.Money
	Last      money.Money
	Volume    money.Money
	Timestamp time.Time
}

// Order 交易所报告的一笔未成交挂单。交易所报告其关闭后即丢弃，
// 本层不跟踪独立生命周期。
type Order struct {
	Price  money.Money // 计价货币
	Amount money.Money // 基础货币
	Side   Side
	Venue  string
	ID     string
}

// Trade 历史成交，尽力而为的归一化。
type Trade struct {
	ID        string
	Price     money.Money
	Amount    money.Money
	Side      Side
	Timestamp time.Time
}

// OrderbookItem 单档挂单的价格与数量，货币由所属交易对隐含。
type OrderbookItem struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// BookItemFormatter 把交易所原始挂单条目转成 OrderbookItem。
// 逐条按需调用，不在取书时整体转换。
type BookItemFormatter func(raw json.RawMessage) (OrderbookItem, error)

// DefaultBookItem 默认条目格式：[price, size, ...] 数组，多余元素忽略。
// 数值可能是字符串也可能是裸数字。
func DefaultBookItem(raw json.RawMessage) (OrderbookItem, error) {
	var fields []json.Number
	if err := json.Unmarshal(raw, &fields); err != nil {
		return OrderbookItem{}, fmt.Errorf("book item not an array: %w", err)
	}
	if len(fields) < 2 {
		return OrderbookItem{}, fmt.Errorf("book item has %d fields, need 2", len(fields))
	}
	price, err := decimal.NewFromString(fields[0].String())
	if err != nil {
		return OrderbookItem{}, fmt.Errorf("book item price: %w", err)
	}
	amount, err := decimal.NewFromString(fields[1].String())
	if err != nil {
		return OrderbookItem{}, fmt.Errorf("book item amount: %w", err)
	}
	return OrderbookItem{Price: price, Amount: amount}, nil
}

// ObjectBookItem 对象形条目 {price, amount}（bitfinex）。
func ObjectBookItem(raw json.RawMessage) (OrderbookItem, error) {
	var obj struct {
		Price  json.Number `json:"price"`
		Amount json.Number `json:"amount"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return OrderbookItem{}, fmt.Errorf("book item not an object: %w", err)
	}
	price, err := decimal.NewFromString(obj.Price.String())
	if err != nil {
		return OrderbookItem{}, fmt.Errorf("book item price: %w", err)
	}
	amount, err := decimal.NewFromString(obj.Amount.String())
	if err != nil {
		return OrderbookItem{}, fmt.Errorf("book item amount: %w", err)
	}
	return OrderbookItem{Price: price, Amount: amount}, nil
}

// OrderBook 保留原始条目的订单簿，排序沿用交易所原生顺序。
// 条目经 Format 逐条转换，整本转换用 Asks/Bids。
type OrderBook struct {
	RawAsks []json.RawMessage
	RawBids []json.RawMessage
	Format  BookItemFormatter
}

func (b OrderBook) formatter() BookItemFormatter {
	if b.Format != nil {
		return b.Format
	}
	return DefaultBookItem
}

// Ask 第 i 档卖单。
func (b OrderBook) Ask(i int) (OrderbookItem, error) {
	if i < 0 || i >= len(b.RawAsks) {
		return OrderbookItem{}, fmt.Errorf("ask index %d out of range", i)
	}
	return b.formatter()(b.RawAsks[i])
}

// Bid 第 i 档买单。
func (b OrderBook) Bid(i int) (OrderbookItem, error) {
	if i < 0 || i >= len(b.RawBids) {
		return OrderbookItem{}, fmt.Errorf("bid index %d out of range", i)
	}
	return b.formatter()(b.RawBids[i])
}

// Asks 转换全部卖单。
func (b OrderBook) Asks() ([]OrderbookItem, error) {
	return b.formatAll(b.RawAsks)
}

// Bids 转换全部买单。
func (b OrderBook) Bids() ([]OrderbookItem, error) {
	return b.formatAll(b.RawBids)
}

func (b OrderBook) formatAll(raw []json.RawMessage) ([]OrderbookItem, error) {
	out := make([]OrderbookItem, 0, len(raw))
	for _, r := range raw {
		item, err := b.formatter()(r)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
