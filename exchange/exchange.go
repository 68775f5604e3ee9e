// Package exchange 定义所有交易所适配器共同遵守的契约与共享类型。
// 调用方按交易所标识挑选实现，其余代码与具体交易所无关。
package exchange

import (
	"github.com/shopspring/decimal"

	"bitcoin-exchanges-go/money"
	"bitcoin-exchanges-go/pair"
)

// Side 订单方向，边界处统一为 bid/ask；各交易所的 buy/sell、0/1
// 词汇由适配器内部翻译。
type Side string

const (
	Bid Side = "bid"
	Ask Side = "ask"
)

// Valid 方向是否合法。
func (s Side) Valid() bool { return s == Bid || s == Ask }

// BalanceKind 余额查询种类。
type BalanceKind int

const (
	// Total 账面全部资金，含挂单占用部分。
	Total BalanceKind = iota
	// Available 可用于下单的资金。
	Available
	// Both 两者同时返回。
	Both
)

// Balances 按请求种类填充的余额；未请求的一侧保持零值。
type Balances struct {
	Total     money.Multi
	Available money.Multi
}

// BlockedOrderID 下单开关关闭时 CreateOrder 返回的哨兵值，未向交易所提交。
const BlockedOrderID = "order blocked"

// Exchange 交易所适配器契约。所有操作都是阻塞调用：完成、超时或出错。
// 任何失败都以 *VenueError 返回。
type Exchange interface {
	Name() string

	// 公共行情
	Ticker(p pair.Pair) (Ticker, error)
	OrderBook(p pair.Pair) (OrderBook, error)

	// 私有接口
	Balance(kind BalanceKind) (Balances, error)
	OpenOrders(p pair.Pair) ([]Order, error)
	CreateOrder(amount, price decimal.Decimal, side Side, p pair.Pair) (string, error)
	CancelOrder(id string, p pair.Pair) (bool, error)
	CancelOrders(p pair.Pair) (bool, error)
	DepositAddress(cur money.Currency) (string, error)
	TradeHistory(p pair.Pair, limit int) ([]Trade, error)
}
