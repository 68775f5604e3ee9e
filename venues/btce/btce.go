// Package btce 实现 BTC-E 的适配器。交易所要求 nonce 严格递增且上限
// 只有 32 位，所以这里用持久化的序号存储，而不是时间戳。
package btce

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bitcoin-exchanges-go/config"
	"bitcoin-exchanges-go/exchange"
	"bitcoin-exchanges-go/metrics"
	"bitcoin-exchanges-go/money"
	"bitcoin-exchanges-go/nonce"
	"bitcoin-exchanges-go/pair"
	"bitcoin-exchanges-go/sign"
	"bitcoin-exchanges-go/transport"
)

// Name 交易所标识。
const Name = "btce"

const (
	defaultBaseURL = "https://btc-e.com"
	publicPrefix   = "/api/2/btc_usd/"
	tradePath      = "/tapi"
)

// 下单数量按交易所要求保留两位小数。
const amountScale = 2

// 限频约 1 次/秒。
const (
	requestRate  = 1
	requestBurst = 6
)

// Client BTC-E 适配器。
type Client struct {
	key            string
	secret         string
	depositAddress string
	blockOrders    bool
	seq            nonce.Store
	rest           *transport.Client
	log            *zap.Logger
}

// New 从配置构造客户端，并为本交易所初始化 nonce 序号（已存在则沿用）。
func New(cfg config.VenueConfig, blockOrders bool, seq nonce.Store, log *zap.Logger) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	if seq == nil {
		seq = nonce.NewMemoryStore()
	}
	if _, err := seq.Init(Name, nonce.BoundedStart(time.Now())); err != nil {
		return nil, exchange.Errf(Name, "cannot initialize nonce store: %v", err)
	}
	return &Client{
		key:            cfg.Key,
		secret:         cfg.Secret,
		depositAddress: cfg.DepositAddress,
		blockOrders:    blockOrders,
		seq:            seq,
		rest:           &transport.Client{BaseURL: base, Limiter: transport.NewTokenBucket(requestRate, requestBurst), Logger: log},
		log:            log,
	}, nil
}

func (c *Client) Name() string { return Name }

// Rest 暴露底层 REST 客户端，测试注入用。
func (c *Client) Rest() *transport.Client { return c.rest }

// private 签名交易请求。“invalid nonce parameter” 取下一个序号重发。
func (c *Client) private(method string, params url.Values) (json.RawMessage, error) {
	var result json.RawMessage
	err := transport.Retry(transport.MaxNonceRetries, 0, func(attempt int) (bool, error) {
		n, err := c.seq.Next(Name)
		if err != nil {
			return false, exchange.Errf(Name, "nonce store: %v", err)
		}
		if n > nonce.Bounded32 {
			return false, exchange.Errf(Name, "nonce %d exceeds the 32-bit ceiling %d", n, nonce.Bounded32)
		}
		f := url.Values{}
		for k, vs := range params {
			f[k] = vs
		}
		f.Set("method", method)
		f.Set("nonce", fmt.Sprintf("%d", n))

		headers := http.Header{}
		headers.Set("Key", c.key)
		headers.Set("Sign", sign.HMACSHA512Hex([]byte(c.secret), []byte(f.Encode())))

		body, _, err := c.rest.PostForm(tradePath, f, headers)
		if err != nil {
			return false, exchange.Errf(Name, "%v while sending %s", err, method)
		}
		if strings.Contains(string(body), "invalid nonce parameter") {
			if attempt > 0 {
				metrics.NonceRetries.WithLabelValues(Name).Inc()
			}
			return true, exchange.Errf(Name, "invalid nonce parameter")
		}
		r, err := unwrap(body)
		if err != nil {
			return false, err
		}
		result = r
		return false, nil
	})
	return result, err
}

// unwrap 解交易接口信封：success==1 取 return，否则把 error 原样抛出。
func unwrap(body []byte) (json.RawMessage, error) {
	var resp struct {
		Success int             `json:"success"`
		Return  json.RawMessage `json:"return"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, exchange.Errf(Name, "response was not valid json: %s", string(body))
	}
	if resp.Success == 1 {
		return resp.Return, nil
	}
	if resp.Error != "" {
		return nil, exchange.Errf(Name, "%s", resp.Error)
	}
	return nil, exchange.Errf(Name, "response not successful but also not erroneous: %s", string(body))
}

// noOrders “no orders” 不是失败，是空结果。
func noOrders(err error) bool {
	ve, ok := err.(*exchange.VenueError)
	return ok && strings.Contains(ve.Message, "no orders")
}

func checkPair(p pair.Pair) error {
	if p.Base != money.BTC || p.Quote != money.USD {
		return exchange.Errf(Name, "unsupported pair %s", p)
	}
	return nil
}

// Ticker 公共行情。buy/sell 字段是对手方口径，翻译成 ask/bid。
func (c *Client) Ticker(p pair.Pair) (exchange.Ticker, error) {
	op := "ticker"
	if err := checkPair(p); err != nil {
		return exchange.Ticker{}, err
	}
	body, _, err := c.rest.Get(publicPrefix+"ticker/", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.Ticker{}, exchange.Errf(Name, "%v while sending ticker", err)
	}
	var raw struct {
		Ticker struct {
			High    json.Number `json:"high"`
			Low     json.Number `json:"low"`
			Last    json.Number `json:"last"`
			Buy     json.Number `json:"buy"`
			Sell    json.Number `json:"sell"`
			VolCur  json.Number `json:"vol_cur"`
			Updated int64       `json:"updated"`
		} `json:"ticker"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.Ticker{}, exchange.Errf(Name, "malformed ticker: %s", string(body))
	}
	t := raw.Ticker
	out := exchange.Ticker{Timestamp: time.Unix(t.Updated, 0)}
	for _, f := range []struct {
		dst *money.Money
		src json.Number
		cur money.Currency
	}{
		{&out.Ask, t.Buy, money.USD},
		{&out.Bid, t.Sell, money.USD},
		{&out.High, t.High, money.USD},
		{&out.Low, t.Low, money.USD},
		{&out.Last, t.Last, money.USD},
		{&out.Volume, t.VolCur, money.BTC},
	} {
		d, err := decimal.NewFromString(f.src.String())
		if err != nil {
			return exchange.Ticker{}, exchange.Errf(Name, "malformed ticker number %q", f.src)
		}
		*f.dst = money.FromDecimal(d, f.cur)
	}
	return out, nil
}

// OrderBook 订单簿。条目为 [price, volume] 数组。
func (c *Client) OrderBook(p pair.Pair) (exchange.OrderBook, error) {
	op := "depth"
	if err := checkPair(p); err != nil {
		return exchange.OrderBook{}, err
	}
	body, _, err := c.rest.Get(publicPrefix+"depth/", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.OrderBook{}, exchange.Errf(Name, "%v while sending depth", err)
	}
	var raw struct {
		Asks []json.RawMessage `json:"asks"`
		Bids []json.RawMessage `json:"bids"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.OrderBook{}, exchange.Errf(Name, "malformed depth: %s", string(body))
	}
	return exchange.OrderBook{RawAsks: raw.Asks, RawBids: raw.Bids}, nil
}

// Balance 余额。getInfo 的 funds 是可用余额；总额要把挂单占用加回来
// （买单占报价币名义额，卖单占基础币数量）。
func (c *Client) Balance(kind exchange.BalanceKind) (exchange.Balances, error) {
	op := "get_info"
	raw, err := c.private("getInfo", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.Balances{}, err
	}
	var info struct {
		Funds map[string]json.Number `json:"funds"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return exchange.Balances{}, exchange.Errf(Name, "malformed getInfo: %s", string(raw))
	}
	available := money.NewMulti()
	for asset, cur := range map[string]money.Currency{"btc": money.BTC, "usd": money.USD} {
		if v, ok := info.Funds[asset]; ok {
			d, err := decimal.NewFromString(v.String())
			if err != nil {
				return exchange.Balances{}, exchange.Errf(Name, "malformed funds amount %q", v)
			}
			available = available.Add(money.FromDecimal(d, cur))
		}
	}

	out := exchange.Balances{}
	if kind == exchange.Available {
		out.Available = available
		return out, nil
	}
	orders, err := c.OpenOrders(pair.Pair{Base: money.BTC, Quote: money.USD})
	if err != nil {
		return exchange.Balances{}, err
	}
	onOrder := money.NewMulti()
	for _, o := range orders {
		if o.Side == exchange.Bid {
			onOrder = onOrder.Add(money.Notional(o.Price, o.Amount.Amount))
		} else {
			onOrder = onOrder.Add(o.Amount)
		}
	}
	out.Total = available.AddMulti(onOrder)
	if kind == exchange.Both {
		out.Available = available
	}
	return out, nil
}

// OpenOrders 未成交挂单。“no orders” 返回空表。
func (c *Client) OpenOrders(p pair.Pair) ([]exchange.Order, error) {
	op := "active_orders"
	if err := checkPair(p); err != nil {
		return nil, err
	}
	raw, err := c.private("ActiveOrders", url.Values{"pair": {"btc_usd"}})
	metrics.Observe(Name, op, err)
	if err != nil {
		if noOrders(err) {
			return []exchange.Order{}, nil
		}
		return nil, err
	}
	var entries map[string]struct {
		Pair   string      `json:"pair"`
		Type   string      `json:"type"`
		Amount json.Number `json:"amount"`
		Rate   json.Number `json:"rate"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, exchange.Errf(Name, "malformed active orders: %s", string(raw))
	}
	orders := make([]exchange.Order, 0, len(entries))
	for id, o := range entries {
		if o.Pair != "btc_usd" {
			continue
		}
		rate, errR := decimal.NewFromString(o.Rate.String())
		amount, errA := decimal.NewFromString(o.Amount.String())
		if errR != nil || errA != nil {
			return nil, exchange.Errf(Name, "malformed order entry %s", id)
		}
		side := exchange.Bid
		if o.Type == "sell" {
			side = exchange.Ask
		}
		orders = append(orders, exchange.Order{
			Price:  money.FromDecimal(rate, money.USD),
			Amount: money.FromDecimal(amount, money.BTC),
			Side:   side,
			Venue:  Name,
			ID:     id,
		})
	}
	return orders, nil
}

// CreateOrder 限价单。下单开关关闭时返回哨兵值，不提交。
func (c *Client) CreateOrder(amount, price decimal.Decimal, side exchange.Side, p pair.Pair) (string, error) {
	op := "trade"
	if c.blockOrders {
		return exchange.BlockedOrderID, nil
	}
	if err := checkPair(p); err != nil {
		return "", err
	}
	if !side.Valid() {
		return "", exchange.Errf(Name, "unknown order type %q", side)
	}
	otype := "buy"
	if side == exchange.Ask {
		otype = "sell"
	}
	f := url.Values{}
	f.Set("pair", "btc_usd")
	f.Set("type", otype)
	f.Set("rate", price.String())
	f.Set("amount", amount.Round(amountScale).String())
	raw, err := c.private("Trade", f)
	metrics.Observe(Name, op, err)
	if err != nil {
		return "", err
	}
	var resp struct {
		OrderID json.Number `json:"order_id"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.OrderID.String() == "" {
		return "", exchange.Errf(Name, "unable to create %s %s at %s order", otype, amount, price)
	}
	return resp.OrderID.String(), nil
}

// CancelOrder 回包带 order_id 即成功。
func (c *Client) CancelOrder(id string, p pair.Pair) (bool, error) {
	op := "cancel_order"
	raw, err := c.private("CancelOrder", url.Values{"order_id": {id}})
	metrics.Observe(Name, op, err)
	if err != nil {
		ve, ok := err.(*exchange.VenueError)
		if ok && ve.Kind() == exchange.KindNotFound {
			return true, nil
		}
		return false, err
	}
	var resp struct {
		OrderID json.Number `json:"order_id"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, exchange.Errf(Name, "malformed cancel response: %s", string(raw))
	}
	return resp.OrderID.String() != "", nil
}

// CancelOrders 逐一撤销全部挂单，没有挂单算成功。
func (c *Client) CancelOrders(p pair.Pair) (bool, error) {
	orders, err := c.OpenOrders(p)
	if err != nil {
		return false, err
	}
	success := true
	for _, o := range orders {
		ok, err := c.CancelOrder(o.ID, p)
		if err != nil || !ok {
			success = false
		}
	}
	return success, nil
}

// DepositAddress 静态地址来自配置。
func (c *Client) DepositAddress(cur money.Currency) (string, error) {
	if cur != money.BTC || c.depositAddress == "" {
		return "", exchange.Errf(Name, "no deposit address for %s", cur)
	}
	return c.depositAddress, nil
}

// TradeHistory 成交历史。“no orders” 返回空表。
func (c *Client) TradeHistory(p pair.Pair, limit int) ([]exchange.Trade, error) {
	op := "trade_history"
	if err := checkPair(p); err != nil {
		return nil, err
	}
	f := url.Values{}
	if limit > 0 {
		f.Set("count", fmt.Sprintf("%d", limit))
	}
	raw, err := c.private("TradeHistory", f)
	metrics.Observe(Name, op, err)
	if err != nil {
		if noOrders(err) {
			return []exchange.Trade{}, nil
		}
		return nil, err
	}
	var entries map[string]struct {
		Pair      string      `json:"pair"`
		Type      string      `json:"type"`
		Amount    json.Number `json:"amount"`
		Rate      json.Number `json:"rate"`
		Timestamp int64       `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, exchange.Errf(Name, "malformed trade history: %s", string(raw))
	}
	trades := make([]exchange.Trade, 0, len(entries))
	for id, t := range entries {
		if t.Pair != "btc_usd" {
			continue
		}
		rate, errR := decimal.NewFromString(t.Rate.String())
		amount, errA := decimal.NewFromString(t.Amount.String())
		if errR != nil || errA != nil {
			continue
		}
		side := exchange.Bid
		if t.Type == "sell" {
			side = exchange.Ask
		}
		trades = append(trades, exchange.Trade{
			ID:        id,
			Price:     money.FromDecimal(rate, money.USD),
			Amount:    money.FromDecimal(amount, money.BTC),
			Side:      side,
			Timestamp: time.Unix(t.Timestamp, 0),
		})
	}
	return trades, nil
}
