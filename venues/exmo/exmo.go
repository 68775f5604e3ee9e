// Package exmo 实现 EXMO 的适配器。原生交易对就是 BASE_QUOTE 大写下划线
// 格式；私有接口 Sign 报头是表单串的 HMAC-SHA512 十六进制。
package exmo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bitcoin-exchanges-go/config"
	"bitcoin-exchanges-go/exchange"
	"bitcoin-exchanges-go/metrics"
	"bitcoin-exchanges-go/money"
	"bitcoin-exchanges-go/pair"
	"bitcoin-exchanges-go/sign"
	"bitcoin-exchanges-go/transport"
)

// Name 交易所标识。
const Name = "exmo"

const defaultBaseURL = "https://api.exmo.com/v1"

// 限频约 3 次/秒。
const (
	requestRate  = 3
	requestBurst = 6
)

var scheme = pair.UpperUnderscore

// nonceNow 毫秒 nonce。测试可替换。
var nonceNow = func() int64 { return time.Now().UnixNano() / 1e6 }

// Client EXMO 适配器。
type Client struct {
	key         string
	secret      string
	blockOrders bool
	rest        *transport.Client
	log         *zap.Logger
}

// New 从配置构造客户端。
func New(cfg config.VenueConfig, blockOrders bool, log *zap.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		key:         cfg.Key,
		secret:      cfg.Secret,
		blockOrders: blockOrders,
		rest:        &transport.Client{BaseURL: base, Limiter: transport.NewTokenBucket(requestRate, requestBurst), Logger: log},
		log:         log,
	}
}

func (c *Client) Name() string { return Name }

// Rest 暴露底层 REST 客户端，测试注入用。
func (c *Client) Rest() *transport.Client { return c.rest }

func native(p pair.Pair) (string, error) {
	s, err := scheme.Native(p)
	if err != nil {
		return "", exchange.Errf(Name, "%v", err)
	}
	return s, nil
}

// venueError result=false 的信封带 error 字段。
func venueError(body []byte) error {
	var e struct {
		Result *bool  `json:"result"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Result != nil && !*e.Result && e.Error != "" {
		return exchange.Errf(Name, "%s", e.Error)
	}
	return nil
}

// private 签名请求。
func (c *Client) private(endpoint string, params url.Values) ([]byte, error) {
	f := url.Values{}
	for k, vs := range params {
		f[k] = vs
	}
	f.Set("nonce", fmt.Sprintf("%d", nonceNow()))

	headers := http.Header{}
	headers.Set("Key", c.key)
	headers.Set("Sign", sign.HMACSHA512Hex([]byte(c.secret), []byte(f.Encode())))

	body, _, err := c.rest.PostForm("/"+endpoint, f, headers)
	if err != nil {
		return nil, exchange.Errf(Name, "%v while sending %s", err, endpoint)
	}
	if verr := venueError(body); verr != nil {
		return nil, verr
	}
	return body, nil
}

// Ticker 全市场行情里取本交易对的档。
func (c *Client) Ticker(p pair.Pair) (exchange.Ticker, error) {
	op := "ticker"
	sym, err := native(p)
	if err != nil {
		return exchange.Ticker{}, err
	}
	body, _, err := c.rest.Get("/ticker/", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.Ticker{}, exchange.Errf(Name, "%v while sending get_ticker", err)
	}
	var raw map[string]struct {
		BuyPrice  json.Number `json:"buy_price"`
		SellPrice json.Number `json:"sell_price"`
		High      json.Number `json:"high"`
		Low       json.Number `json:"low"`
		LastTrade json.Number `json:"last_trade"`
		Vol       json.Number `json:"vol"`
		Updated   int64       `json:"updated"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.Ticker{}, exchange.Errf(Name, "malformed ticker: %s", string(body))
	}
	t, ok := raw[sym]
	if !ok {
		return exchange.Ticker{}, exchange.Errf(Name, "ticker missing pair %s", sym)
	}
	out := exchange.Ticker{Timestamp: time.Unix(t.Updated, 0)}
	for _, f := range []struct {
		dst *money.Money
		src json.Number
		cur money.Currency
	}{
		{&out.Bid, t.BuyPrice, p.Quote},
		{&out.Ask, t.SellPrice, p.Quote},
		{&out.High, t.High, p.Quote},
		{&out.Low, t.Low, p.Quote},
		{&out.Last, t.LastTrade, p.Quote},
		{&out.Volume, t.Vol, p.Base},
	} {
		d, err := decimal.NewFromString(f.src.String())
		if err != nil {
			return exchange.Ticker{}, exchange.Errf(Name, "malformed ticker number %q", f.src)
		}
		*f.dst = money.FromDecimal(d, f.cur)
	}
	return out, nil
}

// OrderBook 订单簿。ask/bid 条目为 [price, quantity, amount] 三元数组。
func (c *Client) OrderBook(p pair.Pair) (exchange.OrderBook, error) {
	op := "order_book"
	sym, err := native(p)
	if err != nil {
		return exchange.OrderBook{}, err
	}
	body, _, err := c.rest.Get("/order_book/", url.Values{"pair": {sym}})
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.OrderBook{}, exchange.Errf(Name, "%v while sending get_order_book", err)
	}
	var raw map[string]struct {
		Ask []json.RawMessage `json:"ask"`
		Bid []json.RawMessage `json:"bid"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.OrderBook{}, exchange.Errf(Name, "malformed order book: %s", string(body))
	}
	book, ok := raw[sym]
	if !ok {
		return exchange.OrderBook{}, exchange.Errf(Name, "order book missing pair %s", sym)
	}
	return exchange.OrderBook{RawAsks: book.Ask, RawBids: book.Bid}, nil
}

// Balance 余额来自 user_info 的 balances/reserved 两张表。
func (c *Client) Balance(kind exchange.BalanceKind) (exchange.Balances, error) {
	op := "user_info"
	body, err := c.private("user_info", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.Balances{}, err
	}
	var raw struct {
		Balances map[string]json.Number `json:"balances"`
		Reserved map[string]json.Number `json:"reserved"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.Balances{}, exchange.Errf(Name, "malformed user info: %s", string(body))
	}
	sum := func(entries map[string]json.Number) (money.Multi, error) {
		mm := money.NewMulti()
		for asset, v := range entries {
			cur := money.Currency(asset)
			if !money.Known(cur) {
				continue
			}
			d, err := decimal.NewFromString(v.String())
			if err != nil {
				return money.Multi{}, exchange.Errf(Name, "malformed balance amount %q", v)
			}
			mm = mm.Add(money.FromDecimal(d, cur))
		}
		return mm, nil
	}
	available, err := sum(raw.Balances)
	if err != nil {
		return exchange.Balances{}, err
	}
	reserved, err := sum(raw.Reserved)
	if err != nil {
		return exchange.Balances{}, err
	}
	out := exchange.Balances{}
	if kind == exchange.Total || kind == exchange.Both {
		out.Total = available.AddMulti(reserved)
	}
	if kind == exchange.Available || kind == exchange.Both {
		out.Available = available
	}
	return out, nil
}

// OpenOrders 挂单按交易对分组返回，没有该键就是没有挂单。
func (c *Client) OpenOrders(p pair.Pair) ([]exchange.Order, error) {
	op := "user_open_orders"
	sym, err := native(p)
	if err != nil {
		return nil, err
	}
	body, err := c.private("user_open_orders", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return nil, err
	}
	var raw map[string][]struct {
		OrderID  json.Number `json:"order_id"`
		Type     string      `json:"type"`
		Price    json.Number `json:"price"`
		Quantity json.Number `json:"quantity"`
		Amount   json.Number `json:"amount"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, exchange.Errf(Name, "malformed open orders: %s", string(body))
	}
	entries, ok := raw[sym]
	if !ok {
		return []exchange.Order{}, nil
	}
	orders := make([]exchange.Order, 0, len(entries))
	for _, o := range entries {
		price, errP := decimal.NewFromString(o.Price.String())
		qty := o.Quantity
		if qty.String() == "" {
			qty = o.Amount
		}
		amount, errA := decimal.NewFromString(qty.String())
		if errP != nil || errA != nil {
			return nil, exchange.Errf(Name, "malformed order entry: %s", string(body))
		}
		side := exchange.Bid
		if o.Type == "sell" {
			side = exchange.Ask
		}
		orders = append(orders, exchange.Order{
			Price:  money.FromDecimal(price, p.Quote),
			Amount: money.FromDecimal(amount, p.Base),
			Side:   side,
			Venue:  Name,
			ID:     o.OrderID.String(),
		})
	}
	return orders, nil
}

// CreateOrder 限价单。下单开关关闭时返回哨兵值，不提交。
func (c *Client) CreateOrder(amount, price decimal.Decimal, side exchange.Side, p pair.Pair) (string, error) {
	op := "order_create"
	if c.blockOrders {
		return exchange.BlockedOrderID, nil
	}
	if !side.Valid() {
		return "", exchange.Errf(Name, "unknown side %q", side)
	}
	sym, err := native(p)
	if err != nil {
		return "", err
	}
	otype := "buy"
	if side == exchange.Ask {
		otype = "sell"
	}
	f := url.Values{}
	f.Set("pair", sym)
	f.Set("price", price.String())
	f.Set("quantity", amount.String())
	f.Set("type", otype)
	body, err := c.private("order_create", f)
	metrics.Observe(Name, op, err)
	if err != nil {
		return "", err
	}
	var resp struct {
		OrderID json.Number `json:"order_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.OrderID.String() == "" {
		return "", exchange.Errf(Name, "unable to create order, response was %s", string(body))
	}
	return resp.OrderID.String(), nil
}

// CancelOrder result 为真即成功；订单已不在也算成功。
func (c *Client) CancelOrder(id string, p pair.Pair) (bool, error) {
	op := "order_cancel"
	body, err := c.private("order_cancel", url.Values{"order_id": {id}})
	metrics.Observe(Name, op, err)
	if err != nil {
		ve, ok := err.(*exchange.VenueError)
		if ok && ve.Kind() == exchange.KindNotFound {
			return true, nil
		}
		return false, err
	}
	var resp struct {
		Result bool `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, exchange.Errf(Name, "malformed cancel response: %s", string(body))
	}
	return resp.Result, nil
}

// CancelOrders 逐一撤销该交易对的全部挂单。
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

// DepositAddress 按资产列出的充值地址表。
func (c *Client) DepositAddress(cur money.Currency) (string, error) {
	op := "deposit_address"
	body, err := c.private("deposit_address", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return "", err
	}
	var addrs map[string]string
	if err := json.Unmarshal(body, &addrs); err != nil {
		return "", exchange.Errf(Name, "malformed deposit addresses: %s", string(body))
	}
	addr, ok := addrs[string(cur)]
	if !ok || addr == "" {
		return "", exchange.Errf(Name, "no deposit address for %s", cur)
	}
	return addr, nil
}

// TradeHistory 自己的成交记录，按交易对分组返回。
func (c *Client) TradeHistory(p pair.Pair, limit int) ([]exchange.Trade, error) {
	op := "user_trades"
	sym, err := native(p)
	if err != nil {
		return nil, err
	}
	f := url.Values{"pair": {sym}}
	if limit > 0 {
		f.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.private("user_trades", f)
	metrics.Observe(Name, op, err)
	if err != nil {
		return nil, err
	}
	var raw map[string][]struct {
		TradeID  json.Number `json:"trade_id"`
		Type     string      `json:"type"`
		Price    json.Number `json:"price"`
		Quantity json.Number `json:"quantity"`
		Date     int64       `json:"date"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, exchange.Errf(Name, "malformed trades: %s", string(body))
	}
	entries, ok := raw[sym]
	if !ok {
		return []exchange.Trade{}, nil
	}
	trades := make([]exchange.Trade, 0, len(entries))
	for _, t := range entries {
		price, errP := decimal.NewFromString(t.Price.String())
		qty, errQ := decimal.NewFromString(t.Quantity.String())
		if errP != nil || errQ != nil {
			continue
		}
		side := exchange.Bid
		if t.Type == "sell" {
			side = exchange.Ask
		}
		trades = append(trades, exchange.Trade{
			ID:        t.TradeID.String(),
			Price:     money.FromDecimal(price, p.Quote),
			Amount:    money.FromDecimal(qty, p.Base),
			Side:      side,
			Timestamp: time.Unix(t.Date, 0),
		})
	}
	return trades, nil
}
