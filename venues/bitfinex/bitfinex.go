// Package bitfinex 实现 Bitfinex v1 的适配器。私有请求把 JSON 报文
// base64 后放进报头，HMAC-SHA384 十六进制签名；订单簿条目是对象而非数组。
package bitfinex

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
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
const Name = "bitfinex"

const defaultBaseURL = "https://api.bitfinex.com"

// 限频 90 次/分钟。
const (
	requestRate  = 1.5
	requestBurst = 8
)

// 下单时价格数量都格式化为三位小数。
const orderScale = 3

// nonceNow 微秒 nonce。测试可替换。
var nonceNow = func() int64 { return time.Now().UnixNano() / 1e3 }

// Client Bitfinex 适配器。
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
	s, err := pair.LowerConcat.Native(p)
	if err != nil {
		return "", exchange.Errf(Name, "%v", err)
	}
	return s, nil
}

// private 报文进 X-BFX-PAYLOAD，签名进 X-BFX-SIGNATURE。
// “Nonce is too small.” 换新 nonce 重发，有界。
func (c *Client) private(endpoint string, params map[string]interface{}) ([]byte, error) {
	var body []byte
	err := transport.Retry(transport.MaxNonceRetries, 50*time.Millisecond, func(attempt int) (bool, error) {
		msg := map[string]interface{}{"request": endpoint, "nonce": fmt.Sprintf("%d", nonceNow())}
		for k, v := range params {
			msg[k] = v
		}
		raw, err := json.Marshal(msg)
		if err != nil {
			return false, exchange.Errf(Name, "cannot encode payload: %v", err)
		}
		payload := sign.Base64Encode(raw)

		headers := http.Header{}
		headers.Set("X-BFX-APIKEY", c.key)
		headers.Set("X-BFX-PAYLOAD", payload)
		headers.Set("X-BFX-SIGNATURE", sign.HMACSHA384Hex([]byte(c.secret), []byte(payload)))

		b, _, err := c.rest.PostJSON(endpoint, nil, headers)
		if err != nil {
			return false, exchange.Errf(Name, "%v while sending to %s", err, endpoint)
		}
		if strings.Contains(string(b), "Nonce is too small.") {
			if attempt > 0 {
				metrics.NonceRetries.WithLabelValues(Name).Inc()
			}
			return true, exchange.Errf(Name, "Nonce is too small.")
		}
		body = b
		return false, nil
	})
	return body, err
}

// message 错误信封。大多数失败以 {"message": ...} 返回。
func venueMessage(body []byte) (string, bool) {
	var m struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &m); err != nil || m.Message == "" {
		return "", false
	}
	return m.Message, true
}

// Ticker 公共行情，全部字段为字符串，timestamp 是小数秒。
func (c *Client) Ticker(p pair.Pair) (exchange.Ticker, error) {
	op := "pubticker"
	sym, err := native(p)
	if err != nil {
		return exchange.Ticker{}, err
	}
	body, _, err := c.rest.Get("/v1/pubticker/"+sym, nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.Ticker{}, exchange.Errf(Name, "%v while sending get_ticker", err)
	}
	if msg, ok := venueMessage(body); ok {
		return exchange.Ticker{}, exchange.Errf(Name, "%s", msg)
	}
	var raw struct {
		Bid       json.Number `json:"bid"`
		Ask       json.Number `json:"ask"`
		High      json.Number `json:"high"`
		Low       json.Number `json:"low"`
		LastPrice json.Number `json:"last_price"`
		Volume    json.Number `json:"volume"`
		Timestamp json.Number `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.Ticker{}, exchange.Errf(Name, "malformed ticker: %s", string(body))
	}
	out := exchange.Ticker{}
	for _, f := range []struct {
		dst *money.Money
		src json.Number
		cur money.Currency
	}{
		{&out.Bid, raw.Bid, p.Quote},
		{&out.Ask, raw.Ask, p.Quote},
		{&out.High, raw.High, p.Quote},
		{&out.Low, raw.Low, p.Quote},
		{&out.Last, raw.LastPrice, p.Quote},
		{&out.Volume, raw.Volume, p.Base},
	} {
		d, err := decimal.NewFromString(f.src.String())
		if err != nil {
			return exchange.Ticker{}, exchange.Errf(Name, "malformed ticker number %q", f.src)
		}
		*f.dst = money.FromDecimal(d, f.cur)
	}
	if ts, err := strconv.ParseFloat(raw.Timestamp.String(), 64); err == nil {
		out.Timestamp = time.Unix(int64(ts), 0)
	}
	return out, nil
}

// OrderBook 订单簿。条目是 {price, amount, timestamp} 对象，
// 用对象格式器覆盖默认的数组格式。
func (c *Client) OrderBook(p pair.Pair) (exchange.OrderBook, error) {
	op := "book"
	sym, err := native(p)
	if err != nil {
		return exchange.OrderBook{}, err
	}
	body, _, err := c.rest.Get("/v1/book/"+sym, nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.OrderBook{}, exchange.Errf(Name, "%v while sending get_order_book", err)
	}
	var raw struct {
		Bids []json.RawMessage `json:"bids"`
		Asks []json.RawMessage `json:"asks"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.OrderBook{}, exchange.Errf(Name, "malformed order book: %s", string(body))
	}
	return exchange.OrderBook{RawAsks: raw.Asks, RawBids: raw.Bids, Format: exchange.ObjectBookItem}, nil
}

type balanceEntry struct {
	Type      string      `json:"type"`
	Currency  string      `json:"currency"`
	Amount    json.Number `json:"amount"`
	Available json.Number `json:"available"`
}

// Balance 余额。只采纳 usd/btc 项，总额与可用都由交易所直接给出。
func (c *Client) Balance(kind exchange.BalanceKind) (exchange.Balances, error) {
	op := "balances"
	body, err := c.private("/v1/balances", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.Balances{}, err
	}
	if msg, ok := venueMessage(body); ok {
		return exchange.Balances{}, exchange.Errf(Name, "%s", msg)
	}
	var entries []balanceEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return exchange.Balances{}, exchange.Errf(Name, "malformed balances: %s", string(body))
	}
	total := money.NewMulti()
	available := money.NewMulti()
	for _, e := range entries {
		cur := money.Currency(strings.ToUpper(e.Currency))
		if cur != money.USD && cur != money.BTC {
			continue
		}
		amt, errA := decimal.NewFromString(e.Amount.String())
		avail, errV := decimal.NewFromString(e.Available.String())
		if errA != nil || errV != nil {
			return exchange.Balances{}, exchange.Errf(Name, "malformed balance entry: %+v", e)
		}
		total = total.Add(money.FromDecimal(amt, cur))
		available = available.Add(money.FromDecimal(avail, cur))
	}
	out := exchange.Balances{}
	if kind == exchange.Total || kind == exchange.Both {
		out.Total = total
	}
	if kind == exchange.Available || kind == exchange.Both {
		out.Available = available
	}
	return out, nil
}

// OpenOrders 未成交挂单。remaining_amount 为剩余数量。
func (c *Client) OpenOrders(p pair.Pair) ([]exchange.Order, error) {
	op := "orders"
	body, err := c.private("/v1/orders", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return nil, err
	}
	if msg, ok := venueMessage(body); ok {
		return nil, exchange.Errf(Name, "%s", msg)
	}
	sym, err := native(p)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID              json.Number `json:"id"`
		Symbol          string      `json:"symbol"`
		Price           json.Number `json:"price"`
		Side            string      `json:"side"`
		RemainingAmount json.Number `json:"remaining_amount"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, exchange.Errf(Name, "malformed open orders: %s", string(body))
	}
	orders := make([]exchange.Order, 0, len(raw))
	for _, o := range raw {
		if o.Symbol != sym {
			continue
		}
		price, errP := decimal.NewFromString(o.Price.String())
		amount, errA := decimal.NewFromString(o.RemainingAmount.String())
		if errP != nil || errA != nil {
			return nil, exchange.Errf(Name, "malformed open order entry: %s", string(body))
		}
		side := exchange.Bid
		if o.Side == "sell" {
			side = exchange.Ask
		}
		orders = append(orders, exchange.Order{
			Price:  money.FromDecimal(price, p.Quote),
			Amount: money.FromDecimal(amount, p.Base),
			Side:   side,
			Venue:  Name,
			ID:     o.ID.String(),
		})
	}
	return orders, nil
}

// CreateOrder 限价单（exchange limit）。下单开关关闭时返回哨兵值。
func (c *Client) CreateOrder(amount, price decimal.Decimal, side exchange.Side, p pair.Pair) (string, error) {
	op := "order_new"
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
	params := map[string]interface{}{
		"side":     otype,
		"symbol":   sym,
		"amount":   amount.StringFixed(orderScale),
		"price":    price.StringFixed(orderScale),
		"exchange": "all",
		"type":     "exchange limit",
	}
	body, err := c.private("/v1/order/new", params)
	metrics.Observe(Name, op, err)
	if err != nil {
		return "", err
	}
	var order struct {
		OrderID json.Number `json:"order_id"`
		IsLive  bool        `json:"is_live"`
	}
	if err := json.Unmarshal(body, &order); err != nil || !order.IsLive {
		return "", exchange.Errf(Name, "unable to create order, response was %s", string(body))
	}
	return order.OrderID.String(), nil
}

// CancelOrder 返回同一 id 即成功；“Order could not be cancelled.”
// 意味着订单已不在，同样视为成功。
func (c *Client) CancelOrder(id string, p pair.Pair) (bool, error) {
	op := "order_cancel"
	oid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return false, exchange.Errf(Name, "bad order id %q", id)
	}
	body, err := c.private("/v1/order/cancel", map[string]interface{}{"order_id": oid})
	metrics.Observe(Name, op, err)
	if err != nil {
		return false, err
	}
	if msg, ok := venueMessage(body); ok {
		if msg == "Order could not be cancelled." {
			return true, nil
		}
		return false, exchange.Errf(Name, "%s", msg)
	}
	var resp struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, exchange.Errf(Name, "malformed cancel response: %s", string(body))
	}
	return resp.ID.String() == id, nil
}

// CancelOrders 交易所原生的全撤接口。
func (c *Client) CancelOrders(p pair.Pair) (bool, error) {
	op := "order_cancel_all"
	body, err := c.private("/v1/order/cancel/all", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return false, err
	}
	return strings.Contains(string(body), "All orders cancelled"), nil
}

// DepositAddress 通过 /v1/deposit/new 申请交易所钱包的 BTC 地址。
func (c *Client) DepositAddress(cur money.Currency) (string, error) {
	op := "deposit_new"
	if cur != money.BTC {
		return "", exchange.Errf(Name, "no deposit address for %s", cur)
	}
	params := map[string]interface{}{"currency": "BTC", "method": "bitcoin", "wallet_name": "exchange"}
	body, err := c.private("/v1/deposit/new", params)
	metrics.Observe(Name, op, err)
	if err != nil {
		return "", err
	}
	var resp struct {
		Result  string `json:"result"`
		Address string `json:"address"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Result != "success" || resp.Address == "" {
		return "", exchange.Errf(Name, "unable to get deposit address, response was %s", string(body))
	}
	return resp.Address, nil
}

// TradeHistory 自己的成交记录。
func (c *Client) TradeHistory(p pair.Pair, limit int) ([]exchange.Trade, error) {
	op := "mytrades"
	sym, err := native(p)
	if err != nil {
		return nil, err
	}
	params := map[string]interface{}{"symbol": strings.ToUpper(sym)}
	if limit > 0 {
		params["limit_trades"] = limit
	}
	body, err := c.private("/v1/mytrades", params)
	metrics.Observe(Name, op, err)
	if err != nil {
		return nil, err
	}
	if msg, ok := venueMessage(body); ok {
		return nil, exchange.Errf(Name, "%s", msg)
	}
	var raw []struct {
		TID       json.Number `json:"tid"`
		Price     json.Number `json:"price"`
		Amount    json.Number `json:"amount"`
		Type      string      `json:"type"`
		Timestamp json.Number `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, exchange.Errf(Name, "malformed trades: %s", string(body))
	}
	trades := make([]exchange.Trade, 0, len(raw))
	for _, t := range raw {
		price, errP := decimal.NewFromString(t.Price.String())
		amount, errA := decimal.NewFromString(t.Amount.String())
		if errP != nil || errA != nil {
			continue
		}
		side := exchange.Bid
		if strings.EqualFold(t.Type, "Sell") {
			side = exchange.Ask
		}
		var ts time.Time
		if f, err := strconv.ParseFloat(t.Timestamp.String(), 64); err == nil {
			ts = time.Unix(int64(f), 0)
		}
		trades = append(trades, exchange.Trade{
			ID:        t.TID.String(),
			Price:     money.FromDecimal(price, p.Quote),
			Amount:    money.FromDecimal(amount, p.Base),
			Side:      side,
			Timestamp: ts,
		})
	}
	return trades, nil
}

// OrderStatus 查询单个订单。保留为本交易所特有接口。
func (c *Client) OrderStatus(id string) (exchange.Order, bool, error) {
	oid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return exchange.Order{}, false, exchange.Errf(Name, "bad order id %q", id)
	}
	body, err := c.private("/v1/order/status", map[string]interface{}{"order_id": oid})
	if err != nil {
		return exchange.Order{}, false, err
	}
	if msg, ok := venueMessage(body); ok {
		return exchange.Order{}, false, exchange.Errf(Name, "%s", msg)
	}
	var raw struct {
		ID              json.Number `json:"id"`
		Symbol          string      `json:"symbol"`
		Price           json.Number `json:"price"`
		Side            string      `json:"side"`
		RemainingAmount json.Number `json:"remaining_amount"`
		IsLive          bool        `json:"is_live"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.Order{}, false, exchange.Errf(Name, "malformed order status: %s", string(body))
	}
	cp, err := pair.LowerConcat.Canonical(raw.Symbol)
	if err != nil {
		return exchange.Order{}, false, exchange.Errf(Name, "unknown symbol %q", raw.Symbol)
	}
	price, errP := decimal.NewFromString(raw.Price.String())
	amount, errA := decimal.NewFromString(raw.RemainingAmount.String())
	if errP != nil || errA != nil {
		return exchange.Order{}, false, exchange.Errf(Name, "malformed order status: %s", string(body))
	}
	side := exchange.Bid
	if raw.Side == "sell" {
		side = exchange.Ask
	}
	return exchange.Order{
		Price:  money.FromDecimal(price, cp.Quote),
		Amount: money.FromDecimal(amount, cp.Base),
		Side:   side,
		Venue:  Name,
		ID:     raw.ID.String(),
	}, raw.IsLive, nil
}

// ActivePositions 保证金持仓原始数据。保留为本交易所特有接口。
func (c *Client) ActivePositions() (json.RawMessage, error) {
	body, err := c.private("/v1/positions", nil)
	if err != nil {
		return nil, err
	}
	if msg, ok := venueMessage(body); ok {
		return nil, exchange.Errf(Name, "%s", msg)
	}
	return json.RawMessage(body), nil
}
