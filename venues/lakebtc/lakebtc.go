// Package lakebtc 实现 LakeBTC 的适配器。私有接口是 JSON-RPC：
// tonce/accesskey/method/params 串做 HMAC-SHA1，以 basic auth 提交。
package lakebtc

import (
	"encoding/json"
	"fmt"
	"net/http"
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
const Name = "lakebtc"

const (
	defaultBaseURL = "https://www.lakebtc.com/api_v1"
	rpcPath        = "/"
)

// 下单格式：价格两位小数、数量三位小数。
const (
	priceScale  = 2
	amountScale = 3
)

// 限频约 1 次/秒。
const (
	requestRate  = 1
	requestBurst = 6
)

// tonceNow 微秒 tonce。测试可替换。
var tonceNow = func() int64 { return time.Now().UnixNano() / 1e3 }

// Client LakeBTC 适配器。CNY 计价。
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

func checkPair(p pair.Pair) error {
	if p.Base != money.BTC || p.Quote != money.CNY {
		return exchange.Errf(Name, "unsupported pair %s", p)
	}
	return nil
}

type rpcRequest struct {
	Method        string   `json:"method"`
	Params        []string `json:"params"`
	Tonce         int64    `json:"tonce"`
	RequestMethod string   `json:"requestmethod"`
	ID            int      `json:"id"`
}

// signature 对规范化的 tonce/accesskey 串做 HMAC-SHA1。
func (c *Client) signature(req rpcRequest) string {
	mess := fmt.Sprintf("tonce=%d&accesskey=%s&requestmethod=post&id=%d&method=%s&params=%s",
		req.Tonce, c.key, req.ID, req.Method, strings.Join(req.Params, ","))
	return sign.HMACSHA1Hex([]byte(c.secret), []byte(mess))
}

// private JSON-RPC 调用。
func (c *Client) private(method string, params []string) ([]byte, error) {
	if params == nil {
		params = []string{}
	}
	req := rpcRequest{
		Method:        method,
		Params:        params,
		Tonce:         tonceNow(),
		RequestMethod: "post",
		ID:            1,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, exchange.Errf(Name, "cannot encode request: %v", err)
	}
	headers := http.Header{}
	headers.Set("Authorization", "Basic "+sign.Base64Encode([]byte(c.key+":"+c.signature(req))))
	headers.Set("Json-Rpc-Tonce", fmt.Sprintf("%d", req.Tonce))

	body, status, err := c.rest.PostJSON(rpcPath, payload, headers)
	if err != nil {
		return nil, exchange.Errf(Name, "%v while sending %s", err, method)
	}
	if status != 200 {
		return nil, exchange.Errf(Name, "%d %s while sending %s", status, string(body), method)
	}
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return nil, exchange.Errf(Name, "%s", e.Error)
	}
	return body, nil
}

// Ticker 公共行情，按货币分组，取 CNY 档。
func (c *Client) Ticker(p pair.Pair) (exchange.Ticker, error) {
	op := "ticker"
	if err := checkPair(p); err != nil {
		return exchange.Ticker{}, err
	}
	body, _, err := c.rest.Get("/ticker", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.Ticker{}, exchange.Errf(Name, "%v while sending get_ticker", err)
	}
	var raw map[string]struct {
		Bid    json.Number `json:"bid"`
		Ask    json.Number `json:"ask"`
		High   json.Number `json:"high"`
		Low    json.Number `json:"low"`
		Last   json.Number `json:"last"`
		Volume json.Number `json:"volume"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.Ticker{}, exchange.Errf(Name, "malformed ticker: %s", string(body))
	}
	t, ok := raw["CNY"]
	if !ok {
		return exchange.Ticker{}, exchange.Errf(Name, "ticker missing CNY: %s", string(body))
	}
	out := exchange.Ticker{Timestamp: time.Now()}
	for _, f := range []struct {
		dst *money.Money
		src json.Number
		cur money.Currency
	}{
		{&out.Bid, t.Bid, money.CNY},
		{&out.Ask, t.Ask, money.CNY},
		{&out.High, t.High, money.CNY},
		{&out.Low, t.Low, money.CNY},
		{&out.Last, t.Last, money.CNY},
		{&out.Volume, t.Volume, money.BTC},
	} {
		d, err := decimal.NewFromString(f.src.String())
		if err != nil {
			return exchange.Ticker{}, exchange.Errf(Name, "malformed ticker number %q", f.src)
		}
		*f.dst = money.FromDecimal(d, f.cur)
	}
	return out, nil
}

// OrderBook CNY 订单簿，条目为 [price, size] 数组。
func (c *Client) OrderBook(p pair.Pair) (exchange.OrderBook, error) {
	op := "orderbook"
	if err := checkPair(p); err != nil {
		return exchange.OrderBook{}, err
	}
	body, _, err := c.rest.Get("/bcorderbook_cny", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.OrderBook{}, exchange.Errf(Name, "%v while sending get_order_book", err)
	}
	var raw struct {
		Asks []json.RawMessage `json:"asks"`
		Bids []json.RawMessage `json:"bids"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.OrderBook{}, exchange.Errf(Name, "malformed order book: %s", string(body))
	}
	return exchange.OrderBook{RawAsks: raw.Asks, RawBids: raw.Bids}, nil
}

// Balance 账户余额。可用余额 = 总额 − 挂单占用
// （卖单占基础币数量，买单占报价币名义额）。
func (c *Client) Balance(kind exchange.BalanceKind) (exchange.Balances, error) {
	op := "get_account_info"
	body, err := c.private("getAccountInfo", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.Balances{}, err
	}
	var raw struct {
		Balance map[string]json.Number `json:"balance"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.Balances{}, exchange.Errf(Name, "malformed account info: %s", string(body))
	}
	total := money.NewMulti()
	for cur, v := range raw.Balance {
		mc := money.Currency(strings.ToUpper(cur))
		if !money.Known(mc) {
			continue
		}
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return exchange.Balances{}, exchange.Errf(Name, "malformed balance amount %q", v)
		}
		total = total.Add(money.FromDecimal(d, mc))
	}
	out := exchange.Balances{}
	if kind == exchange.Total || kind == exchange.Both {
		out.Total = total
	}
	if kind == exchange.Available || kind == exchange.Both {
		orders, err := c.OpenOrders(pair.Pair{Base: money.BTC, Quote: money.CNY})
		if err != nil {
			return exchange.Balances{}, err
		}
		unavailable := money.NewMulti()
		for _, o := range orders {
			if o.Side == exchange.Ask {
				unavailable = unavailable.Add(o.Amount)
			} else {
				unavailable = unavailable.Add(money.Notional(o.Price, o.Amount.Amount))
			}
		}
		out.Available = total.SubMulti(unavailable)
	}
	return out, nil
}

// OpenOrders 未成交挂单。ppc 是单价，category 区分方向。
func (c *Client) OpenOrders(p pair.Pair) ([]exchange.Order, error) {
	op := "get_orders"
	if err := checkPair(p); err != nil {
		return nil, err
	}
	body, err := c.private("getOrders", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID       json.Number `json:"id"`
		PPC      json.Number `json:"ppc"`
		Amount   json.Number `json:"amount"`
		Category string      `json:"category"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, exchange.Errf(Name, "malformed open orders: %s", string(body))
	}
	orders := make([]exchange.Order, 0, len(raw))
	for _, o := range raw {
		price, errP := decimal.NewFromString(o.PPC.String())
		amount, errA := decimal.NewFromString(o.Amount.String())
		if errP != nil || errA != nil {
			return nil, exchange.Errf(Name, "malformed order entry: %s", string(body))
		}
		side := exchange.Bid
		if o.Category == "sell" {
			side = exchange.Ask
		}
		orders = append(orders, exchange.Order{
			Price:  money.FromDecimal(price, money.CNY),
			Amount: money.FromDecimal(amount, money.BTC),
			Side:   side,
			Venue:  Name,
			ID:     o.ID.String(),
		})
	}
	return orders, nil
}

// CreateOrder 限价单，方向编码在 RPC 方法名里。下单开关关闭时返回哨兵值。
func (c *Client) CreateOrder(amount, price decimal.Decimal, side exchange.Side, p pair.Pair) (string, error) {
	op := "create_order"
	if c.blockOrders {
		return exchange.BlockedOrderID, nil
	}
	if err := checkPair(p); err != nil {
		return "", err
	}
	if !side.Valid() {
		return "", exchange.Errf(Name, "unknown side %q", side)
	}
	method := "buyOrder"
	if side == exchange.Ask {
		method = "sellOrder"
	}
	params := []string{price.StringFixed(priceScale), amount.StringFixed(amountScale), "CNY"}
	body, err := c.private(method, params)
	metrics.Observe(Name, op, err)
	if err != nil {
		return "", err
	}
	var resp struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.ID.String() == "" {
		return "", exchange.Errf(Name, "unable to create order, response was %s", string(body))
	}
	return resp.ID.String(), nil
}

// CancelOrder result 为真即成功。
func (c *Client) CancelOrder(id string, p pair.Pair) (bool, error) {
	op := "cancel_order"
	body, err := c.private("cancelOrder", []string{id})
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

// CancelOrders 逐一撤销全部挂单。
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

// DepositAddress 地址在账户信息的 profile 里。
func (c *Client) DepositAddress(cur money.Currency) (string, error) {
	op := "deposit_address"
	if cur != money.BTC {
		return "", exchange.Errf(Name, "no deposit address for %s", cur)
	}
	body, err := c.private("getAccountInfo", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return "", err
	}
	var raw struct {
		Profile struct {
			// 字段名的拼写错误来自交易所本身
			BTCDepositAddres string `json:"btc_deposit_addres"`
		} `json:"profile"`
	}
	if err := json.Unmarshal(body, &raw); err != nil || raw.Profile.BTCDepositAddres == "" {
		return "", exchange.Errf(Name, "deposit address unavailable: %s", string(body))
	}
	return raw.Profile.BTCDepositAddres, nil
}

// TradeHistory 默认取最近 24 小时的成交。
func (c *Client) TradeHistory(p pair.Pair, limit int) ([]exchange.Trade, error) {
	op := "get_trades"
	if err := checkPair(p); err != nil {
		return nil, err
	}
	since := time.Now().Add(-24 * time.Hour).Unix()
	body, err := c.private("getTrades", []string{fmt.Sprintf("%d", since)})
	metrics.Observe(Name, op, err)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID     json.Number `json:"id"`
		Type   string      `json:"type"`
		Price  json.Number `json:"price"`
		Amount json.Number `json:"amount"`
		Date   int64       `json:"date"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, exchange.Errf(Name, "unable to get transactions, response was %s", string(body))
	}
	trades := make([]exchange.Trade, 0, len(raw))
	for _, t := range raw {
		price, errP := decimal.NewFromString(t.Price.String())
		amount, errA := decimal.NewFromString(t.Amount.String())
		if errP != nil || errA != nil {
			continue
		}
		side := exchange.Bid
		if t.Type == "sell" {
			side = exchange.Ask
		}
		trades = append(trades, exchange.Trade{
			ID:        t.ID.String(),
			Price:     money.FromDecimal(price, money.CNY),
			Amount:    money.FromDecimal(amount, money.BTC),
			Side:      side,
			Timestamp: time.Unix(t.Date, 0),
		})
		if limit > 0 && len(trades) >= limit {
			break
		}
	}
	return trades, nil
}
