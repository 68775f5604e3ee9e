// Package kraken 实现 Kraken 的适配器。私有接口签名为
// HMAC-SHA512(base64 解码的 secret, path + SHA256(nonce+报文))，base64 输出。
package kraken

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
	"bitcoin-exchanges-go/pair"
	"bitcoin-exchanges-go/sign"
	"bitcoin-exchanges-go/transport"
)

// Name 交易所标识。
const Name = "kraken"

const defaultBaseURL = "https://api.kraken.com"

// 限频按计数器扣减，持续速率约每两秒一次。
const (
	requestRate  = 0.5
	requestBurst = 6
)

// nonceNow 私有请求的毫秒 nonce。测试可替换。
var nonceNow = func() int64 { return time.Now().UnixNano() / 1e6 }

var scheme = pair.KrakenScheme{}

// Client Kraken 适配器。
type Client struct {
	key            string
	secret         string
	depositAddress string
	blockOrders    bool
	rest           *transport.Client
	log            *zap.Logger
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
		key:            cfg.Key,
		secret:         cfg.Secret,
		depositAddress: cfg.DepositAddress,
		blockOrders:    blockOrders,
		rest:           &transport.Client{BaseURL: base, Limiter: transport.NewTokenBucket(requestRate, requestBurst), Logger: log},
		log:            log,
	}
}

func (c *Client) Name() string { return Name }

// Rest 暴露底层 REST 客户端，测试注入用。
func (c *Client) Rest() *transport.Client { return c.rest }

// response 统一的信封：error 非空即失败，result 留给调用方解。
type response struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

func (c *Client) public(method string, params url.Values) (json.RawMessage, error) {
	body, _, err := c.rest.Get("/0/public/"+method, params)
	if err != nil {
		return nil, exchange.Errf(Name, "%v while sending to %s", err, method)
	}
	return unwrap(body)
}

func unwrap(body []byte) (json.RawMessage, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, exchange.Errf(Name, "malformed response: %s", string(body))
	}
	if len(resp.Error) > 0 {
		return nil, exchange.Errf(Name, "%s", strings.Join(resp.Error, "; "))
	}
	return resp.Result, nil
}

// private 发送签名请求。“Invalid nonce” 拿新 nonce 重发，上限三次。
func (c *Client) private(method string, params url.Values) (json.RawMessage, error) {
	secret, err := sign.Base64Decode(c.secret)
	if err != nil {
		return nil, exchange.Errf(Name, "secret is not valid base64")
	}
	path := "/0/private/" + method
	var result json.RawMessage
	err = transport.Retry(transport.MaxNonceRetries, 100*time.Millisecond, func(attempt int) (bool, error) {
		f := url.Values{}
		for k, vs := range params {
			f[k] = vs
		}
		n := fmt.Sprintf("%d", nonceNow())
		f.Set("nonce", n)
		data := f.Encode()

		msg := append([]byte(path), sign.SHA256Digest([]byte(n+data))...)
		headers := http.Header{}
		headers.Set("API-Key", c.key)
		headers.Set("API-Sign", sign.HMACSHA512Base64(secret, msg))

		body, _, err := c.rest.PostForm(path, f, headers)
		if err != nil {
			return false, exchange.Errf(Name, "%v while sending to %s", err, method)
		}
		r, err := unwrap(body)
		if err != nil {
			if strings.Contains(err.Error(), "Invalid nonce") {
				if attempt > 0 {
					metrics.NonceRetries.WithLabelValues(Name).Inc()
				}
				return true, err
			}
			return false, err
		}
		result = r
		return false, nil
	})
	return result, err
}

// Time 服务器时间，公共辅助接口。
func (c *Client) Time() (time.Time, error) {
	raw, err := c.public("Time", nil)
	if err != nil {
		return time.Time{}, err
	}
	var r struct {
		Unixtime int64 `json:"unixtime"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return time.Time{}, exchange.Errf(Name, "malformed time: %s", string(raw))
	}
	return time.Unix(r.Unixtime, 0), nil
}

// Ticker 行情。a/b/c 为卖一/买一/最近成交，h/l/v 取 24 小时口径。
func (c *Client) Ticker(p pair.Pair) (exchange.Ticker, error) {
	op := "ticker"
	native, err := scheme.Native(p)
	if err != nil {
		return exchange.Ticker{}, exchange.Errf(Name, "%v", err)
	}
	raw, err := c.public("Ticker", url.Values{"pair": {native}})
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.Ticker{}, err
	}
	var result map[string]struct {
		A []json.Number `json:"a"`
		B []json.Number `json:"b"`
		C []json.Number `json:"c"`
		H []json.Number `json:"h"`
		L []json.Number `json:"l"`
		V []json.Number `json:"v"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return exchange.Ticker{}, exchange.Errf(Name, "malformed ticker: %s", string(raw))
	}
	tk, ok := result[native]
	if !ok {
		return exchange.Ticker{}, exchange.Errf(Name, "ticker missing pair %s", native)
	}
	if len(tk.A) < 1 || len(tk.B) < 1 || len(tk.C) < 1 || len(tk.H) < 2 || len(tk.L) < 2 || len(tk.V) < 2 {
		return exchange.Ticker{}, exchange.Errf(Name, "short ticker fields for %s", native)
	}
	out := exchange.Ticker{Timestamp: time.Now()}
	for _, f := range []struct {
		dst *money.Money
		src json.Number
		cur money.Currency
	}{
		{&out.Ask, tk.A[0], p.Quote},
		{&out.Bid, tk.B[0], p.Quote},
		{&out.Last, tk.C[0], p.Quote},
		{&out.High, tk.H[1], p.Quote},
		{&out.Low, tk.L[1], p.Quote},
		{&out.Volume, tk.V[1], p.Base},
	} {
		d, err := decimal.NewFromString(f.src.String())
		if err != nil {
			return exchange.Ticker{}, exchange.Errf(Name, "malformed ticker number %q", f.src)
		}
		*f.dst = money.FromDecimal(d, f.cur)
	}
	return out, nil
}

// OrderBook 订单簿。条目为 [price, volume, timestamp] 三元数组，
// 默认格式器只取前两个。
func (c *Client) OrderBook(p pair.Pair) (exchange.OrderBook, error) {
	op := "depth"
	native, err := scheme.Native(p)
	if err != nil {
		return exchange.OrderBook{}, exchange.Errf(Name, "%v", err)
	}
	raw, err := c.public("Depth", url.Values{"pair": {native}})
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.OrderBook{}, err
	}
	var result map[string]struct {
		Asks []json.RawMessage `json:"asks"`
		Bids []json.RawMessage `json:"bids"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return exchange.OrderBook{}, exchange.Errf(Name, "malformed depth: %s", string(raw))
	}
	book, ok := result[native]
	if !ok {
		return exchange.OrderBook{}, exchange.Errf(Name, "depth missing pair %s", native)
	}
	return exchange.OrderBook{RawAsks: book.Asks, RawBids: book.Bids}, nil
}

// Balance 余额。资产代码 XXBT/ZUSD/ZEUR 翻译回通用货币；
// 可用余额按挂单未成交部分扣减（买单扣报价币名义额，卖单扣基础币数量）。
func (c *Client) Balance(kind exchange.BalanceKind) (exchange.Balances, error) {
	op := "balance"
	raw, err := c.private("Balance", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.Balances{}, err
	}
	var assets map[string]json.Number
	if err := json.Unmarshal(raw, &assets); err != nil {
		return exchange.Balances{}, exchange.Errf(Name, "malformed balance: %s", string(raw))
	}
	total := money.NewMulti()
	for asset, amount := range assets {
		cur, ok := pair.AssetCurrency(asset)
		if !ok {
			continue // 未知资产不参与
		}
		d, err := decimal.NewFromString(amount.String())
		if err != nil {
			return exchange.Balances{}, exchange.Errf(Name, "malformed balance amount %q", amount)
		}
		total = total.Add(money.FromDecimal(d, cur))
	}

	out := exchange.Balances{}
	if kind == exchange.Total || kind == exchange.Both {
		out.Total = total
	}
	if kind == exchange.Available || kind == exchange.Both {
		orders, err := c.openOrders()
		if err != nil {
			return exchange.Balances{}, err
		}
		tied := money.NewMulti()
		for _, o := range orders {
			if o.Side == exchange.Bid {
				tied = tied.Add(money.Notional(o.Price, o.Amount.Amount))
			} else {
				tied = tied.Add(o.Amount)
			}
		}
		out.Available = total.SubMulti(tied)
	}
	return out, nil
}

type openOrder struct {
	Descr struct {
		Pair  string      `json:"pair"`
		Type  string      `json:"type"`
		Price json.Number `json:"price"`
	} `json:"descr"`
	Vol     json.Number `json:"vol"`
	VolExec json.Number `json:"vol_exec"`
}

func (c *Client) openOrders() ([]exchange.Order, error) {
	raw, err := c.private("OpenOrders", url.Values{"trades": {"true"}})
	if err != nil {
		return nil, err
	}
	var result struct {
		Open map[string]openOrder `json:"open"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, exchange.Errf(Name, "malformed open orders: %s", string(raw))
	}
	orders := make([]exchange.Order, 0, len(result.Open))
	for id, o := range result.Open {
		cp, err := scheme.Canonical(o.Descr.Pair)
		if err != nil {
			continue // 不支持的交易对不进结果
		}
		price, errP := decimal.NewFromString(o.Descr.Price.String())
		vol, errV := decimal.NewFromString(o.Vol.String())
		volExec, errE := decimal.NewFromString(o.VolExec.String())
		if errP != nil || errV != nil || errE != nil {
			return nil, exchange.Errf(Name, "malformed open order %s", id)
		}
		side := exchange.Bid
		if o.Descr.Type == "sell" {
			side = exchange.Ask
		}
		orders = append(orders, exchange.Order{
			Price:  money.FromDecimal(price, cp.Quote),
			Amount: money.FromDecimal(vol.Sub(volExec), cp.Base),
			Side:   side,
			Venue:  Name,
			ID:     id,
		})
	}
	return orders, nil
}

// OpenOrders 指定交易对的未成交挂单。没有挂单返回空表。
func (c *Client) OpenOrders(p pair.Pair) ([]exchange.Order, error) {
	op := "open_orders"
	all, err := c.openOrders()
	metrics.Observe(Name, op, err)
	if err != nil {
		return nil, err
	}
	orders := make([]exchange.Order, 0, len(all))
	for _, o := range all {
		if o.Price.Currency == p.Quote && o.Amount.Currency == p.Base {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

// CreateOrder 限价单。下单开关关闭时返回哨兵值，不提交。
func (c *Client) CreateOrder(amount, price decimal.Decimal, side exchange.Side, p pair.Pair) (string, error) {
	op := "create_order"
	if c.blockOrders {
		return exchange.BlockedOrderID, nil
	}
	if !side.Valid() {
		return "", exchange.Errf(Name, "unknown side %q", side)
	}
	native, err := scheme.Native(p)
	if err != nil {
		return "", exchange.Errf(Name, "%v", err)
	}
	otype := "buy"
	if side == exchange.Ask {
		otype = "sell"
	}
	f := url.Values{}
	f.Set("type", otype)
	f.Set("volume", amount.String())
	f.Set("price", price.String())
	f.Set("pair", native)
	f.Set("ordertype", "limit")
	raw, err := c.private("AddOrder", f)
	metrics.Observe(Name, op, err)
	if err != nil {
		return "", err
	}
	var result struct {
		Txid []string `json:"txid"`
	}
	if err := json.Unmarshal(raw, &result); err != nil || len(result.Txid) == 0 {
		return "", exchange.Errf(Name, "unable to create order, response was %s", string(raw))
	}
	return result.Txid[0], nil
}

// CancelOrder 以 result.count > 0 为成功。
func (c *Client) CancelOrder(id string, p pair.Pair) (bool, error) {
	op := "cancel_order"
	raw, err := c.private("CancelOrder", url.Values{"txid": {id}})
	metrics.Observe(Name, op, err)
	if err != nil {
		ve, ok := err.(*exchange.VenueError)
		if ok && ve.Kind() == exchange.KindNotFound {
			return true, nil
		}
		return false, err
	}
	var result struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return false, exchange.Errf(Name, "malformed cancel response: %s", string(raw))
	}
	return result.Count > 0, nil
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

// DepositAddress 静态地址来自配置。
func (c *Client) DepositAddress(cur money.Currency) (string, error) {
	if cur != money.BTC || c.depositAddress == "" {
		return "", exchange.Errf(Name, "no deposit address for %s", cur)
	}
	return c.depositAddress, nil
}

// TradeHistory 成交历史，按交易对过滤。
func (c *Client) TradeHistory(p pair.Pair, limit int) ([]exchange.Trade, error) {
	op := "trades_history"
	raw, err := c.private("TradesHistory", url.Values{"trades": {"true"}})
	metrics.Observe(Name, op, err)
	if err != nil {
		return nil, err
	}
	var result struct {
		Trades map[string]struct {
			Pair  string      `json:"pair"`
			Type  string      `json:"type"`
			Price json.Number `json:"price"`
			Vol   json.Number `json:"vol"`
			Time  float64     `json:"time"`
		} `json:"trades"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, exchange.Errf(Name, "malformed trades: %s", string(raw))
	}
	trades := make([]exchange.Trade, 0, len(result.Trades))
	for id, t := range result.Trades {
		cp, err := scheme.Canonical(t.Pair)
		if err != nil || cp != p {
			continue
		}
		price, errP := decimal.NewFromString(t.Price.String())
		vol, errV := decimal.NewFromString(t.Vol.String())
		if errP != nil || errV != nil {
			continue
		}
		side := exchange.Bid
		if t.Type == "sell" {
			side = exchange.Ask
		}
		trades = append(trades, exchange.Trade{
			ID:        id,
			Price:     money.FromDecimal(price, p.Quote),
			Amount:    money.FromDecimal(vol, p.Base),
			Side:      side,
			Timestamp: time.Unix(int64(t.Time), 0),
		})
		if limit > 0 && len(trades) >= limit {
			break
		}
	}
	return trades, nil
}
