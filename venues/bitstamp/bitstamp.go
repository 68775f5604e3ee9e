// Package bitstamp 实现 Bitstamp 的适配器。单交易对（BTC/USD），
// 私有接口用 nonce+clientID+key 的 HMAC-SHA256 大写十六进制签名。
package bitstamp

import (
	"encoding/json"
	"fmt"
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
const Name = "bitstamp"

const defaultBaseURL = "https://www.bitstamp.net/api"

// 限频 600 次/10 分钟。
const (
	requestRate  = 1
	requestBurst = 8
)

// 交易所规定价格与数量都只收两位小数。
const (
	priceScale  = 2
	amountScale = 2
)

// nonceNow 产生请求 nonce（百微秒时间戳）。测试可替换取得确定性。
var nonceNow = func() int64 { return time.Now().UnixNano() / 1e4 }

// Client Bitstamp 适配器。
type Client struct {
	key         string
	secret      string
	clientID    string
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
		clientID:    cfg.ClientID,
		blockOrders: blockOrders,
		rest:        &transport.Client{BaseURL: base, Limiter: transport.NewTokenBucket(requestRate, requestBurst), Logger: log},
		log:         log,
	}
}

func (c *Client) Name() string { return Name }

// Rest 暴露底层 REST 客户端，测试注入 httptest 用。
func (c *Client) Rest() *transport.Client { return c.rest }

func (c *Client) checkPair(p pair.Pair) error {
	if p.Base != money.BTC || p.Quote != money.USD {
		return exchange.Errf(Name, "unsupported pair %s", p)
	}
	return nil
}

// private 发送签名请求。“Invalid nonce” 换新 nonce 重发，有界。
func (c *Client) private(path string, form url.Values) ([]byte, error) {
	var body []byte
	err := transport.Retry(transport.MaxNonceRetries, 100*time.Millisecond, func(attempt int) (bool, error) {
		f := url.Values{}
		for k, vs := range form {
			f[k] = vs
		}
		n := fmt.Sprintf("%d", nonceNow())
		f.Set("key", c.key)
		f.Set("nonce", n)
		f.Set("signature", sign.HMACSHA256UpperHex([]byte(c.secret), []byte(n+c.clientID+c.key)))

		b, _, err := c.rest.PostForm("/"+path+"/", f, nil)
		if err != nil {
			return false, exchange.Errf(Name, "%v while sending to %s", err, path)
		}
		if strings.Contains(string(b), "Invalid nonce") {
			if attempt > 0 {
				metrics.NonceRetries.WithLabelValues(Name).Inc()
			}
			return true, exchange.Errf(Name, "%s", string(b))
		}
		body = b
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if strings.Contains(string(body), `"error"`) {
		return nil, exchange.Errf(Name, "%s", string(body))
	}
	return body, nil
}

func (c *Client) public(path string) ([]byte, error) {
	b, _, err := c.rest.Get("/"+path+"/", nil)
	if err != nil {
		return nil, exchange.Errf(Name, "%v while sending %s", err, path)
	}
	return b, nil
}

// Ticker 公共行情。
func (c *Client) Ticker(p pair.Pair) (exchange.Ticker, error) {
	op := "ticker"
	if err := c.checkPair(p); err != nil {
		return exchange.Ticker{}, err
	}
	body, err := c.public("ticker")
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.Ticker{}, err
	}
	var raw struct {
		Bid       json.Number `json:"bid"`
		Ask       json.Number `json:"ask"`
		High      json.Number `json:"high"`
		Low       json.Number `json:"low"`
		Last      json.Number `json:"last"`
		Volume    json.Number `json:"volume"`
		Timestamp json.Number `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.Ticker{}, exchange.Errf(Name, "malformed ticker: %s", string(body))
	}
	ts, _ := raw.Timestamp.Int64()
	t, err := buildTicker(raw.Bid, raw.Ask, raw.High, raw.Low, raw.Last, raw.Volume, time.Unix(ts, 0))
	if err != nil {
		return exchange.Ticker{}, exchange.Errf(Name, "malformed ticker: %v", err)
	}
	return t, nil
}

func buildTicker(bid, ask, high, low, last, volume json.Number, ts time.Time) (exchange.Ticker, error) {
	out := exchange.Ticker{Timestamp: ts}
	for _, f := range []struct {
		dst *money.Money
		src json.Number
		cur money.Currency
	}{
		{&out.Bid, bid, money.USD},
		{&out.Ask, ask, money.USD},
		{&out.High, high, money.USD},
		{&out.Low, low, money.USD},
		{&out.Last, last, money.USD},
		{&out.Volume, volume, money.BTC},
	} {
		d, err := decimal.NewFromString(f.src.String())
		if err != nil {
			return exchange.Ticker{}, err
		}
		*f.dst = money.FromDecimal(d, f.cur)
	}
	return out, nil
}

// OrderBook 原始订单簿，条目为 [price, size] 数组。
func (c *Client) OrderBook(p pair.Pair) (exchange.OrderBook, error) {
	op := "order_book"
	if err := c.checkPair(p); err != nil {
		return exchange.OrderBook{}, err
	}
	body, err := c.public("order_book")
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.OrderBook{}, err
	}
	var raw struct {
		Error string            `json:"error"`
		Bids  []json.RawMessage `json:"bids"`
		Asks  []json.RawMessage `json:"asks"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.OrderBook{}, exchange.Errf(Name, "malformed order book: %s", string(body))
	}
	if raw.Error != "" {
		return exchange.OrderBook{}, exchange.Errf(Name, "%s", raw.Error)
	}
	return exchange.OrderBook{RawAsks: raw.Asks, RawBids: raw.Bids}, nil
}

// Balance 余额。交易所只报告账面总额，可用余额按挂单占用推算：
// 买单占用 price×amount 的 USD，卖单占用 amount 的 BTC。
func (c *Client) Balance(kind exchange.BalanceKind) (exchange.Balances, error) {
	op := "balance"
	body, err := c.private("balance", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.Balances{}, err
	}
	var raw struct {
		BTCBalance json.Number `json:"btc_balance"`
		USDBalance json.Number `json:"usd_balance"`
	}
	if err := json.Unmarshal(body, &raw); err != nil || raw.BTCBalance == "" || raw.USDBalance == "" {
		return exchange.Balances{}, exchange.Errf(Name, "balance information unavailable: %s", string(body))
	}
	btc, errB := decimal.NewFromString(raw.BTCBalance.String())
	usd, errU := decimal.NewFromString(raw.USDBalance.String())
	if errB != nil || errU != nil {
		return exchange.Balances{}, exchange.Errf(Name, "malformed balance: %s", string(body))
	}
	total := money.NewMulti(money.FromDecimal(btc, money.BTC), money.FromDecimal(usd, money.USD))

	out := exchange.Balances{}
	if kind == exchange.Total || kind == exchange.Both {
		out.Total = total
	}
	if kind == exchange.Available || kind == exchange.Both {
		orders, err := c.OpenOrders(pair.Pair{Base: money.BTC, Quote: money.USD})
		if err != nil {
			return exchange.Balances{}, err
		}
		out.Available = total.SubMulti(tiedUp(orders))
	}
	return out, nil
}

// tiedUp 计算挂单占用的资金。
func tiedUp(orders []exchange.Order) money.Multi {
	tied := money.NewMulti()
	for _, o := range orders {
		if o.Side == exchange.Bid {
			tied = tied.Add(money.Notional(o.Price, o.Amount.Amount))
		} else {
			tied = tied.Add(o.Amount)
		}
	}
	return tied
}

// OpenOrders 未成交挂单，type 0 为 bid、1 为 ask。没有挂单返回空表。
func (c *Client) OpenOrders(p pair.Pair) ([]exchange.Order, error) {
	op := "open_orders"
	if err := c.checkPair(p); err != nil {
		return nil, err
	}
	body, err := c.private("open_orders", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID     json.Number `json:"id"`
		Type   json.Number `json:"type"`
		Price  json.Number `json:"price"`
		Amount json.Number `json:"amount"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, exchange.Errf(Name, "malformed open orders: %s", string(body))
	}
	orders := make([]exchange.Order, 0, len(raw))
	for _, o := range raw {
		price, errP := decimal.NewFromString(o.Price.String())
		amount, errA := decimal.NewFromString(o.Amount.String())
		if errP != nil || errA != nil {
			return nil, exchange.Errf(Name, "malformed open order entry: %s", string(body))
		}
		side := exchange.Bid
		if o.Type.String() == "1" {
			side = exchange.Ask
		}
		orders = append(orders, exchange.Order{
			Price:  money.FromDecimal(price, money.USD),
			Amount: money.FromDecimal(amount, money.BTC),
			Side:   side,
			Venue:  Name,
			ID:     o.ID.String(),
		})
	}
	return orders, nil
}

// CreateOrder 限价单。下单开关关闭时返回哨兵值，不提交。
func (c *Client) CreateOrder(amount, price decimal.Decimal, side exchange.Side, p pair.Pair) (string, error) {
	op := "create_order"
	if c.blockOrders {
		return exchange.BlockedOrderID, nil
	}
	if err := c.checkPair(p); err != nil {
		return "", err
	}
	if !side.Valid() {
		return "", exchange.Errf(Name, "unknown side %q", side)
	}
	path := "buy"
	if side == exchange.Ask {
		path = "sell"
	}
	form := url.Values{}
	form.Set("amount", amount.Round(amountScale).String())
	form.Set("price", price.Round(priceScale).String())
	body, err := c.private(path, form)
	metrics.Observe(Name, op, err)
	if err != nil {
		return "", err
	}
	var raw struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(body, &raw); err != nil || raw.ID.String() == "" {
		return "", exchange.Errf(Name, "unable to create order, response was %s", string(body))
	}
	return raw.ID.String(), nil
}

// CancelOrder 交易所确认或订单已消失都算成功。
func (c *Client) CancelOrder(id string, p pair.Pair) (bool, error) {
	op := "cancel_order"
	form := url.Values{}
	form.Set("id", id)
	body, err := c.private("cancel_order", form)
	metrics.Observe(Name, op, err)
	if err != nil {
		var ve *exchange.VenueError
		if ok := asVenueError(err, &ve); ok && ve.Kind() == exchange.KindNotFound {
			return true, nil
		}
		return false, err
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "false" {
		return false, nil
	}
	return true, nil
}

func asVenueError(err error, target **exchange.VenueError) bool {
	ve, ok := err.(*exchange.VenueError)
	if ok {
		*target = ve
	}
	return ok
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

// DepositAddress BTC 充值地址。
func (c *Client) DepositAddress(cur money.Currency) (string, error) {
	op := "deposit_address"
	if cur != money.BTC {
		return "", exchange.Errf(Name, "no deposit address for %s", cur)
	}
	body, err := c.private("bitcoin_deposit_address", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return "", err
	}
	addr := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if addr == "" {
		return "", exchange.Errf(Name, "empty deposit address response")
	}
	return addr, nil
}

// TradeHistory 市场成交记录（type 2），买卖方向按 BTC 流向判断。
func (c *Client) TradeHistory(p pair.Pair, limit int) ([]exchange.Trade, error) {
	op := "user_transactions"
	if err := c.checkPair(p); err != nil {
		return nil, err
	}
	body, err := c.private("user_transactions", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID       json.Number `json:"id"`
		Type     json.Number `json:"type"`
		USD      json.Number `json:"usd"`
		BTC      json.Number `json:"btc"`
		Datetime string      `json:"datetime"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, exchange.Errf(Name, "malformed transactions: %s", string(body))
	}
	trades := make([]exchange.Trade, 0, len(raw))
	for _, t := range raw {
		if t.Type.String() != "2" {
			continue // 0 充值 1 提现
		}
		usd, errU := decimal.NewFromString(t.USD.String())
		btc, errB := decimal.NewFromString(t.BTC.String())
		if errU != nil || errB != nil || btc.IsZero() {
			continue
		}
		side := exchange.Bid
		if btc.IsNegative() {
			side = exchange.Ask
		}
		ts, _ := time.Parse("2006-01-02 15:04:05", t.Datetime)
		trades = append(trades, exchange.Trade{
			ID:        t.ID.String(),
			Price:     money.FromDecimal(usd.Div(btc).Abs(), money.USD),
			Amount:    money.FromDecimal(btc.Abs(), money.BTC),
			Side:      side,
			Timestamp: ts,
		})
		if limit > 0 && len(trades) >= limit {
			break
		}
	}
	return trades, nil
}
