// Package poloniex 实现 Poloniex 的适配器。报价货币是 USDT，对外统一
// 折算成 USD；交易接口用 command 参数区分操作，HMAC-SHA512 十六进制签名。
package poloniex

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
const Name = "poloniex"

const (
	defaultBaseURL = "https://poloniex.com"
	publicPath     = "/public"
	tradingPath    = "/tradingApi"
)

// 限频 6 次/秒。
const (
	requestRate  = 6
	requestBurst = 12
)

// scheme USDT 在站内是独立资产，对外与 USD 同义。
var scheme = pair.Format{Delim: "_", Upper: true, QuoteFirst: true,
	Aliases: map[money.Currency]string{money.USD: "USDT"}}

// nonceNow 毫秒 nonce。测试可替换。
var nonceNow = func() int64 { return time.Now().UnixNano() / 1e6 }

// Client Poloniex 适配器。
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

func venueError(body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return exchange.Errf(Name, "%s", e.Error)
	}
	return nil
}

func (c *Client) public(command string, params url.Values) ([]byte, error) {
	q := url.Values{}
	for k, vs := range params {
		q[k] = vs
	}
	q.Set("command", command)
	body, _, err := c.rest.Get(publicPath, q)
	if err != nil {
		return nil, exchange.Errf(Name, "%v while sending %s", err, command)
	}
	if verr := venueError(body); verr != nil {
		return nil, verr
	}
	return body, nil
}

// private 交易接口：form 带 command 与毫秒 nonce，Sign 报头是
// 表单串的 HMAC-SHA512 十六进制。
func (c *Client) private(command string, params url.Values) ([]byte, error) {
	f := url.Values{}
	for k, vs := range params {
		f[k] = vs
	}
	f.Set("command", command)
	f.Set("nonce", fmt.Sprintf("%d", nonceNow()))

	headers := http.Header{}
	headers.Set("Key", c.key)
	headers.Set("Sign", sign.HMACSHA512Hex([]byte(c.secret), []byte(f.Encode())))

	body, _, err := c.rest.PostForm(tradingPath, f, headers)
	if err != nil {
		return nil, exchange.Errf(Name, "%v while sending %s", err, command)
	}
	return body, nil
}

// Ticker 全市场行情里取本交易对的档。
func (c *Client) Ticker(p pair.Pair) (exchange.Ticker, error) {
	op := "return_ticker"
	sym, err := native(p)
	if err != nil {
		return exchange.Ticker{}, err
	}
	body, err := c.public("returnTicker", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.Ticker{}, err
	}
	var raw map[string]struct {
		Last       json.Number `json:"last"`
		LowestAsk  json.Number `json:"lowestAsk"`
		HighestBid json.Number `json:"highestBid"`
		BaseVolume json.Number `json:"baseVolume"`
		High24hr   json.Number `json:"high24hr"`
		Low24hr    json.Number `json:"low24hr"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.Ticker{}, exchange.Errf(Name, "malformed ticker: %s", string(body))
	}
	t, ok := raw[sym]
	if !ok {
		return exchange.Ticker{}, exchange.Errf(Name, "ticker missing pair %s", sym)
	}
	out := exchange.Ticker{Timestamp: time.Now()}
	for _, f := range []struct {
		dst *money.Money
		src json.Number
		cur money.Currency
	}{
		{&out.Bid, t.HighestBid, p.Quote},
		{&out.Ask, t.LowestAsk, p.Quote},
		{&out.High, t.High24hr, p.Quote},
		{&out.Low, t.Low24hr, p.Quote},
		{&out.Last, t.Last, p.Quote},
		{&out.Volume, t.BaseVolume, p.Base},
	} {
		d, err := decimal.NewFromString(f.src.String())
		if err != nil {
			return exchange.Ticker{}, exchange.Errf(Name, "malformed ticker number %q", f.src)
		}
		*f.dst = money.FromDecimal(d, f.cur)
	}
	return out, nil
}

// OrderBook 订单簿，条目为 [price, size] 数组（价格是字符串，数量是数字）。
func (c *Client) OrderBook(p pair.Pair) (exchange.OrderBook, error) {
	op := "return_order_book"
	sym, err := native(p)
	if err != nil {
		return exchange.OrderBook{}, err
	}
	body, err := c.public("returnOrderBook", url.Values{"currencyPair": {sym}, "depth": {"50"}})
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.OrderBook{}, err
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

// Balance 余额。BTC 与 USDT 两个资产的 available/onOrders。
func (c *Client) Balance(kind exchange.BalanceKind) (exchange.Balances, error) {
	op := "return_complete_balances"
	body, err := c.private("returnCompleteBalances", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.Balances{}, err
	}
	if verr := venueError(body); verr != nil {
		return exchange.Balances{}, verr
	}
	var raw map[string]struct {
		Available json.Number `json:"available"`
		OnOrders  json.Number `json:"onOrders"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.Balances{}, exchange.Errf(Name, "malformed balances: %s", string(body))
	}
	available := money.NewMulti()
	onOrders := money.NewMulti()
	for asset, cur := range map[string]money.Currency{"BTC": money.BTC, "USDT": money.USD} {
		e, ok := raw[asset]
		if !ok {
			continue
		}
		avail, errA := decimal.NewFromString(e.Available.String())
		held, errH := decimal.NewFromString(e.OnOrders.String())
		if errA != nil || errH != nil {
			return exchange.Balances{}, exchange.Errf(Name, "malformed balance entry for %s", asset)
		}
		available = available.Add(money.FromDecimal(avail, cur))
		onOrders = onOrders.Add(money.FromDecimal(held, cur))
	}
	out := exchange.Balances{}
	if kind == exchange.Total || kind == exchange.Both {
		out.Total = available.AddMulti(onOrders)
	}
	if kind == exchange.Available || kind == exchange.Both {
		out.Available = available
	}
	return out, nil
}

// OpenOrders 未成交挂单。
func (c *Client) OpenOrders(p pair.Pair) ([]exchange.Order, error) {
	op := "return_open_orders"
	sym, err := native(p)
	if err != nil {
		return nil, err
	}
	body, err := c.private("returnOpenOrders", url.Values{"currencyPair": {sym}})
	metrics.Observe(Name, op, err)
	if err != nil {
		return nil, err
	}
	if verr := venueError(body); verr != nil {
		return nil, verr
	}
	var raw []struct {
		OrderNumber json.Number `json:"orderNumber"`
		Type        string      `json:"type"`
		Rate        json.Number `json:"rate"`
		Amount      json.Number `json:"amount"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, exchange.Errf(Name, "malformed open orders: %s", string(body))
	}
	orders := make([]exchange.Order, 0, len(raw))
	for _, o := range raw {
		rate, errR := decimal.NewFromString(o.Rate.String())
		amount, errA := decimal.NewFromString(o.Amount.String())
		if errR != nil || errA != nil {
			return nil, exchange.Errf(Name, "malformed order entry: %s", string(body))
		}
		side := exchange.Bid
		if o.Type == "sell" {
			side = exchange.Ask
		}
		orders = append(orders, exchange.Order{
			Price:  money.FromDecimal(rate, p.Quote),
			Amount: money.FromDecimal(amount, p.Base),
			Side:   side,
			Venue:  Name,
			ID:     o.OrderNumber.String(),
		})
	}
	return orders, nil
}

// CreateOrder 限价单，command 即方向。下单开关关闭时返回哨兵值。
func (c *Client) CreateOrder(amount, price decimal.Decimal, side exchange.Side, p pair.Pair) (string, error) {
	op := "trade"
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
	command := "buy"
	if side == exchange.Ask {
		command = "sell"
	}
	f := url.Values{}
	f.Set("currencyPair", sym)
	f.Set("rate", price.String())
	f.Set("amount", amount.String())
	body, err := c.private(command, f)
	metrics.Observe(Name, op, err)
	if err != nil {
		return "", err
	}
	if verr := venueError(body); verr != nil {
		return "", verr
	}
	var resp struct {
		OrderNumber json.Number `json:"orderNumber"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.OrderNumber.String() == "" {
		return "", exchange.Errf(Name, "unable to create order, response was %s", string(body))
	}
	return resp.OrderNumber.String(), nil
}

// CancelOrder success==1 即成功；订单已不在也算成功。
func (c *Client) CancelOrder(id string, p pair.Pair) (bool, error) {
	op := "cancel_order"
	sym, err := native(p)
	if err != nil {
		return false, err
	}
	body, err := c.private("cancelOrder", url.Values{"currencyPair": {sym}, "orderNumber": {id}})
	metrics.Observe(Name, op, err)
	if err != nil {
		return false, err
	}
	var resp struct {
		Success int    `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, exchange.Errf(Name, "malformed cancel response: %s", string(body))
	}
	if resp.Success == 1 {
		return true, nil
	}
	if resp.Error == "Order could not be cancelled." {
		return true, nil
	}
	if resp.Error != "" {
		return false, exchange.Errf(Name, "%s", resp.Error)
	}
	return false, nil
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

// DepositAddress 按资产列出的充值地址表。
func (c *Client) DepositAddress(cur money.Currency) (string, error) {
	op := "return_deposit_addresses"
	if cur != money.BTC {
		return "", exchange.Errf(Name, "no deposit address for %s", cur)
	}
	body, err := c.private("returnDepositAddresses", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return "", err
	}
	if verr := venueError(body); verr != nil {
		return "", verr
	}
	var addrs map[string]string
	if err := json.Unmarshal(body, &addrs); err != nil || addrs["BTC"] == "" {
		return "", exchange.Errf(Name, "deposit address unavailable: %s", string(body))
	}
	return addrs["BTC"], nil
}

// TradeHistory 自己的成交记录。
func (c *Client) TradeHistory(p pair.Pair, limit int) ([]exchange.Trade, error) {
	op := "return_trade_history"
	sym, err := native(p)
	if err != nil {
		return nil, err
	}
	f := url.Values{"currencyPair": {sym}}
	if limit > 0 {
		f.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.private("returnTradeHistory", f)
	metrics.Observe(Name, op, err)
	if err != nil {
		return nil, err
	}
	if verr := venueError(body); verr != nil {
		return nil, verr
	}
	var raw []struct {
		TradeID json.Number `json:"tradeID"`
		Date    string      `json:"date"`
		Rate    json.Number `json:"rate"`
		Amount  json.Number `json:"amount"`
		Type    string      `json:"type"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, exchange.Errf(Name, "malformed trade history: %s", string(body))
	}
	trades := make([]exchange.Trade, 0, len(raw))
	for _, t := range raw {
		rate, errR := decimal.NewFromString(t.Rate.String())
		amount, errA := decimal.NewFromString(t.Amount.String())
		if errR != nil || errA != nil {
			continue
		}
		side := exchange.Bid
		if t.Type == "sell" {
			side = exchange.Ask
		}
		ts, _ := time.Parse("2006-01-02 15:04:05", t.Date)
		trades = append(trades, exchange.Trade{
			ID:        t.TradeID.String(),
			Price:     money.FromDecimal(rate, p.Quote),
			Amount:    money.FromDecimal(amount, p.Base),
			Side:      side,
			Timestamp: ts,
		})
	}
	return trades, nil
}
