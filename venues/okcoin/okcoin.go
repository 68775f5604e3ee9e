// Package okcoin 实现 OKCoin 国际站（v1）的适配器。私有请求把排序后的
// 参数串拼上 secret_key 做 MD5，大写十六进制放在 sign 字段。
package okcoin

import (
	"encoding/json"
	"net/url"
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
const Name = "okcoin"

const defaultBaseURL = "https://www.okcoin.com/api/v1"

// 限频 20 次/2 秒。
const (
	requestRate  = 10
	requestBurst = 10
)

var scheme = pair.LowerUnderscore

// Client OKCoin 适配器。partner 即 API key。
type Client struct {
	partner        string
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
		partner:        cfg.Key,
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

// signature 排序 k=v& 串接 secret_key 后取 MD5 大写。
func (c *Client) signature(params map[string]string) string {
	withPartner := make(map[string]string, len(params)+1)
	for k, v := range params {
		withPartner[k] = v
	}
	withPartner["partner"] = c.partner
	return sign.MD5UpperHex([]byte(sign.SortedParams(withPartner) + "&secret_key=" + c.secret))
}

// private 签名请求。error_code 一律转成 VenueError。
func (c *Client) private(endpoint string, params map[string]string) ([]byte, error) {
	f := url.Values{}
	for k, v := range params {
		f.Set(k, v)
	}
	f.Set("partner", c.partner)
	f.Set("sign", c.signature(params))
	body, _, err := c.rest.PostForm("/"+endpoint, f, nil)
	if err != nil {
		return nil, exchange.Errf(Name, "%v while sending %s", err, endpoint)
	}
	var e struct {
		ErrorCode *int `json:"error_code"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.ErrorCode != nil {
		return nil, exchange.Errf(Name, "error_code %d while sending %s", *e.ErrorCode, endpoint)
	}
	return body, nil
}

func native(p pair.Pair) (string, error) {
	s, err := scheme.Native(p)
	if err != nil {
		return "", exchange.Errf(Name, "%v", err)
	}
	return s, nil
}

// Ticker 公共行情。date 在信封上，数字均为字符串。
func (c *Client) Ticker(p pair.Pair) (exchange.Ticker, error) {
	op := "ticker"
	sym, err := native(p)
	if err != nil {
		return exchange.Ticker{}, err
	}
	body, _, err := c.rest.Get("/ticker.do", url.Values{"symbol": {sym}})
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.Ticker{}, exchange.Errf(Name, "%v while sending get_ticker", err)
	}
	var raw struct {
		Date   json.Number `json:"date"`
		Ticker struct {
			Buy  json.Number `json:"buy"`
			Sell json.Number `json:"sell"`
			High json.Number `json:"high"`
			Low  json.Number `json:"low"`
			Last json.Number `json:"last"`
			Vol  json.Number `json:"vol"`
		} `json:"ticker"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.Ticker{}, exchange.Errf(Name, "malformed ticker: %s", string(body))
	}
	ts, _ := raw.Date.Int64()
	out := exchange.Ticker{Timestamp: time.Unix(ts, 0)}
	for _, f := range []struct {
		dst *money.Money
		src json.Number
		cur money.Currency
	}{
		{&out.Bid, raw.Ticker.Buy, p.Quote},
		{&out.Ask, raw.Ticker.Sell, p.Quote},
		{&out.High, raw.Ticker.High, p.Quote},
		{&out.Low, raw.Ticker.Low, p.Quote},
		{&out.Last, raw.Ticker.Last, p.Quote},
		{&out.Volume, raw.Ticker.Vol, p.Base},
	} {
		d, err := decimal.NewFromString(f.src.String())
		if err != nil {
			return exchange.Ticker{}, exchange.Errf(Name, "malformed ticker number %q", f.src)
		}
		*f.dst = money.FromDecimal(d, f.cur)
	}
	return out, nil
}

// OrderBook 订单簿。条目为 [price, size] 数组。
func (c *Client) OrderBook(p pair.Pair) (exchange.OrderBook, error) {
	op := "depth"
	sym, err := native(p)
	if err != nil {
		return exchange.OrderBook{}, err
	}
	body, _, err := c.rest.Get("/depth.do", url.Values{"symbol": {sym}})
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.OrderBook{}, exchange.Errf(Name, "%v while sending get_order_book", err)
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

// Balance 余额来自 userinfo 的 free/freezed 两张表。
func (c *Client) Balance(kind exchange.BalanceKind) (exchange.Balances, error) {
	op := "userinfo"
	body, err := c.private("userinfo.do", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.Balances{}, err
	}
	var raw struct {
		Info struct {
			Funds struct {
				Free    map[string]json.Number `json:"free"`
				Freezed map[string]json.Number `json:"freezed"`
			} `json:"funds"`
		} `json:"info"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.Balances{}, exchange.Errf(Name, "malformed userinfo: %s", string(body))
	}
	free := money.NewMulti()
	frozen := money.NewMulti()
	for asset, v := range raw.Info.Funds.Free {
		cur := money.Currency(strings.ToUpper(asset))
		if !money.Known(cur) {
			continue
		}
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return exchange.Balances{}, exchange.Errf(Name, "malformed funds amount %q", v)
		}
		free = free.Add(money.FromDecimal(d, cur))
		if fv, ok := raw.Info.Funds.Freezed[asset]; ok {
			fd, err := decimal.NewFromString(fv.String())
			if err != nil {
				return exchange.Balances{}, exchange.Errf(Name, "malformed funds amount %q", fv)
			}
			frozen = frozen.Add(money.FromDecimal(fd, cur))
		}
	}
	out := exchange.Balances{}
	if kind == exchange.Total || kind == exchange.Both {
		out.Total = free.AddMulti(frozen)
	}
	if kind == exchange.Available || kind == exchange.Both {
		out.Available = free
	}
	return out, nil
}

// OpenOrders order_id=-1 查询全部未成交挂单。
func (c *Client) OpenOrders(p pair.Pair) ([]exchange.Order, error) {
	op := "order_info"
	sym, err := native(p)
	if err != nil {
		return nil, err
	}
	body, err := c.private("order_info.do", map[string]string{"order_id": "-1", "symbol": sym})
	metrics.Observe(Name, op, err)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Result bool `json:"result"`
		Orders []struct {
			OrderID json.Number `json:"order_id"`
			Type    string      `json:"type"`
			Price   json.Number `json:"price"`
			Amount  json.Number `json:"amount"`
		} `json:"orders"`
	}
	if err := json.Unmarshal(body, &raw); err != nil || !raw.Result {
		return nil, exchange.Errf(Name, "unable to get open orders, response was %s", string(body))
	}
	orders := make([]exchange.Order, 0, len(raw.Orders))
	for _, o := range raw.Orders {
		price, errP := decimal.NewFromString(o.Price.String())
		amount, errA := decimal.NewFromString(o.Amount.String())
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
	otype := "buy"
	if side == exchange.Ask {
		otype = "sell"
	}
	body, err := c.private("trade.do", map[string]string{
		"symbol": sym,
		"type":   otype,
		"price":  price.String(),
		"amount": amount.String(),
	})
	metrics.Observe(Name, op, err)
	if err != nil {
		return "", err
	}
	var resp struct {
		Result  bool        `json:"result"`
		OrderID json.Number `json:"order_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || !resp.Result {
		return "", exchange.Errf(Name, "unable to create order, response was %s", string(body))
	}
	return resp.OrderID.String(), nil
}

// CancelOrder 回包回显同一 order_id 即成功。
func (c *Client) CancelOrder(id string, p pair.Pair) (bool, error) {
	op := "cancel_order"
	sym, err := native(p)
	if err != nil {
		return false, err
	}
	body, err := c.private("cancel_order.do", map[string]string{"order_id": id, "symbol": sym})
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
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, exchange.Errf(Name, "malformed cancel response: %s", string(body))
	}
	return resp.OrderID.String() == id, nil
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

// TradeHistory 已成交订单（status=1）分页查询。
func (c *Client) TradeHistory(p pair.Pair, limit int) ([]exchange.Trade, error) {
	op := "order_history"
	sym, err := native(p)
	if err != nil {
		return nil, err
	}
	pageLength := 200
	if limit > 0 && limit < pageLength {
		pageLength = limit
	}
	body, err := c.private("order_history.do", map[string]string{
		"status":       "1",
		"current_page": "1",
		"page_length":  strconv.Itoa(pageLength),
		"symbol":       sym,
	})
	metrics.Observe(Name, op, err)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Result bool `json:"result"`
		Orders []struct {
			OrderID    json.Number `json:"order_id"`
			Type       string      `json:"type"`
			AvgPrice   json.Number `json:"avg_price"`
			DealAmount json.Number `json:"deal_amount"`
			CreateDate int64       `json:"create_date"`
		} `json:"orders"`
	}
	if err := json.Unmarshal(body, &raw); err != nil || !raw.Result {
		return nil, exchange.Errf(Name, "unable to get transactions, response was %s", string(body))
	}
	trades := make([]exchange.Trade, 0, len(raw.Orders))
	for _, o := range raw.Orders {
		price, errP := decimal.NewFromString(o.AvgPrice.String())
		amount, errA := decimal.NewFromString(o.DealAmount.String())
		if errP != nil || errA != nil || amount.IsZero() {
			continue
		}
		side := exchange.Bid
		if o.Type == "sell" {
			side = exchange.Ask
		}
		trades = append(trades, exchange.Trade{
			ID:        o.OrderID.String(),
			Price:     money.FromDecimal(price, p.Quote),
			Amount:    money.FromDecimal(amount, p.Base),
			Side:      side,
			Timestamp: time.UnixMilli(o.CreateDate),
		})
	}
	return trades, nil
}
