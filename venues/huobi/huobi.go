// Package huobi 实现火币（apiv2）的适配器。私有请求把包含 secret_key
// 的排序参数串做 MD5 小写签名，secret 本身不随请求发送；失败以数字
// code 返回，对照表翻译成可读信息。
package huobi

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
const Name = "huobi"

const (
	defaultBaseURL   = "https://api.huobi.com"
	tradePath        = "/apiv2.php"
	defaultMarketURL = "https://market.huobi.com"
)

// 下单精度：价格两位、数量四位小数。
const (
	priceScale  = 2
	amountScale = 4
)

// 限频约 5 次/秒。
const (
	requestRate  = 5
	requestBurst = 10
)

// nowUnix created 字段的秒级时间戳。测试可替换。
var nowUnix = func() int64 { return time.Now().Unix() }

// errorCodes 交易接口的失败码对照表。
var errorCodes = map[int]string{
	1:   "Server Error",
	2:   "There is not enough yuan",
	3:   "Transaction has started, can not be started again",
	4:   "Transaction has ended",
	10:  "There is not enough bitcoins",
	11:  "Not enough LTC",
	18:  "Incorrect payment password",
	26:  "The order does not exist",
	41:  "The order has ended, can not be modified",
	42:  "The order has been canceled, can not be modified",
	44:  "Transaction price is too low",
	45:  "Transaction prices are too high",
	46:  "The minimum order size is 0.001",
	47:  "Too many requests",
	55:  "10% higher than market price is not allowed",
	56:  "10% lower than market price is not allowed",
	64:  "Invalid request",
	65:  "Invalid method",
	66:  "Access key validation fails",
	67:  "Private key authentication fails",
	68:  "Invalid price",
	69:  "Invalid amount",
	70:  "Invalid submission time",
	71:  "Request overflow",
	91:  "Invalid type",
	97:  "Please enter payment password.",
	107: "Order is exist.",
}

// Client 火币适配器。行情走 market 静态接口，交易走 apiv2。
type Client struct {
	key            string
	secret         string
	depositAddress string
	blockOrders    bool
	rest           *transport.Client
	market         *transport.Client
	log            *zap.Logger
}

// New 从配置构造客户端。BaseURL 同时覆盖交易与行情两个域名时用于测试。
func New(cfg config.VenueConfig, blockOrders bool, log *zap.Logger) *Client {
	base := cfg.BaseURL
	marketBase := defaultMarketURL
	if base == "" {
		base = defaultBaseURL
	} else {
		marketBase = base
	}
	if log == nil {
		log = zap.NewNop()
	}
	// 交易域与行情域共用一个限频额度
	bucket := transport.NewTokenBucket(requestRate, requestBurst)
	return &Client{
		key:            cfg.Key,
		secret:         cfg.Secret,
		depositAddress: cfg.DepositAddress,
		blockOrders:    blockOrders,
		rest:           &transport.Client{BaseURL: base, Limiter: bucket, Logger: log},
		market:         &transport.Client{BaseURL: marketBase, Limiter: bucket, Logger: log},
		log:            log,
	}
}

func (c *Client) Name() string { return Name }

// Rest 暴露底层 REST 客户端，测试注入用。
func (c *Client) Rest() *transport.Client { return c.rest }

// Market 暴露行情客户端，测试注入用。
func (c *Client) Market() *transport.Client { return c.market }

func checkPair(p pair.Pair) error {
	if p.Base != money.BTC || p.Quote != money.CNY {
		return exchange.Errf(Name, "unsupported pair %s", p)
	}
	return nil
}

// signature secret_key 参与排序串但不随请求发出。
func (c *Client) signature(params map[string]string) string {
	withSecret := make(map[string]string, len(params)+1)
	for k, v := range params {
		withSecret[k] = v
	}
	withSecret["secret_key"] = c.secret
	return sign.MD5Hex([]byte(sign.SortedParams(withSecret)))
}

// codeTooManyRequests 限频拒绝，短暂等待后重发，见对照表第 47 项。
const codeTooManyRequests = 47

// private 签名交易请求，result=fail 时查对照表。限频拒绝按固定间隔
// 有界重试，每次重试重新取 created 并重签。
func (c *Client) private(method string, params map[string]string) ([]byte, error) {
	var out []byte
	err := transport.Retry(transport.MaxLockRetries, transport.LockRetryDelay, func(attempt int) (bool, error) {
		all := map[string]string{
			"method":     method,
			"access_key": c.key,
			"created":    fmt.Sprintf("%d", nowUnix()),
		}
		for k, v := range params {
			all[k] = v
		}
		f := url.Values{}
		for k, v := range all {
			f.Set(k, v)
		}
		f.Set("sign", c.signature(all))

		body, status, err := c.rest.PostForm(tradePath, f, nil)
		if err != nil {
			return false, exchange.Errf(Name, "%v while sending %s", err, method)
		}
		if status != 200 {
			return false, exchange.Errf(Name, "status %d while sending %s", status, method)
		}
		var fail struct {
			Result string `json:"result"`
			Code   int    `json:"code"`
		}
		if err := json.Unmarshal(body, &fail); err == nil && fail.Result == "fail" {
			if fail.Code == codeTooManyRequests {
				return true, exchange.Errf(Name, "%s while sending %s", errorCodes[fail.Code], method)
			}
			if msg, ok := errorCodes[fail.Code]; ok {
				return false, exchange.Errf(Name, "%s while sending %s", msg, method)
			}
			return false, exchange.Errf(Name, "code %d while sending %s", fail.Code, method)
		}
		out = body
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Ticker 静态行情接口，CNY 计价。
func (c *Client) Ticker(p pair.Pair) (exchange.Ticker, error) {
	op := "ticker"
	if err := checkPair(p); err != nil {
		return exchange.Ticker{}, err
	}
	body, _, err := c.market.Get("/staticmarket/ticker_btc_json.js", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.Ticker{}, exchange.Errf(Name, "%v while sending get_ticker", err)
	}
	var raw struct {
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
	out := exchange.Ticker{Timestamp: time.Now()}
	for _, f := range []struct {
		dst *money.Money
		src json.Number
		cur money.Currency
	}{
		{&out.Bid, raw.Ticker.Buy, money.CNY},
		{&out.Ask, raw.Ticker.Sell, money.CNY},
		{&out.High, raw.Ticker.High, money.CNY},
		{&out.Low, raw.Ticker.Low, money.CNY},
		{&out.Last, raw.Ticker.Last, money.CNY},
		{&out.Volume, raw.Ticker.Vol, money.BTC},
	} {
		d, err := decimal.NewFromString(f.src.String())
		if err != nil {
			return exchange.Ticker{}, exchange.Errf(Name, "malformed ticker number %q", f.src)
		}
		*f.dst = money.FromDecimal(d, f.cur)
	}
	return out, nil
}

// OrderBook 静态订单簿，条目为 [price, size] 数组。
func (c *Client) OrderBook(p pair.Pair) (exchange.OrderBook, error) {
	op := "depth"
	if err := checkPair(p); err != nil {
		return exchange.OrderBook{}, err
	}
	body, _, err := c.market.Get("/staticmarket/depth_btc_json.js", nil)
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

// Balance 余额来自 get_account_info 的 display 字段。
func (c *Client) Balance(kind exchange.BalanceKind) (exchange.Balances, error) {
	op := "get_account_info"
	body, err := c.private("get_account_info", nil)
	metrics.Observe(Name, op, err)
	if err != nil {
		return exchange.Balances{}, err
	}
	var raw struct {
		AvailableBTC json.Number `json:"available_btc_display"`
		AvailableCNY json.Number `json:"available_cny_display"`
		FrozenBTC    json.Number `json:"frozen_btc_display"`
		FrozenCNY    json.Number `json:"frozen_cny_display"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.Balances{}, exchange.Errf(Name, "malformed account info: %s", string(body))
	}
	parse := func(n json.Number, cur money.Currency) (money.Money, error) {
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return money.Money{}, exchange.Errf(Name, "malformed balance amount %q", n)
		}
		return money.FromDecimal(d, cur), nil
	}
	availBTC, err := parse(raw.AvailableBTC, money.BTC)
	if err != nil {
		return exchange.Balances{}, err
	}
	availCNY, err := parse(raw.AvailableCNY, money.CNY)
	if err != nil {
		return exchange.Balances{}, err
	}
	frozenBTC, err := parse(raw.FrozenBTC, money.BTC)
	if err != nil {
		return exchange.Balances{}, err
	}
	frozenCNY, err := parse(raw.FrozenCNY, money.CNY)
	if err != nil {
		return exchange.Balances{}, err
	}
	available := money.NewMulti(availBTC, availCNY)
	out := exchange.Balances{}
	if kind == exchange.Total || kind == exchange.Both {
		out.Total = available.Add(frozenBTC).Add(frozenCNY)
	}
	if kind == exchange.Available || kind == exchange.Both {
		out.Available = available
	}
	return out, nil
}

// OpenOrders 未成交挂单。type 1 买 2 卖。
func (c *Client) OpenOrders(p pair.Pair) ([]exchange.Order, error) {
	op := "get_orders"
	if err := checkPair(p); err != nil {
		return nil, err
	}
	body, err := c.private("get_orders", map[string]string{"coin_type": "1"})
	metrics.Observe(Name, op, err)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID              json.Number `json:"id"`
		Type            json.Number `json:"type"`
		OrderPrice      json.Number `json:"order_price"`
		OrderAmount     json.Number `json:"order_amount"`
		ProcessedAmount json.Number `json:"processed_amount"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, exchange.Errf(Name, "malformed open orders: %s", string(body))
	}
	orders := make([]exchange.Order, 0, len(raw))
	for _, o := range raw {
		price, errP := decimal.NewFromString(o.OrderPrice.String())
		amount, errA := decimal.NewFromString(o.OrderAmount.String())
		if errP != nil || errA != nil {
			return nil, exchange.Errf(Name, "malformed order entry: %s", string(body))
		}
		if s := o.ProcessedAmount.String(); s != "" {
			if done, err := decimal.NewFromString(s); err == nil {
				amount = amount.Sub(done)
			}
		}
		side := exchange.Bid
		if o.Type.String() == "2" {
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

// nudge 整数价格数量会触发交易所侧的校验问题，轻微偏移避开。
func nudge(price, amount decimal.Decimal, side exchange.Side) (decimal.Decimal, decimal.Decimal) {
	if price.Equal(price.Round(0)) {
		cent := decimal.New(1, -2)
		if side == exchange.Bid {
			price = price.Sub(cent)
		} else {
			price = price.Add(cent)
		}
	}
	if amount.Equal(amount.Round(0)) {
		amount = amount.Add(decimal.New(1, -3))
	}
	return price, amount
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
		return "", exchange.Errf(Name, "unknown side %q", side)
	}
	method := "buy"
	if side == exchange.Ask {
		method = "sell"
	}
	price, amount = nudge(price, amount, side)
	body, err := c.private(method, map[string]string{
		"coin_type": "1",
		"price":     price.Round(priceScale).String(),
		"amount":    amount.Round(amountScale).String(),
	})
	metrics.Observe(Name, op, err)
	if err != nil {
		return "", err
	}
	var resp struct {
		Result string      `json:"result"`
		ID     json.Number `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || !strings.Contains(resp.Result, "uccess") {
		return "", exchange.Errf(Name, "unable to create order, response was %s", string(body))
	}
	return resp.ID.String(), nil
}

// CancelOrder result 含 success 即成功；订单已不存在也算成功。
func (c *Client) CancelOrder(id string, p pair.Pair) (bool, error) {
	op := "cancel_order"
	body, err := c.private("cancel_order", map[string]string{"coin_type": "1", "id": id})
	metrics.Observe(Name, op, err)
	if err != nil {
		ve, ok := err.(*exchange.VenueError)
		if ok && ve.Kind() == exchange.KindNotFound {
			return true, nil
		}
		return false, err
	}
	var resp struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, exchange.Errf(Name, "malformed cancel response: %s", string(body))
	}
	return strings.Contains(resp.Result, "uccess"), nil
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

// DepositAddress 静态地址来自配置。
func (c *Client) DepositAddress(cur money.Currency) (string, error) {
	if cur != money.BTC || c.depositAddress == "" {
		return "", exchange.Errf(Name, "no deposit address for %s", cur)
	}
	return c.depositAddress, nil
}

// TradeHistory 交易所不提供成交历史接口，返回空表。
func (c *Client) TradeHistory(p pair.Pair, limit int) ([]exchange.Trade, error) {
	return []exchange.Trade{}, nil
}
