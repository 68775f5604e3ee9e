// Package stream 提供 bitfinex 公开行情的 WebSocket 订阅，含自动重连。
// 只做行情观察，不属于交易所适配器契约。
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bitcoin-exchanges-go/exchange"
	"bitcoin-exchanges-go/money"
	"bitcoin-exchanges-go/pair"
)

const defaultWSURL = "wss://api.bitfinex.com/ws/2"

// v2 符号是 t 前缀加大写拼接，如 tBTCUSD。
var v2Scheme = pair.Format{Upper: true}

// TickerUpdate 一次行情推送。
type TickerUpdate struct {
	Pair   pair.Pair
	Ticker exchange.Ticker
}

// BitfinexFeed 订阅若干交易对的 ticker 频道。断线按退避重连，
// 重连后重新订阅全部频道。
type BitfinexFeed struct {
	URL   string
	pairs []pair.Pair
	log   *zap.Logger

	conn         *websocket.Conn
	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	maxRetries   int
	retryBackoff time.Duration

	// channels 按 bitfinex 分配的频道号索引订阅。每次连接重建。
	channels map[int64]pair.Pair
	updates  chan TickerUpdate
}

// NewBitfinexFeed 构造订阅。pairs 为空则没有可收的行情。
func NewBitfinexFeed(pairs []pair.Pair, log *zap.Logger) *BitfinexFeed {
	if log == nil {
		log = zap.NewNop()
	}
	return &BitfinexFeed{
		URL:          defaultWSURL,
		pairs:        pairs,
		log:          log,
		maxRetries:   5,
		retryBackoff: 3 * time.Second,
		updates:      make(chan TickerUpdate, 64),
	}
}

// Updates 行情推送通道。Stop 之后关闭。
func (f *BitfinexFeed) Updates() <-chan TickerUpdate { return f.updates }

// Start 后台启动连接循环。
func (f *BitfinexFeed) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	f.ctx = ctx
	f.cancel = cancel
	go f.run()
}

// Stop 断开连接并关闭推送通道。
func (f *BitfinexFeed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.Lock()
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
	f.mu.Unlock()
}

// run 连接循环，自动重连。
func (f *BitfinexFeed) run() {
	defer close(f.updates)
	retries := 0
	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}
		conn, _, err := websocket.DefaultDialer.Dial(f.URL, nil)
		if err != nil {
			if retries >= f.maxRetries {
				f.log.Error("ws dial failed, giving up",
					zap.Int("retries", retries), zap.Error(err))
				return
			}
			retries++
			backoff := time.Duration(retries) * f.retryBackoff
			f.log.Warn("ws dial failed, retrying",
				zap.Int("attempt", retries), zap.Duration("backoff", backoff), zap.Error(err))
			select {
			case <-f.ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		f.mu.Lock()
		f.conn = conn
		f.channels = make(map[int64]pair.Pair)
		f.mu.Unlock()

		if err := f.subscribe(conn); err != nil {
			f.log.Warn("ws subscribe failed", zap.Error(err))
			_ = conn.Close()
			continue
		}
		f.log.Info("ws connected", zap.String("url", f.URL))
		retries = 0

		f.readLoop(conn)

		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		select {
		case <-f.ctx.Done():
			return
		default:
		}
		f.log.Warn("ws disconnected, reconnecting")
		select {
		case <-f.ctx.Done():
			return
		case <-time.After(f.retryBackoff):
		}
	}
}

func (f *BitfinexFeed) subscribe(conn *websocket.Conn) error {
	for _, p := range f.pairs {
		sym, err := v2Scheme.Native(p)
		if err != nil {
			return fmt.Errorf("pair %s: %w", p, err)
		}
		msg := map[string]string{
			"event":   "subscribe",
			"channel": "ticker",
			"symbol":  "t" + sym,
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
	}
	return nil
}

// readLoop 读消息直到连接断开。
func (f *BitfinexFeed) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			f.log.Debug("ws read", zap.Error(err))
			return
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		f.handleMessage(msg)
	}
}

// handleMessage 事件消息是对象，数据消息是数组。心跳与未知事件忽略。
func (f *BitfinexFeed) handleMessage(raw []byte) {
	if len(raw) == 0 {
		return
	}
	if raw[0] == '{' {
		f.handleEvent(raw)
		return
	}
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil || len(frame) < 2 {
		return
	}
	var chanID int64
	if err := json.Unmarshal(frame[0], &chanID); err != nil {
		return
	}
	// 心跳帧第二个元素是字符串 "hb"。
	var hb string
	if err := json.Unmarshal(frame[1], &hb); err == nil && hb == "hb" {
		return
	}
	f.mu.Lock()
	p, ok := f.channels[chanID]
	f.mu.Unlock()
	if !ok {
		return
	}
	t, err := parseTicker(frame[1], p)
	if err != nil {
		f.log.Debug("ws ticker parse", zap.Error(err))
		return
	}
	select {
	case f.updates <- TickerUpdate{Pair: p, Ticker: t}:
	default:
		// 消费方落后时丢弃最新帧，不阻塞读循环。
	}
}

func (f *BitfinexFeed) handleEvent(raw []byte) {
	var ev struct {
		Event   string `json:"event"`
		Channel string `json:"channel"`
		ChanID  int64  `json:"chanId"`
		Symbol  string `json:"symbol"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	switch ev.Event {
	case "subscribed":
		if ev.Channel != "ticker" || len(ev.Symbol) < 2 {
			return
		}
		p, err := v2Scheme.Canonical(ev.Symbol[1:])
		if err != nil {
			f.log.Warn("ws subscribed unknown symbol", zap.String("symbol", ev.Symbol))
			return
		}
		f.mu.Lock()
		f.channels[ev.ChanID] = p
		f.mu.Unlock()
		f.log.Info("ws subscribed", zap.String("symbol", ev.Symbol), zap.Int64("chanId", ev.ChanID))
	case "error":
		f.log.Warn("ws event error", zap.String("msg", ev.Msg))
	}
}

// parseTicker v2 ticker 帧是 10 个数的数组：
// [BID, BID_SIZE, ASK, ASK_SIZE, CHG, CHG_REL, LAST, VOLUME, HIGH, LOW]。
func parseTicker(raw json.RawMessage, p pair.Pair) (exchange.Ticker, error) {
	var vals []json.Number
	if err := json.Unmarshal(raw, &vals); err != nil {
		return exchange.Ticker{}, err
	}
	if len(vals) < 10 {
		return exchange.Ticker{}, fmt.Errorf("short ticker frame: %d values", len(vals))
	}
	num := func(i int, cur money.Currency) (money.Money, error) {
		d, err := decimal.NewFromString(vals[i].String())
		if err != nil {
			return money.Money{}, fmt.Errorf("value %d: %w", i, err)
		}
		return money.FromDecimal(d, cur), nil
	}
	t := exchange.Ticker{Timestamp: time.Now()}
	var err error
	if t.Bid, err = num(0, p.Quote); err != nil {
		return exchange.Ticker{}, err
	}
	if t.Ask, err = num(2, p.Quote); err != nil {
		return exchange.Ticker{}, err
	}
	if t.Last, err = num(6, p.Quote); err != nil {
		return exchange.Ticker{}, err
	}
	if t.Volume, err = num(7, p.Base); err != nil {
		return exchange.Ticker{}, err
	}
	if t.High, err = num(8, p.Quote); err != nil {
		return exchange.Ticker{}, err
	}
	if t.Low, err = num(9, p.Quote); err != nil {
		return exchange.Ticker{}, err
	}
	return t, nil
}
