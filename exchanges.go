// Package exchanges 把各交易所适配器按名称汇编起来。调用方只依赖
// exchange.Exchange 契约，不直接引用具体交易所包。
package exchanges

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"bitcoin-exchanges-go/config"
	"bitcoin-exchanges-go/exchange"
	"bitcoin-exchanges-go/infrastructure/logger"
	"bitcoin-exchanges-go/nonce"
	"bitcoin-exchanges-go/venues/bitfinex"
	"bitcoin-exchanges-go/venues/bitstamp"
	"bitcoin-exchanges-go/venues/btce"
	"bitcoin-exchanges-go/venues/exmo"
	"bitcoin-exchanges-go/venues/huobi"
	"bitcoin-exchanges-go/venues/kraken"
	"bitcoin-exchanges-go/venues/lakebtc"
	"bitcoin-exchanges-go/venues/okcoin"
	"bitcoin-exchanges-go/venues/poloniex"
)

// Names 所有已支持的交易所标识，按字典序。
func Names() []string {
	names := []string{
		bitfinex.Name,
		bitstamp.Name,
		btce.Name,
		exmo.Name,
		huobi.Name,
		kraken.Name,
		lakebtc.Name,
		okcoin.Name,
		poloniex.Name,
	}
	sort.Strings(names)
	return names
}

// Factory 按配置构造适配器。需要持久化 nonce 序列的交易所共用
// 工厂持有的存储，配置了 noncePath 时是 sqlite，否则退回内存实现。
type Factory struct {
	cfg config.Config
	log *zap.Logger
	seq nonce.Store
	db  *nonce.SQLiteStore
}

// NewFactory 打开 nonce 存储并返回工厂。用完应当 Close。
func NewFactory(cfg config.Config, log *zap.Logger) (*Factory, error) {
	if log == nil {
		log = logger.Nop()
	}
	f := &Factory{cfg: cfg, log: log}
	if cfg.NoncePath != "" {
		db, err := nonce.OpenSQLite(cfg.NoncePath)
		if err != nil {
			return nil, fmt.Errorf("open nonce store: %w", err)
		}
		f.db = db
		f.seq = db
	} else {
		f.seq = nonce.NewMemoryStore()
	}
	return f, nil
}

// Close 关闭工厂持有的资源。
func (f *Factory) Close() error {
	if f.db != nil {
		return f.db.Close()
	}
	return nil
}

// New 按标识构造一个适配器。未配置或不认识的标识直接报错。
func (f *Factory) New(name string) (exchange.Exchange, error) {
	vc, err := f.cfg.Venue(name)
	if err != nil {
		return nil, err
	}
	block := f.cfg.BlockOrders
	log := f.log.With(zap.String("venue", name))
	switch name {
	case bitfinex.Name:
		return bitfinex.New(vc, block, log), nil
	case bitstamp.Name:
		return bitstamp.New(vc, block, log), nil
	case btce.Name:
		return btce.New(vc, block, f.seq, log)
	case exmo.Name:
		return exmo.New(vc, block, log), nil
	case huobi.Name:
		return huobi.New(vc, block, log), nil
	case kraken.Name:
		return kraken.New(vc, block, log), nil
	case lakebtc.Name:
		return lakebtc.New(vc, block, log), nil
	case okcoin.Name:
		return okcoin.New(vc, block, log), nil
	case poloniex.Name:
		return poloniex.New(vc, block, log), nil
	}
	return nil, fmt.Errorf("unknown venue %q", name)
}

// Live 构造配置里 live=true 的全部适配器。
func (f *Factory) Live() (map[string]exchange.Exchange, error) {
	out := make(map[string]exchange.Exchange)
	for _, name := range f.cfg.LiveVenues() {
		ex, err := f.New(name)
		if err != nil {
			return nil, err
		}
		out[name] = ex
	}
	return out, nil
}

// Each 对每个适配器顺序执行 fn，逐家收集错误而不是遇错即停，
// 单家交易所故障不应拖垮对其余交易所的操作。
func Each(exs map[string]exchange.Exchange, fn func(name string, ex exchange.Exchange) error) map[string]error {
	errs := make(map[string]error)
	for name, ex := range exs {
		if err := fn(name, ex); err != nil {
			errs[name] = err
		}
	}
	return errs
}
