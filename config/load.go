package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// VenueConfig holds one venue's credentials and quirks.
type VenueConfig struct {
	Live           bool   `yaml:"live"`
	Key            string `yaml:"key"`
	Secret         string `yaml:"secret"`
	ClientID       string `yaml:"clientId"`       // bitstamp 签名需要
	DepositAddress string `yaml:"depositAddress"` // 无查询接口的交易所用静态地址
	BaseURL        string `yaml:"baseURL"`        // 覆写端点，测试用
}

// Config is the process-wide read-only configuration, established at
// startup and never mutated afterwards.
type Config struct {
	// BlockOrders 全局下单开关：开启后 CreateOrder 返回哨兵值，不向交易所提交。
	BlockOrders bool `yaml:"blockOrders"`
	// NoncePath 持久化 nonce 计数器的 sqlite 文件。
	NoncePath string `yaml:"noncePath"`
	Venues    map[string]VenueConfig `yaml:"venues"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Venues == nil {
		cfg.Venues = map[string]VenueConfig{}
	}
	return cfg, nil
}

// LoadWithEnvOverrides applies BX_* environment overrides on top of the
// file, so credentials can stay out of it:
//
//	BX_BLOCK_ORDERS=1
//	BX_<VENUE>_KEY / BX_<VENUE>_SECRET / BX_<VENUE>_CLIENT_ID
func LoadWithEnvOverrides(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("BX_BLOCK_ORDERS"); v == "1" || strings.EqualFold(v, "true") {
		cfg.BlockOrders = true
	}
	for name, vc := range cfg.Venues {
		prefix := "BX_" + strings.ToUpper(name) + "_"
		if v := os.Getenv(prefix + "KEY"); v != "" {
			vc.Key = v
		}
		if v := os.Getenv(prefix + "SECRET"); v != "" {
			vc.Secret = v
		}
		if v := os.Getenv(prefix + "CLIENT_ID"); v != "" {
			vc.ClientID = v
		}
		cfg.Venues[name] = vc
	}
	return cfg, nil
}

// Venue returns a venue's config; missing venues are an error so a typo
// fails fast at construction time.
func (c Config) Venue(name string) (VenueConfig, error) {
	vc, ok := c.Venues[name]
	if !ok {
		return VenueConfig{}, fmt.Errorf("venue %q not configured", name)
	}
	return vc, nil
}

// LiveVenues lists configured venues with live=true, sorted.
func (c Config) LiveVenues() []string {
	out := make([]string, 0, len(c.Venues))
	for name, vc := range c.Venues {
		if vc.Live {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
