package exchanges

import (
	"errors"
	"testing"

	"bitcoin-exchanges-go/config"
	"bitcoin-exchanges-go/exchange"
)

func testConfig() config.Config {
	return config.Config{
		BlockOrders: true,
		Venues: map[string]config.VenueConfig{
			"bitstamp": {Live: true, Key: "k", Secret: "s", ClientID: "42"},
			"kraken":   {Live: true, Key: "k", Secret: "a3Jha2VuLXNlY3JldA=="},
			"btce":     {Key: "k", Secret: "s"},
		},
	}
}

func TestFactoryNewAllNames(t *testing.T) {
	cfg := testConfig()
	for _, name := range Names() {
		cfg.Venues[name] = config.VenueConfig{Key: "k", Secret: "a3Jha2VuLXNlY3JldA=="}
	}
	f, err := NewFactory(cfg, nil)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	defer f.Close()
	for _, name := range Names() {
		ex, err := f.New(name)
		if err != nil {
			t.Fatalf("New(%s): %v", name, err)
		}
		if ex.Name() != name {
			t.Fatalf("Name() = %q, want %q", ex.Name(), name)
		}
	}
}

func TestFactoryUnknownVenue(t *testing.T) {
	f, err := NewFactory(testConfig(), nil)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	defer f.Close()
	if _, err := f.New("mtgox"); err == nil {
		t.Fatal("want error for unconfigured venue")
	}
}

func TestFactoryLive(t *testing.T) {
	f, err := NewFactory(testConfig(), nil)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	defer f.Close()
	exs, err := f.Live()
	if err != nil {
		t.Fatalf("Live: %v", err)
	}
	if len(exs) != 2 {
		t.Fatalf("live venues = %d, want 2", len(exs))
	}
	if _, ok := exs["bitstamp"]; !ok {
		t.Fatal("bitstamp missing from live set")
	}
	if _, ok := exs["btce"]; ok {
		t.Fatal("btce is not live, must not be constructed")
	}
}

func TestFactorySQLiteNonceStore(t *testing.T) {
	cfg := testConfig()
	cfg.NoncePath = t.TempDir() + "/nonce.db"
	f, err := NewFactory(cfg, nil)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	defer f.Close()
	if _, err := f.New("btce"); err != nil {
		t.Fatalf("New(btce): %v", err)
	}
}

func TestEachCollectsErrors(t *testing.T) {
	f, err := NewFactory(testConfig(), nil)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	defer f.Close()
	exs, err := f.Live()
	if err != nil {
		t.Fatalf("Live: %v", err)
	}
	boom := errors.New("boom")
	errs := Each(exs, func(name string, ex exchange.Exchange) error {
		if name == "kraken" {
			return boom
		}
		return nil
	})
	if len(errs) != 1 || errs["kraken"] != boom {
		t.Fatalf("errs = %v", errs)
	}
}
