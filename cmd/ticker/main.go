package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	exchanges "bitcoin-exchanges-go"
	"bitcoin-exchanges-go/config"
	"bitcoin-exchanges-go/infrastructure/logger"
	"bitcoin-exchanges-go/pair"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to config file")
	pairArg := flag.String("pair", "BTC_USD", "canonical pair, BASE_QUOTE")
	venue := flag.String("venue", "", "single venue instead of every live one")
	flag.Parse()

	// 凭证可以放在 .env 里，文件不存在就跳过。
	_ = godotenv.Load()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	p, err := pair.Parse(*pairArg)
	if err != nil {
		log.Fatalf("parse pair: %v", err)
	}
	zl, err := logger.New(logger.Config{Level: "warn", Format: "console"})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()

	f, err := exchanges.NewFactory(cfg, zl)
	if err != nil {
		log.Fatalf("factory: %v", err)
	}
	defer f.Close()

	names := cfg.LiveVenues()
	if *venue != "" {
		names = []string{*venue}
	}
	failed := false
	for _, name := range names {
		ex, err := f.New(name)
		if err != nil {
			fmt.Printf("%-10s %v\n", name, err)
			failed = true
			continue
		}
		t, err := ex.Ticker(p)
		if err != nil {
			fmt.Printf("%-10s %v\n", name, err)
			failed = true
			continue
		}
		fmt.Printf("%-10s bid=%s ask=%s last=%s vol=%s\n",
			name, t.Bid, t.Ask, t.Last, t.Volume)
	}
	if failed {
		os.Exit(1)
	}
}
