package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	exchanges "bitcoin-exchanges-go"
	"bitcoin-exchanges-go/config"
	"bitcoin-exchanges-go/exchange"
	"bitcoin-exchanges-go/infrastructure/logger"
	"bitcoin-exchanges-go/money"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to config file")
	venue := flag.String("venue", "", "single venue instead of every live one")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
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
	totals := money.NewMulti()
	failed := false
	for _, name := range names {
		ex, err := f.New(name)
		if err != nil {
			fmt.Printf("%-10s %v\n", name, err)
			failed = true
			continue
		}
		bal, err := ex.Balance(exchange.Both)
		if err != nil {
			fmt.Printf("%-10s %v\n", name, err)
			failed = true
			continue
		}
		printMulti(name+" total", bal.Total)
		printMulti(name+" avail", bal.Available)
		totals = totals.AddMulti(bal.Total)
	}
	fmt.Println("----")
	printMulti("all total", totals)
	if failed {
		os.Exit(1)
	}
}

func printMulti(label string, m money.Multi) {
	for _, cur := range m.Currencies() {
		fmt.Printf("%-18s %s\n", label, m.Get(cur))
	}
}
