package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

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
	yes := flag.Bool("yes", false, "skip confirmation prompt")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	p, err := pair.Parse(*pairArg)
	if err != nil {
		log.Fatalf("parse pair: %v", err)
	}
	zl, err := logger.New(logger.Config{Level: "info", Format: "console"})
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
	if !*yes && !confirm(names, p) {
		fmt.Println("aborted")
		return
	}

	failed := false
	for _, name := range names {
		ex, err := f.New(name)
		if err != nil {
			fmt.Printf("%-10s %v\n", name, err)
			failed = true
			continue
		}
		orders, err := ex.OpenOrders(p)
		if err != nil {
			fmt.Printf("%-10s list orders: %v\n", name, err)
			failed = true
			continue
		}
		if len(orders) == 0 {
			fmt.Printf("%-10s no open orders\n", name)
			continue
		}
		ok, err := ex.CancelOrders(p)
		if err != nil {
			fmt.Printf("%-10s cancel: %v\n", name, err)
			failed = true
			continue
		}
		fmt.Printf("%-10s cancelled %d orders, all ok=%v\n", name, len(orders), ok)
		if !ok {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func confirm(names []string, p pair.Pair) bool {
	fmt.Printf("cancel ALL %s orders on %s? [y/N] ", p, strings.Join(names, ", "))
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
