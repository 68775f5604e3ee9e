package main

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"bitcoin-exchanges-go/metrics"
)

// 本地验证 Prometheus 抓取链路：起指标服务并周期性打样本观测。
func main() {
	addr := flag.String("metricsAddr", ":9100", "Prometheus 指标监听地址")
	interval := flag.Duration("interval", 5*time.Second, "样本观测间隔")
	flag.Parse()

	metrics.StartMetricsServer(*addr)
	fmt.Printf("metrics_probe started at %s\n", *addr)

	sampleErr := errors.New("probe error")
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for i := 0; ; i++ {
		<-ticker.C
		metrics.Observe("probe", "ticker", nil)
		if i%3 == 0 {
			metrics.Observe("probe", "ticker", sampleErr)
		}
		if i%5 == 0 {
			metrics.NonceRetries.WithLabelValues("probe").Inc()
		}
	}
}
