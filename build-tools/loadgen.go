//go:build ignore

// Run: go run ./build-tools/loadgen.go -url nats://localhost:4222 -subject ingest.pairs -rps 500 -duration 60s -pairs WETH-USDC,WBTC-DAI

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	mrand "math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
)

type pairEvent struct {
	Kind        string `json:"kind"`
	ChainID     uint32 `json:"chain_id"`
	PairID      string `json:"pair_id"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint32 `json:"log_index"`
	EventID     string `json:"event_id"`
	BlockNumber int64  `json:"block_number"`
	BlockTime   string `json:"block_time"` // RFC3339

	Reserve0 string `json:"reserve0,omitempty"`
	Reserve1 string `json:"reserve1,omitempty"`

	Side                 string `json:"side,omitempty"`
	Amount0              string `json:"amount0,omitempty"`
	Amount1              string `json:"amount1,omitempty"`
	TradeAddressCount24h int64  `json:"trade_address_count_24h,omitempty"`

	LPAmount string `json:"lp_amount,omitempty"`

	Removed bool `json:"removed"`
}

func main() {
	var (
		url      = flag.String("url", "nats://localhost:4222", "nats server url")
		subject  = flag.String("subject", "ingest.pairs", "subject to publish on")
		rps      = flag.Int("rps", 500, "events per second target")
		duration = flag.Duration("duration", 30*time.Second, "how long to run")
		pairs    = flag.String("pairs", "WETH-USDC,WBTC-DAI,WETH-DAI", "comma-separated pair ids")
		chainID  = flag.Uint("chain", 1, "chain id")
	)
	flag.Parse()

	pairIDs := splitTrim(*pairs)
	if len(pairIDs) == 0 {
		fmt.Println("no pairs provided")
		os.Exit(1)
	}

	nc, err := nats.Connect(*url, nats.Name("pairstats-loadgen"))
	if err != nil {
		fmt.Printf("nats connect error: %v\n", err)
		os.Exit(1)
	}
	defer nc.Close()

	fmt.Printf("loadgen → url=%s subject=%s rps=%d duration=%s\n", *url, *subject, *rps, duration.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	end := start.Add(*duration)

	// steady pace with a little drift
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	perTick := float64(*rps) / 10.0
	accum := 0.0
	sent := 0

loop:
	for {
		select {
		case <-ctx.Done():
			fmt.Println("signal received, stopping…")
			break loop
		case now := <-tick.C:
			if now.After(end) {
				break loop
			}

			accum += perTick
			batch := int(math.Floor(accum))
			if batch <= 0 {
				continue
			}
			accum -= float64(batch)

			for i := 0; i < batch; i++ {
				ev := randomEvent(uint32(*chainID), pairIDs)
				val, _ := json.Marshal(ev)
				if err := nc.Publish(*subject, val); err != nil {
					fmt.Printf("publish error: %v\n", err)
					continue
				}
				sent++
			}
		}
	}

	if err := nc.Flush(); err != nil {
		fmt.Printf("flush error: %v\n", err)
	}
	fmt.Printf("done, sent=%d\n", sent)
}

func randomEvent(chainID uint32, pairs []string) *pairEvent {
	now := time.Now().UTC()
	pairID := pairs[mrand.Intn(len(pairs))]

	tx := "0x" + randHex(64)
	logIndex := uint32(mrand.Intn(20))

	ev := &pairEvent{
		ChainID:     chainID,
		PairID:      pairID,
		TxHash:      tx,
		LogIndex:    logIndex,
		EventID:     fmt.Sprintf("%d:%s:%d", chainID, tx, logIndex),
		BlockNumber: int64(20_000_000 + mrand.Intn(1_000_000)),
		BlockTime:   now.Format(time.RFC3339Nano),
	}

	switch mrand.Intn(10) {
	case 0, 1, 2, 3: // reserves move most often
		ev.Kind = "sync"
		ev.Reserve0 = fmt.Sprintf("%.6f", 100+mrand.Float64()*10000)
		ev.Reserve1 = fmt.Sprintf("%.6f", 1000+mrand.Float64()*100000)
	case 4, 5, 6, 7:
		ev.Kind = "swap"
		ev.Side = "buy"
		if mrand.Intn(2) == 0 {
			ev.Side = "sell"
		}
		ev.Amount0 = fmt.Sprintf("%.6f", 1+mrand.Float64()*100)
		ev.Amount1 = fmt.Sprintf("%.6f", 10+mrand.Float64()*1000)
		ev.TradeAddressCount24h = int64(1 + mrand.Intn(500))
	case 8:
		ev.Kind = "mint"
		ev.LPAmount = fmt.Sprintf("%.6f", 10+mrand.Float64()*5000)
	default:
		ev.Kind = "burn"
		ev.LPAmount = fmt.Sprintf("%.6f", 1+mrand.Float64()*500)
	}

	return ev
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func randHex(n int) string {
	b := make([]byte, n/2)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
