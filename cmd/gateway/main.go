// cmd/gateway serves live search progress over WebSocket (relayed from the
// Redis events channel) and stored search results over REST.
//
// Usage:
//
//	REDIS_ADDR=localhost:6379 go run ./cmd/gateway
//
// Routes:
//
//	WS  /ws?search_id=<id>&since=<seq>
//	GET /api/searches
//	GET /api/searches/{id}
//	GET /api/searches/{id}/ranking?by=score|win_rate|total_pnl
//	GET /api/searches/{id}/trades?combination=<id>
//	GET /api/live
//	GET /api/health
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/davidalejandrochentes/backtesting-trading/config"
	"github.com/davidalejandrochentes/backtesting-trading/internal/execution"
	"github.com/davidalejandrochentes/backtesting-trading/internal/gateway"
	sqlitestore "github.com/davidalejandrochentes/backtesting-trading/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[gateway] starting...")

	cfg := config.Load()
	if cfg.RedisAddr == "" {
		log.Fatal("[gateway] REDIS_ADDR is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("[gateway] redis connection failed: %v", err)
	}
	log.Printf("[gateway] redis connected at %s", cfg.RedisAddr)

	reader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[gateway] sqlite open failed: %v", err)
	}
	defer reader.Close()

	var trades gateway.TradeStore
	journal, err := execution.NewJournal(cfg.SQLitePath)
	if err != nil {
		log.Printf("[gateway] trade journal disabled: %v", err)
	} else {
		defer journal.Close()
		trades = journal
	}

	hub := gateway.NewHub(rdb)
	go hub.Run(ctx)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, reader, trades)

	srv := &http.Server{
		Addr:              cfg.GatewayAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("[gateway] serving at http://localhost%s", cfg.GatewayAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[gateway] server error: %v", err)
		}
	}()

	<-sigCh
	log.Println("[gateway] shutting down...")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	srv.Shutdown(shutdownCtx)
}
