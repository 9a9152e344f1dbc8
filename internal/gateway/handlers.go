package gateway

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/davidalejandrochentes/backtesting-trading/internal/execution"
	"github.com/davidalejandrochentes/backtesting-trading/internal/explorer"
	sqlitestore "github.com/davidalejandrochentes/backtesting-trading/internal/store/sqlite"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SearchStore reads finished searches.
type SearchStore interface {
	Searches(limit int) ([]sqlitestore.SearchSummary, error)
	ReadReport(searchID string) (explorer.Report, error)
	Ranking(searchID, ranking string) ([]explorer.Entry, error)
}

// TradeStore reads journaled trades.
type TradeStore interface {
	GetTrades(searchID string, combinationID, limit int) ([]execution.TradeRecord, error)
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers the WebSocket and REST routes on mux.
// trades may be nil, which disables the trades endpoint.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, searches SearchStore, trades TradeStore) {
	// WS /ws?search_id=<id>&since=<seq>
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		hub.Attach(conn, r.URL.Query().Get("search_id"), since)
	})

	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"clients": hub.ClientCount(),
			"seq":     hub.Seq(),
		})
	})

	// Latest progress of every search seen since startup.
	mux.HandleFunc("/api/live", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.Latest())
	})

	mux.HandleFunc("/api/searches", func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 20)
		list, err := searches.Searches(limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if list == nil {
			list = []sqlitestore.SearchSummary{}
		}
		writeJSON(w, http.StatusOK, list)
	})

	// /api/searches/{id}
	// /api/searches/{id}/ranking?by=score|win_rate|total_pnl
	// /api/searches/{id}/trades?combination=<id>&limit=<n>
	mux.HandleFunc("/api/searches/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			SetCORS(w)
			w.WriteHeader(http.StatusOK)
			return
		}
		id, sub, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/api/searches/"), "/")
		if id == "" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "search id required"})
			return
		}

		switch sub {
		case "":
			rep, err := searches.ReadReport(id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, rep)

		case "ranking":
			by := r.URL.Query().Get("by")
			if by == "" {
				by = sqlitestore.RankingScore
			}
			switch by {
			case sqlitestore.RankingScore, sqlitestore.RankingWinRate, sqlitestore.RankingPnL:
			default:
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown ranking " + by})
				return
			}
			entries, err := searches.Ranking(id, by)
			if err != nil {
				writeError(w, err)
				return
			}
			if entries == nil {
				entries = []explorer.Entry{}
			}
			writeJSON(w, http.StatusOK, entries)

		case "trades":
			if trades == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "trade journal disabled"})
				return
			}
			combo := queryInt(r, "combination", -1)
			if combo < 0 {
				rep, err := searches.ReadReport(id)
				if err != nil {
					writeError(w, err)
					return
				}
				if rep.Best == nil {
					writeJSON(w, http.StatusOK, []execution.TradeRecord{})
					return
				}
				combo = rep.Best.ID
			}
			recs, err := trades.GetTrades(id, combo, queryInt(r, "limit", 1000))
			if err != nil {
				writeError(w, err)
				return
			}
			if recs == nil {
				recs = []execution.TradeRecord{}
			}
			writeJSON(w, http.StatusOK, recs)

		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource " + sub})
		}
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil {
		return v
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, sql.ErrNoRows) {
		code = http.StatusNotFound
	} else {
		log.Printf("[gateway] %v", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
