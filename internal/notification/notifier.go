// Package notification delivers search alerts to external channels
// (log, generic webhooks, Telegram).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/davidalejandrochentes/backtesting-trading/internal/explorer"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level    AlertLevel `json:"level"`
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	SearchID string     `json:"search_id,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts; the fallback when no channel is configured.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to each notifier in turn and joins the errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SearchAlert summarises a finished search.
func SearchAlert(rep explorer.Report) Alert {
	a := Alert{Level: AlertInfo, SearchID: rep.SearchID, Title: "Search finished"}

	var b strings.Builder
	fmt.Fprintf(&b, "%d tested, %d qualified, %d errors", rep.Tested, rep.Qualified, rep.Errors)
	if rep.Cancelled > 0 {
		fmt.Fprintf(&b, ", %d cancelled", rep.Cancelled)
		a.Level = AlertWarning
		a.Title = "Search cancelled"
	}
	if rep.Best == nil {
		b.WriteString(". No qualifying combination.")
		if a.Level == AlertInfo {
			a.Level = AlertWarning
		}
		a.Message = b.String()
		return a
	}

	m := rep.Best.Metrics
	pf := "inf"
	if !math.IsInf(m.ProfitFactor, 1) {
		pf = fmt.Sprintf("%.2f", m.ProfitFactor)
	}
	fmt.Fprintf(&b, ". Best score %.4f: win rate %.2f%%, pnl %.2f, pf %s, %d trades.",
		rep.Best.Score, m.WinRate, m.TotalPnL, pf, m.TotalTrades)
	a.Message = b.String()
	return a
}
