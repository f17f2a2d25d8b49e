package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Atique-Syed1/Trading-bot/internal/feed"
	"github.com/Atique-Syed1/Trading-bot/internal/metrics"
	"github.com/Atique-Syed1/Trading-bot/internal/model"
	"github.com/Atique-Syed1/Trading-bot/internal/scanner"
)

func TestBuyCandidates(t *testing.T) {
	items := []model.Instrument{
		{Symbol: "TCS", ComplianceStatus: model.Compliant, Technicals: model.Technicals{Signal: model.SignalBuy}},
		{Symbol: "HDFCBANK", ComplianceStatus: model.NonCompliant, Technicals: model.Technicals{Signal: model.SignalBuy}},
		{Symbol: "INFY", ComplianceStatus: model.Compliant, Technicals: model.Technicals{Signal: model.SignalSell}},
	}
	got := buyCandidates(items)
	if len(got) != 1 || got[0].Symbol != "TCS" {
		t.Fatalf("buyCandidates = %+v, want only TCS", got)
	}
}

func TestScannerHooks_UpdateHealth(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	h := metrics.NewHealthStatus()
	hooks := scannerHooks(m, h)

	hooks.OnMode(scanner.ModeLive)
	hooks.OnSessionState(feed.Connecting)
	if rep := h.Report(); rep.Status != "degraded" || rep.StreamState != "connecting" {
		t.Fatalf("report = %+v, want degraded while connecting", rep)
	}

	hooks.OnSessionState(feed.Open)
	at := time.Now()
	hooks.OnCommit(at, 3)
	rep := h.Report()
	if rep.Status != "healthy" {
		t.Errorf("status = %q, want healthy", rep.Status)
	}
	if rep.LastUpdate == "" {
		t.Error("last update not recorded")
	}

	// metric hooks must not panic on any label
	hooks.OnFrame(feed.KindUnrecognized, 2)
	hooks.OnScan(scanner.ModeOffline, time.Second, nil)
	hooks.OnEventDropped()
	hooks.OnReconnect()
	hooks.OnStatus(nil)
	if got := h.Report().Backend; got != "ok" {
		t.Errorf("backend = %q, want ok", got)
	}
}

func TestPrintEvent(t *testing.T) {
	at := time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)
	var buf bytes.Buffer
	printEvent(&buf, model.StoreEvent{
		Type: model.EventSnapshot, Mode: "live", At: at,
		Instruments: []model.Instrument{{Symbol: "TCS", ComplianceStatus: model.Compliant, Technicals: model.Technicals{Signal: model.SignalBuy}}},
	})
	printEvent(&buf, model.StoreEvent{
		Type: model.EventPriceUpdate, Mode: "live", At: at,
		Deltas: []model.PriceDelta{{Symbol: "INFY", Price: 1501.5, Change: 1.5, ChangePercent: 0.1}},
	})

	want := "10:15:00 [live] snapshot: 1 instruments, 1 buy candidates\n" +
		"10:15:00 [live] INFY            1501.50    +1.50 (+0.10%)\n"
	if buf.String() != want {
		t.Errorf("output =\n%q\nwant\n%q", buf.String(), want)
	}
}
