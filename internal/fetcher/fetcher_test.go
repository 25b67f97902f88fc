package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pricepilot/pricepilot/internal/config"
	"github.com/pricepilot/pricepilot/internal/models"
)

func testCompareConfig() config.CompareConfig {
	return config.CompareConfig{
		FetchTimeout: 2 * time.Second,
		MaxSources:   6,
		CircuitBreaker: config.CircuitBreakerConfig{
			MaxRequests:      10,
			Interval:         time.Minute,
			Timeout:          time.Minute,
			FailureThreshold: 100,
		},
		Retry: config.RetryConfig{
			MaxAttempts: 1,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
			Multiplier:  1,
		},
	}
}

func sourceServer(t *testing.T, products []sourceProduct) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(products)
	})
	mux.HandleFunc("/product", func(w http.ResponseWriter, r *http.Request) {
		if len(products) == 0 {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(products[0])
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchAll_MergesInSourceOrder(t *testing.T) {
	amazon := sourceServer(t, []sourceProduct{
		{Title: "Widget A", Price: "999", URL: "https://amazon.in/widget-a"},
	})
	flipkart := sourceServer(t, []sourceProduct{
		{Title: "Widget F", Price: "899", URL: "https://flipkart.com/widget-f"},
	})

	c := New(testCompareConfig(), []config.SourceConfig{
		{Name: "Amazon", BaseURL: amazon.URL, Timeout: time.Second},
		{Name: "Flipkart", BaseURL: flipkart.URL, Timeout: time.Second},
	}, zap.NewNop())

	records, err := c.SearchAll(context.Background(), "widget")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Source != "Amazon" || records[1].Source != "Flipkart" {
		t.Errorf("expected configured source order, got %q then %q",
			records[0].Source, records[1].Source)
	}
	for _, r := range records {
		if r.Origin != models.OriginLive {
			t.Errorf("expected live origin, got %v", r.Origin)
		}
	}
}

func TestSearchAll_SkipsFailingSource(t *testing.T) {
	good := sourceServer(t, []sourceProduct{
		{Title: "Widget", Price: "500", URL: "https://amazon.in/widget"},
	})
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	c := New(testCompareConfig(), []config.SourceConfig{
		{Name: "Amazon", BaseURL: good.URL, Timeout: time.Second},
		{Name: "Flipkart", BaseURL: bad.URL, Timeout: time.Second},
	}, zap.NewNop())

	records, err := c.SearchAll(context.Background(), "widget")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record from the healthy source, got %d", len(records))
	}
	if records[0].Source != "Amazon" {
		t.Errorf("expected record from Amazon, got %q", records[0].Source)
	}
}

func TestSearchAll_AllSourcesFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	c := New(testCompareConfig(), []config.SourceConfig{
		{Name: "Amazon", BaseURL: bad.URL, Timeout: time.Second},
	}, zap.NewNop())

	if _, err := c.SearchAll(context.Background(), "widget"); err == nil {
		t.Error("expected error when every source fails")
	}
}

func TestFetchProduct_RoutesByLink(t *testing.T) {
	srv := sourceServer(t, []sourceProduct{
		{Title: "Phone", Price: "12,999", Rating: 4.2},
	})

	c := New(testCompareConfig(), []config.SourceConfig{
		{Name: "Amazon", BaseURL: srv.URL, Timeout: time.Second},
	}, zap.NewNop())

	link := "https://www.amazon.in/dp/B0TEST"
	detail, err := c.FetchProduct(context.Background(), link)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail.Record.Title != "Phone" {
		t.Errorf("expected title 'Phone', got %q", detail.Record.Title)
	}
	if detail.Record.Source != "Amazon" {
		t.Errorf("expected source Amazon, got %q", detail.Record.Source)
	}
	if detail.Record.URL != link {
		t.Errorf("expected original link to backfill URL, got %q", detail.Record.URL)
	}
	if detail.Record.Origin != models.OriginLive {
		t.Errorf("expected live origin, got %v", detail.Record.Origin)
	}
}

func TestFetchProduct_UnknownSource(t *testing.T) {
	c := New(testCompareConfig(), []config.SourceConfig{
		{Name: "Amazon", BaseURL: "http://localhost:1", Timeout: time.Second},
	}, zap.NewNop())

	_, err := c.FetchProduct(context.Background(), "https://example.com/product/1")
	if err == nil {
		t.Fatal("expected error for unconfigured source")
	}
}

func TestRecordFromProduct_DefaultsPrice(t *testing.T) {
	record := recordFromProduct("Croma", sourceProduct{Title: "TV"})
	if record.Price != "Unavailable" {
		t.Errorf("expected missing price to default to Unavailable, got %q", record.Price)
	}
}

func TestNew_EnforcesMaxSources(t *testing.T) {
	cfg := testCompareConfig()
	cfg.MaxSources = 1

	c := New(cfg, []config.SourceConfig{
		{Name: "Amazon", BaseURL: "http://localhost:1", Timeout: time.Second},
		{Name: "Flipkart", BaseURL: "http://localhost:2", Timeout: time.Second},
	}, zap.NewNop())

	if got := len(c.Sources()); got != 1 {
		t.Errorf("expected 1 source after cap, got %d", got)
	}
}
