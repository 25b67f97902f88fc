package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pricepilot/pricepilot/internal/config"
	"github.com/pricepilot/pricepilot/internal/history"
	"github.com/pricepilot/pricepilot/internal/models"
	"github.com/pricepilot/pricepilot/internal/observability"
	"github.com/pricepilot/pricepilot/internal/orchestrator"
)

type stubFetcher struct {
	records []models.PriceRecord
	detail  *models.ProductDetail
	err     error
}

func (s *stubFetcher) SearchAll(_ context.Context, _ string) ([]models.PriceRecord, error) {
	return s.records, s.err
}

func (s *stubFetcher) FetchProduct(_ context.Context, _ string) (*models.ProductDetail, error) {
	if s.detail == nil {
		return nil, errors.New("not found")
	}
	return s.detail, s.err
}

type stubCatalog struct {
	records []models.PriceRecord
	titles  []string
	err     error
}

func (s *stubCatalog) Search(_ context.Context, _ string, _ int) ([]models.PriceRecord, error) {
	return s.records, s.err
}

func (s *stubCatalog) Titles(_ context.Context, _ int) ([]string, error) {
	return s.titles, s.err
}

type stubSeries struct{}

func (stubSeries) GetSeries(_ context.Context, _ string, _ int) ([]models.PricePoint, error) {
	return nil, nil
}

func (stubSeries) AppendPricePoints(_ context.Context, _ string, _ []models.PricePoint) error {
	return nil
}

func (stubSeries) FallbackSearch(_ context.Context, _ string, _ int) ([]models.PriceRecord, error) {
	return nil, errors.New("unavailable")
}

type noopCache struct{}

func (noopCache) GetCompareResults(_ context.Context, _ *models.CompareRequest) (*models.CompareResponse, error) {
	return nil, nil
}

func (noopCache) SetCompareResults(_ context.Context, _ *models.CompareRequest, _ *models.CompareResponse) error {
	return nil
}

func (noopCache) GetStaleResults(_ context.Context, _ *models.CompareRequest) (*models.CompareResponse, error) {
	return nil, errors.New("no stale entry")
}

func (noopCache) GetSuggestions(_ context.Context, _ string) ([]string, error) { return nil, nil }

func (noopCache) SetSuggestions(_ context.Context, _ string, _ []string) error { return nil }

func (noopCache) GetSeries(_ context.Context, _ string) ([]models.PricePoint, error) {
	return nil, nil
}

func (noopCache) SetSeries(_ context.Context, _ string, _ []models.PricePoint) error { return nil }

func newTestHandler(t *testing.T, fetcher *stubFetcher, catalog *stubCatalog) (*Handler, *history.Cache) {
	t.Helper()
	logger := zap.NewNop()
	hist := history.NewCache(history.NewMemStore(), logger)
	slow := observability.NewSlowFetchDetector(time.Second, 5*time.Second, logger, nil)
	cfg := config.CompareConfig{FetchTimeout: 2 * time.Second, MaxSources: 6}
	orch := orchestrator.New(fetcher, catalog, stubSeries{}, nil, noopCache{}, hist, slow, cfg, logger)
	return NewHandler(orch, hist, logger), hist
}

func TestCompareHandler_Name(t *testing.T) {
	fetcher := &stubFetcher{records: []models.PriceRecord{
		{Title: "Phone X", Price: "999", Source: "Amazon", URL: "u1", Origin: models.OriginLive},
	}}
	h, _ := newTestHandler(t, fetcher, &stubCatalog{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/compare?q=Phone+X", nil)
	rr := httptest.NewRecorder()
	h.Compare(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp models.CompareResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Mode != "name" {
		t.Errorf("expected name mode, got %q", resp.Mode)
	}
	if len(resp.Records) != 1 || resp.BestIndex != 0 {
		t.Errorf("unexpected records: %+v best %d", resp.Records, resp.BestIndex)
	}
}

func TestCompareHandler_EmptyInputIsNotAnError(t *testing.T) {
	h, _ := newTestHandler(t, &stubFetcher{err: errors.New("must not be called")},
		&stubCatalog{err: errors.New("must not be called")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/compare", nil)
	rr := httptest.NewRecorder()
	h.Compare(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty input, got %d", rr.Code)
	}

	var resp models.CompareResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Mode != "empty" || resp.BestIndex != -1 {
		t.Errorf("expected empty short-circuit, got mode %q best %d", resp.Mode, resp.BestIndex)
	}
}

func TestCompareHandler_FilterParams(t *testing.T) {
	fetcher := &stubFetcher{records: []models.PriceRecord{
		{Title: "Cheap", Price: "500", Source: "Amazon", URL: "u1", Origin: models.OriginLive},
		{Title: "Pricey", Price: "5000", Source: "Flipkart", URL: "u2", Origin: models.OriginLive},
	}}
	h, _ := newTestHandler(t, fetcher, &stubCatalog{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/compare?q=widget&max_price=1000&sort=price", nil)
	rr := httptest.NewRecorder()
	h.Compare(rr, req)

	var resp models.CompareResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Records) != 1 || resp.Records[0].Title != "Cheap" {
		t.Errorf("expected max_price filter applied, got %+v", resp.Records)
	}
}

func TestCompareHandler_PostBody(t *testing.T) {
	fetcher := &stubFetcher{records: []models.PriceRecord{
		{Title: "Phone X", Price: "999", Source: "Amazon", URL: "u1", Origin: models.OriginLive},
	}}
	h, _ := newTestHandler(t, fetcher, &stubCatalog{})

	body := `{"input":"Phone X","filter":{"sort_key":1}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/compare", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.Compare(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCompareHandler_BadJSON(t *testing.T) {
	h, _ := newTestHandler(t, &stubFetcher{}, &stubCatalog{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/compare", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	h.Compare(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad body, got %d", rr.Code)
	}
}

func TestCompareHandler_AllBackendsDown(t *testing.T) {
	h, _ := newTestHandler(t, &stubFetcher{err: errors.New("down")},
		&stubCatalog{err: errors.New("down")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/compare?q=widget", nil)
	rr := httptest.NewRecorder()
	h.Compare(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 when every tier fails, got %d", rr.Code)
	}
}

func TestSuggestHandler(t *testing.T) {
	h, _ := newTestHandler(t, &stubFetcher{}, &stubCatalog{titles: []string{"iPhone 14", "Pixel 9"}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/suggest?q=iPhon", nil)
	rr := httptest.NewRecorder()
	h.Suggest(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Suggestions) != 1 || resp.Suggestions[0] != "iPhone 14" {
		t.Errorf("unexpected suggestions: %v", resp.Suggestions)
	}
}

func TestSuggestHandler_BlankQuery(t *testing.T) {
	h, _ := newTestHandler(t, &stubFetcher{}, &stubCatalog{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/suggest", nil)
	rr := httptest.NewRecorder()
	h.Suggest(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Suggestions) != 0 {
		t.Errorf("expected no suggestions for blank query, got %v", resp.Suggestions)
	}
}

func TestHistoryHandler_ListAndClear(t *testing.T) {
	h, hist := newTestHandler(t, &stubFetcher{}, &stubCatalog{})

	hist.Record(context.Background(), models.HistoryItem{
		Title: "Phone X", Price: "999", URL: "https://amazon.in/x",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	rr := httptest.NewRecorder()
	h.History(rr, req)

	var listResp struct {
		Items []models.HistoryItem `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(listResp.Items) != 1 || listResp.Items[0].Title != "Phone X" {
		t.Errorf("unexpected history items: %+v", listResp.Items)
	}

	delReq := httptest.NewRequest(http.MethodDelete, "/api/v1/history", nil)
	delRR := httptest.NewRecorder()
	h.ClearHistory(delRR, delReq)
	if delRR.Code != http.StatusOK {
		t.Fatalf("expected 200 on clear, got %d", delRR.Code)
	}

	if items := hist.List(context.Background()); len(items) != 0 {
		t.Errorf("expected empty history after clear, got %+v", items)
	}
}

func TestPriceHistoryHandler_MissingURL(t *testing.T) {
	h, _ := newTestHandler(t, &stubFetcher{}, &stubCatalog{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/price-history", nil)
	rr := httptest.NewRecorder()
	h.PriceHistory(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing url, got %d", rr.Code)
	}
}

func TestPriceHistoryHandler_EmptySeries(t *testing.T) {
	h, _ := newTestHandler(t, &stubFetcher{}, &stubCatalog{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/price-history?url=https://amazon.in/x", nil)
	rr := httptest.NewRecorder()
	h.PriceHistory(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Series []models.PricePoint `json:"series"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Series == nil {
		t.Error("expected empty array, not null")
	}
}
