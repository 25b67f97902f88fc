package observability

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pricepilot/pricepilot/internal/models"
)

type mockAnalyticsWriter struct {
	mu     sync.Mutex
	events []*models.FetchEvent
}

func (m *mockAnalyticsWriter) WriteFetchPerformance(ctx context.Context, event *models.FetchEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockAnalyticsWriter) getEvents() []*models.FetchEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*models.FetchEvent, len(m.events))
	copy(cp, m.events)
	return cp
}

func TestSlowFetchDetector_ClassifySeverity(t *testing.T) {
	sfd := &SlowFetchDetector{
		warningThreshold:  2 * time.Second,
		criticalThreshold: 5 * time.Second,
	}

	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"below warning", 1 * time.Second, "normal"},
		{"at warning", 2 * time.Second, "normal"},
		{"above warning", 3 * time.Second, "warning"},
		{"at critical", 5 * time.Second, "warning"},
		{"above critical", 6 * time.Second, "critical"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sfd.classifySeverity(tt.duration)
			if got != tt.want {
				t.Errorf("classifySeverity(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}

func TestSlowFetchDetector_InterceptBelowThreshold(t *testing.T) {
	aw := &mockAnalyticsWriter{}
	sfd := NewSlowFetchDetector(2*time.Second, 5*time.Second, zap.NewNop(), aw)

	sfd.Intercept(context.Background(), "https://amazon.in/x", "link",
		1*time.Second, 1, false)

	time.Sleep(50 * time.Millisecond)

	if events := aw.getEvents(); len(events) != 0 {
		t.Errorf("expected no analytics events for fast run, got %d", len(events))
	}
}

func TestSlowFetchDetector_InterceptAboveWarning(t *testing.T) {
	aw := &mockAnalyticsWriter{}
	sfd := NewSlowFetchDetector(2*time.Second, 5*time.Second, zap.NewNop(), aw)

	sfd.Intercept(context.Background(), "running shoes", "name",
		3*time.Second, 6, false)

	time.Sleep(100 * time.Millisecond)

	events := aw.getEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 analytics event, got %d", len(events))
	}
	event := events[0]
	if event.EventType != "fetch_performance" {
		t.Errorf("expected event type 'fetch_performance', got %q", event.EventType)
	}
	if event.Mode != "name" {
		t.Errorf("expected mode 'name', got %q", event.Mode)
	}
	if event.DurationMs != 3000 {
		t.Errorf("expected duration 3000ms, got %f", event.DurationMs)
	}
	if event.Records != 6 {
		t.Errorf("expected 6 records, got %d", event.Records)
	}
	if event.InputHash == "running shoes" {
		t.Error("raw input must not appear in analytics, only its hash")
	}
}

func TestSlowFetchDetector_NilWriter(t *testing.T) {
	sfd := NewSlowFetchDetector(2*time.Second, 5*time.Second, zap.NewNop(), nil)

	// Must not panic without an analytics writer.
	sfd.Intercept(context.Background(), "q", "name", 10*time.Second, 0, true)
}

func TestHashInputForLog_Deterministic(t *testing.T) {
	a := hashInputForLog("iphone 14")
	b := hashInputForLog("iphone 14")
	if a != b {
		t.Errorf("hash not deterministic: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("expected 16 hex chars, got %d", len(a))
	}
}
