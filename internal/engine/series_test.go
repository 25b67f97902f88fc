package engine

import (
	"testing"
	"time"

	"github.com/pricepilot/pricepilot/internal/models"
)

func TestNormalizeSeries_ReordersAndStripsSeparators(t *testing.T) {
	raw := []models.RawPricePoint{
		{Date: "2024-01-02", Price: "1,000"},
		{Date: "2024-01-01", Price: "900"},
	}

	got := NormalizeSeries(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 points, got %d", len(got))
	}
	if got[0].Price != 900 || got[1].Price != 1000 {
		t.Errorf("prices = [%v, %v], want [900, 1000]", got[0].Price, got[1].Price)
	}
	if !got[0].Date.Before(got[1].Date) {
		t.Errorf("series not ascending: %v then %v", got[0].Date, got[1].Date)
	}
}

func TestNormalizeSeries_DropsUnparsable(t *testing.T) {
	raw := []models.RawPricePoint{
		{Date: "2024-01-01", Price: "900"},
		{Date: "not a date", Price: "800"},
		{Date: "2024-01-03", Price: "n/a"},
		{Date: "2024-01-04", Price: "-5"},
	}

	got := NormalizeSeries(raw)
	if len(got) != 1 {
		t.Fatalf("expected 1 surviving point, got %d: %v", len(got), got)
	}
	if got[0].Price != 900 {
		t.Errorf("surviving price = %v, want 900", got[0].Price)
	}
}

func TestNormalizeSeries_MixedDateFormats(t *testing.T) {
	epoch := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).Unix()
	raw := []models.RawPricePoint{
		{Date: "2024-03-01T10:00:00Z", Price: 1200.0},
		{Date: float64(epoch), Price: "1,100"},
		{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Price: 1000},
	}

	got := NormalizeSeries(raw)
	if len(got) != 3 {
		t.Fatalf("expected 3 points, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Date.Before(got[i-1].Date) {
			t.Errorf("series not ascending at %d: %v before %v", i, got[i].Date, got[i-1].Date)
		}
	}
	if got[0].Price != 1000 || got[1].Price != 1100 || got[2].Price != 1200 {
		t.Errorf("unexpected prices: %v", got)
	}
}

func TestNormalizeSeries_StableOnEqualDates(t *testing.T) {
	raw := []models.RawPricePoint{
		{Date: "2024-01-01", Price: "100"},
		{Date: "2024-01-01", Price: "200"},
		{Date: "2024-01-01", Price: "300"},
	}

	got := NormalizeSeries(raw)
	if len(got) != 3 {
		t.Fatalf("expected 3 points, got %d", len(got))
	}
	if got[0].Price != 100 || got[1].Price != 200 || got[2].Price != 300 {
		t.Errorf("tie order not stable: %v", got)
	}
}

func TestNormalizeSeries_Empty(t *testing.T) {
	if got := NormalizeSeries(nil); len(got) != 0 {
		t.Errorf("expected empty output, got %v", got)
	}
}
