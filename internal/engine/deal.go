package engine

import "github.com/pricepilot/pricepilot/internal/models"

// AnalyzeDeal scores the current price against the historical average
// of the series. With no usable history the price is assumed fair.
func AnalyzeDeal(current float64, history []models.PricePoint) models.DealAnalysis {
	if len(history) == 0 {
		return models.DealAnalysis{Score: 5, Label: "Fair Price"}
	}

	var sum float64
	for _, p := range history {
		sum += p.Price
	}
	avg := sum / float64(len(history))
	if avg == 0 {
		return models.DealAnalysis{Score: 5, Label: "Fair Price"}
	}

	savings := (avg - current) / avg * 100

	a := models.DealAnalysis{SavingsPct: savings, AveragePrice: avg}
	switch {
	case savings >= 20:
		a.Score, a.Label = 10, "Great Deal"
	case savings >= 10:
		a.Score, a.Label = 8, "Good Deal"
	case savings >= -5:
		a.Score, a.Label = 6, "Fair Price"
	default:
		a.Score, a.Label = 3, "Overpriced"
	}
	return a
}
