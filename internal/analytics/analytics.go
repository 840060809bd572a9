// Package analytics computes the aggregated delivery-performance summary
// exposed by the API's analytics endpoint, on top of the delivery store's
// raw per-channel counts.
package analytics

import (
	"time"

	"github.com/bakerapps/notifyd/internal/delivery"
	"github.com/bakerapps/notifyd/internal/models"
)

// defaultWindow is applied when the caller specifies neither window bound.
const defaultWindow = 24 * time.Hour

// Summarize aggregates delivery attempts between start and end into an
// AnalyticsSummary, converting the store's raw delivered/total counts per
// channel into a delivery rate.
func Summarize(store delivery.Store, start, end time.Time) (*models.AnalyticsSummary, error) {
	if end.IsZero() {
		end = time.Now().UTC()
	}
	if start.IsZero() {
		start = end.Add(-defaultWindow)
	}

	window, err := store.AnalyticsWindow(start, end)
	if err != nil {
		return nil, err
	}

	rates := make(map[string]float64, len(window.ByChannelTotal))
	for ch, total := range window.ByChannelTotal {
		if total == 0 {
			rates[ch] = 0
			continue
		}
		rates[ch] = float64(window.ByChannelDelivered[ch]) / float64(total)
	}

	return &models.AnalyticsSummary{
		WindowStart:           start,
		WindowEnd:             end,
		ByChannelDeliveryRate: rates,
		AvgDeliveryTimeMs:     window.AvgDeliveryTimeMs,
		FailureReasons:        window.FailureReasons,
	}, nil
}
