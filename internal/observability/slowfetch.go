package observability

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pricepilot/pricepilot/internal/models"
)

type SlowFetchDetector struct {
	warningThreshold  time.Duration
	criticalThreshold time.Duration
	logger            *zap.Logger
	analyticsWriter   AnalyticsWriter
}

type AnalyticsWriter interface {
	WriteFetchPerformance(ctx context.Context, event *models.FetchEvent) error
}

func NewSlowFetchDetector(warning, critical time.Duration, logger *zap.Logger, aw AnalyticsWriter) *SlowFetchDetector {
	return &SlowFetchDetector{
		warningThreshold:  warning,
		criticalThreshold: critical,
		logger:            logger,
		analyticsWriter:   aw,
	}
}

// Intercept inspects one finished comparison run. Runs at or under the
// warning threshold return immediately with zero overhead.
func (sfd *SlowFetchDetector) Intercept(ctx context.Context, input, mode string, duration time.Duration, records int64, degraded bool) {
	if duration <= sfd.warningThreshold {
		return
	}

	traceID := TraceIDFromContext(ctx)
	severity := sfd.classifySeverity(duration)

	SlowFetchCounter.WithLabelValues(severity, mode).Inc()

	sfd.logger.Warn("slow comparison run",
		zap.String("trace_id", traceID),
		zap.String("input_hash", hashInputForLog(input)),
		zap.String("mode", mode),
		zap.Float64("duration_ms", float64(duration.Milliseconds())),
		zap.Int64("records", records),
		zap.Bool("degraded", degraded),
		zap.String("severity", severity),
	)

	// The analytics write happens off the request path.
	if sfd.analyticsWriter != nil {
		event := &models.FetchEvent{
			EventType:  "fetch_performance",
			InputHash:  hashInputForLog(input),
			Mode:       mode,
			DurationMs: float64(duration.Milliseconds()),
			Records:    records,
			Degraded:   degraded,
			Timestamp:  time.Now().UTC(),
			TraceID:    traceID,
		}
		go func() {
			writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := sfd.analyticsWriter.WriteFetchPerformance(writeCtx, event); err != nil {
				sfd.logger.Error("failed to write fetch analytics",
					zap.String("trace_id", traceID),
					zap.Error(err),
				)
			}
		}()
	}
}

func (sfd *SlowFetchDetector) classifySeverity(d time.Duration) string {
	if d > sfd.criticalThreshold {
		return "critical"
	}
	if d > sfd.warningThreshold {
		return "warning"
	}
	return "normal"
}

func hashInputForLog(s string) string {
	return fmt.Sprintf("%016x", hashUint64(s))
}

func hashUint64(s string) uint64 {
	h := uint64(0)
	for _, c := range s {
		h = h*31 + uint64(c)
	}
	return h
}
