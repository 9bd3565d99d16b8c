package service

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "kmc-indicators/common/redis"
	"kmc-indicators/internal/aggregator"
)

// RunEvent is the stream entry announcing a finished run.
type RunEvent struct {
	RunID       string   `json:"run_id"`
	Hospitals   []string `json:"hospitals"`
	Failed      []string `json:"failed_hospitals,omitempty"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Weeks       int      `json:"weeks"`
	Issues      int      `json:"issues"`
	CacheHits   int      `json:"cache_hits"`
	CacheMisses int      `json:"cache_misses"`
}

// NewRunEvent summarizes run.
func NewRunEvent(run *aggregator.Run) RunEvent {
	r := run.Report
	ev := RunEvent{
		RunID:       run.ID,
		Hospitals:   []string{},
		From:        r.Range.From.Format("2006-01-02"),
		To:          r.Range.To.Format("2006-01-02"),
		Issues:      r.DataQuality.Total,
		CacheHits:   run.Stats.CacheHits,
		CacheMisses: run.Stats.CacheMisses,
	}
	for _, id := range r.Scope {
		hr, ok := r.Hospitals[id]
		if !ok {
			ev.Failed = append(ev.Failed, id)
			continue
		}
		ev.Hospitals = append(ev.Hospitals, id)
		ev.Weeks += len(hr.Weeks)
	}
	return ev
}

// ReportNotifier publishes finished runs to a Redis stream.
type ReportNotifier struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

func NewReportNotifier(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *ReportNotifier {
	return &ReportNotifier{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

func (n *ReportNotifier) NotifyRun(ctx context.Context, run *aggregator.Run) error {
	ev := NewRunEvent(run)
	id, err := rediscommon.PublishJSONToStream(ctx, n.client, n.stream, n.maxLen, ev)
	if err != nil {
		return fmt.Errorf("failed to publish run event: %w", err)
	}
	n.logger.Info("Published run event",
		zap.String("run_id", ev.RunID),
		zap.String("stream", n.stream),
		zap.String("message_id", id),
	)
	return nil
}
