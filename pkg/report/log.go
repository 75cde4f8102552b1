package report

import (
	"context"

	"go.uber.org/zap"
)

// Log writes reports to the structured log. It is always enabled.
type Log struct {
	log *zap.SugaredLogger
}

func NewLog(log *zap.SugaredLogger) *Log {
	if log == nil {
		log = zap.S()
	}
	return &Log{log: log}
}

func (l *Log) Open(_ context.Context, r *CheckReport) error {
	l.log.Infow("Check report opened", "name", r.Name, "title", r.Title, "status", r.Status)
	return nil
}

func (l *Log) Close(_ context.Context, r *CheckReport) error {
	l.log.Infow("Check report closed", "name", r.Name, "title", r.Title, "status", r.Status,
		"conclusion", r.Conclusion, "summary", r.Summary, "duration", r.CompletedAt.Sub(r.StartedAt))
	return nil
}
