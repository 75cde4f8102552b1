// Package report publishes the lifecycle of an observed run as a check
// report: opened in progress right after submission, completed with a
// success or failure conclusion once the run is terminal.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/telekom/tekton-step/pkg/observe"
	"github.com/telekom/tekton-step/pkg/submit"
)

// ErrReportingFailed is the sentinel every reporter error unwraps to. Callers
// log it; it never changes the outcome of a run.
var ErrReportingFailed = errors.New("reporting failed")

type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

type Conclusion string

const (
	ConclusionNone    Conclusion = ""
	ConclusionSuccess Conclusion = "success"
	ConclusionFailure Conclusion = "failure"
)

// CheckReport is the state of one report. Reporters may record their own
// identifiers on it when opening.
type CheckReport struct {
	Name        string     `json:"name" yaml:"name"`
	Title       string     `json:"title" yaml:"title"`
	Summary     string     `json:"summary" yaml:"summary"`
	Text        string     `json:"text,omitempty" yaml:"text,omitempty"`
	Status      Status     `json:"status" yaml:"status"`
	Conclusion  Conclusion `json:"conclusion,omitempty" yaml:"conclusion,omitempty"`
	StartedAt   time.Time  `json:"startedAt" yaml:"startedAt"`
	CompletedAt time.Time  `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`

	Resource submit.SubmittedResource `json:"-" yaml:"-"`
	// CheckRunID is the GitHub check run created for this report.
	CheckRunID int64 `json:"checkRunID,omitempty" yaml:"checkRunID,omitempty"`
}

// New returns an in-progress report for a submitted run.
func New(res submit.SubmittedResource, now time.Time) *CheckReport {
	title := fmt.Sprintf("%s %s", res.Kind, res.Name)
	return &CheckReport{
		Name:      fmt.Sprintf("tekton-step/%s", res.Name),
		Title:     title,
		Summary:   fmt.Sprintf("%s is running in namespace %s", title, res.Namespace),
		Status:    StatusInProgress,
		StartedAt: now,
		Resource:  res,
	}
}

// Complete moves r to completed using the run's terminal condition. On
// failure the condition's reason and message become the report text.
func Complete(r *CheckReport, cond observe.RunCondition, now time.Time) {
	r.Status = StatusCompleted
	r.CompletedAt = now
	if cond.Succeeded() {
		r.Conclusion = ConclusionSuccess
		r.Summary = fmt.Sprintf("%s succeeded", r.Title)
		r.Text = cond.Message
		return
	}
	r.Conclusion = ConclusionFailure
	if cond.Reason != "" {
		r.Summary = fmt.Sprintf("%s failed: %s", r.Title, cond.Reason)
	} else {
		r.Summary = fmt.Sprintf("%s failed", r.Title)
	}
	switch {
	case cond.Reason != "" && cond.Message != "":
		r.Text = fmt.Sprintf("%s: %s", cond.Reason, cond.Message)
	case cond.Reason != "":
		r.Text = cond.Reason
	default:
		r.Text = cond.Message
	}
}

// Reporter publishes a CheckReport somewhere.
type Reporter interface {
	// Open publishes r while it is in progress.
	Open(ctx context.Context, r *CheckReport) error
	// Close publishes r after Complete.
	Close(ctx context.Context, r *CheckReport) error
}

// Nop drops every report.
type Nop struct{}

func (Nop) Open(context.Context, *CheckReport) error  { return nil }
func (Nop) Close(context.Context, *CheckReport) error { return nil }

// Multi fans a report out to several reporters. Every reporter is called
// even when an earlier one failed; the failures are combined.
type Multi []Reporter

func (m Multi) Open(ctx context.Context, r *CheckReport) error {
	var err error
	for _, rep := range m {
		err = multierr.Append(err, rep.Open(ctx, r))
	}
	return err
}

func (m Multi) Close(ctx context.Context, r *CheckReport) error {
	var err error
	for _, rep := range m {
		err = multierr.Append(err, rep.Close(ctx, r))
	}
	return err
}
