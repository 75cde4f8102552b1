package report

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/google/go-github/v72/github"
	"go.uber.org/zap"

	"github.com/telekom/tekton-step/pkg/metrics"
)

// maxOutputText is the limit GitHub puts on a check run's output text.
const maxOutputText = 65535

// Target is the commit a check run is attached to.
type Target struct {
	Owner   string
	Repo    string
	HeadSHA string
}

func (t Target) valid() bool {
	return t.Owner != "" && t.Repo != "" && t.HeadSHA != ""
}

// GitHub publishes reports as check runs through the GitHub Checks API.
type GitHub struct {
	client *github.Client
	target Target
	log    *zap.SugaredLogger
}

// NewGitHubClient builds an API client authenticated with token. A non-empty
// baseURL selects a GitHub Enterprise instance.
func NewGitHubClient(httpClient *http.Client, baseURL, token string) (*github.Client, error) {
	client := github.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("configure GitHub Enterprise URL %s: %w", baseURL, err)
		}
	}
	return client, nil
}

func NewGitHub(client *github.Client, target Target, log *zap.SugaredLogger) *GitHub {
	if log == nil {
		log = zap.S()
	}
	return &GitHub{client: client, target: target, log: log}
}

func (g *GitHub) Open(ctx context.Context, r *CheckReport) error {
	if !g.target.valid() {
		return g.fail("open", errors.New("repository owner, name and head commit are required"))
	}
	opts := github.CreateCheckRunOptions{
		Name:       r.Name,
		HeadSHA:    g.target.HeadSHA,
		ExternalID: github.Ptr(r.Resource.Namespace + "/" + r.Resource.Name),
		Status:     github.Ptr(string(r.Status)),
		StartedAt:  &github.Timestamp{Time: r.StartedAt},
		Output: &github.CheckRunOutput{
			Title:   github.Ptr(r.Title),
			Summary: github.Ptr(r.Summary),
		},
	}
	run, _, err := g.client.Checks.CreateCheckRun(ctx, g.target.Owner, g.target.Repo, opts)
	if err != nil {
		return g.fail("open", err)
	}
	r.CheckRunID = run.GetID()
	g.log.Debugw("Created check run", "id", r.CheckRunID, "owner", g.target.Owner, "repo", g.target.Repo)
	return nil
}

func (g *GitHub) Close(ctx context.Context, r *CheckReport) error {
	if r.CheckRunID == 0 {
		return g.fail("close", errors.New("check run was never opened"))
	}
	output := &github.CheckRunOutput{
		Title:   github.Ptr(r.Title),
		Summary: github.Ptr(r.Summary),
	}
	if r.Text != "" {
		output.Text = github.Ptr(truncate(r.Text, maxOutputText))
	}
	opts := github.UpdateCheckRunOptions{
		Name:        r.Name,
		Status:      github.Ptr(string(r.Status)),
		CompletedAt: &github.Timestamp{Time: r.CompletedAt},
		Output:      output,
	}
	if r.Conclusion != ConclusionNone {
		opts.Conclusion = github.Ptr(string(r.Conclusion))
	}
	if _, _, err := g.client.Checks.UpdateCheckRun(ctx, g.target.Owner, g.target.Repo, r.CheckRunID, opts); err != nil {
		return g.fail("close", err)
	}
	g.log.Debugw("Completed check run", "id", r.CheckRunID, "conclusion", r.Conclusion)
	return nil
}

func (g *GitHub) fail(phase string, err error) error {
	metrics.ReportFailures.WithLabelValues("github", phase).Inc()
	return fmt.Errorf("%w: github check run %s: %w", ErrReportingFailed, phase, err)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
