// Package input loads the one resource document an invocation works on.
package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/telekom/tekton-step/pkg/version"
)

// DefaultTimeout bounds a URL download.
const DefaultTimeout = 30 * time.Second

var (
	ErrNoSource        = errors.New("one of --yaml, --file or --url is required")
	ErrMultipleSources = errors.New("only one of --yaml, --file or --url may be set")
)

// Source names where the document comes from. Exactly one field must be set.
type Source struct {
	YAML string
	// File is a path, "-" reads standard input.
	File string
	URL  string
}

// Loader reads documents from a Source.
type Loader struct {
	http  *resty.Client
	stdin io.Reader
}

// Option configures a Loader.
type Option func(*Loader)

// WithHTTPClient replaces the resty client used for URLs.
func WithHTTPClient(c *resty.Client) Option {
	return func(l *Loader) { l.http = c }
}

// WithStdin replaces os.Stdin.
func WithStdin(r io.Reader) Option {
	return func(l *Loader) { l.stdin = r }
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		http: resty.New().
			SetTimeout(DefaultTimeout).
			SetHeader("User-Agent", version.UserAgent()).
			SetHeader("Accept", "application/yaml, application/json;q=0.9, text/plain;q=0.8"),
		stdin: os.Stdin,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the document bytes of src.
func (l *Loader) Load(ctx context.Context, src Source) ([]byte, error) {
	set := 0
	for _, v := range []string{src.YAML, src.File, src.URL} {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	switch {
	case set == 0:
		return nil, ErrNoSource
	case set > 1:
		return nil, ErrMultipleSources
	}

	switch {
	case src.YAML != "":
		return []byte(src.YAML), nil
	case src.File == "-":
		data, err := io.ReadAll(l.stdin)
		if err != nil {
			return nil, fmt.Errorf("read document from stdin: %w", err)
		}
		return data, nil
	case src.File != "":
		data, err := os.ReadFile(src.File)
		if err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		return data, nil
	default:
		return l.fetch(ctx, src.URL)
	}
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := l.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch document %s: %w", url, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("fetch document %s: unexpected status %s", url, resp.Status())
	}
	return resp.Body(), nil
}
