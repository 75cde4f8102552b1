// Package catalog resolves catalog references ("uses:") in a Tekton document
// by running an external expansion binary over it.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/tekton-step/pkg/metrics"
)

// DefaultBinary is the expansion binary looked up in PATH.
const DefaultBinary = "jx-pipeline-effective"

// ErrCatalogExpansionFailed is the sentinel every expansion error unwraps to.
var ErrCatalogExpansionFailed = errors.New("catalog expansion failed")

// ExpansionError is returned when the binary could not be run or exited
// non-zero. Output holds its combined stdout and stderr.
type ExpansionError struct {
	Output string
	Err    error
}

func (e *ExpansionError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%v: %v", ErrCatalogExpansionFailed, e.Err)
	}
	return fmt.Sprintf("%v: %v\n%s", ErrCatalogExpansionFailed, e.Err, strings.TrimRight(e.Output, "\n"))
}

func (e *ExpansionError) Unwrap() []error {
	return []error{ErrCatalogExpansionFailed, e.Err}
}

// Expander runs the expansion binary.
type Expander struct {
	binary string
	log    *zap.SugaredLogger
}

func NewExpander(binary string, log *zap.SugaredLogger) *Expander {
	if log == nil {
		log = zap.S()
	}
	if binary == "" {
		binary = DefaultBinary
	}
	return &Expander{binary: binary, log: log}
}

// Expand writes doc to a uniquely named file in workingDir, runs
//
//	<binary> -b --add-defaults -f <input> -o <output>
//
// with env added to the process environment and returns the output file's
// content. When workingDir is not a local directory the files are staged in a
// fresh temporary directory instead. Both files are removed afterwards.
func (e *Expander) Expand(ctx context.Context, doc []byte, workingDir string, env map[string]string) ([]byte, error) {
	dir, cleanup, err := e.stagingDir(workingDir)
	if err != nil {
		metrics.CatalogExpansions.WithLabelValues("error").Inc()
		return nil, &ExpansionError{Err: err}
	}
	defer cleanup()

	id := uuid.NewString()
	input := filepath.Join(dir, "tekton-step-"+id+".yaml")
	output := filepath.Join(dir, "tekton-step-"+id+"-effective.yaml")
	defer func() {
		for _, f := range []string{input, output} {
			if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
				e.log.Warnw("Failed to remove catalog expansion file", "file", f, "error", err)
			}
		}
	}()

	if err := os.WriteFile(input, doc, 0o600); err != nil {
		metrics.CatalogExpansions.WithLabelValues("error").Inc()
		return nil, &ExpansionError{Err: fmt.Errorf("write input: %w", err)}
	}

	args := []string{"-b", "--add-defaults", "-f", input, "-o", output}
	log := e.log.With("binary", e.binary, "dir", dir)
	log.Infow("Expanding catalog references", "args", args)

	captured := &lineLogger{log: log}
	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Dir = dir
	cmd.Env = mergeEnv(os.Environ(), env)
	cmd.Stdout = captured.stream("stdout")
	cmd.Stderr = captured.stream("stderr")

	runErr := cmd.Run()
	captured.flush()
	if runErr != nil {
		metrics.CatalogExpansions.WithLabelValues("failed").Inc()
		log.Errorw("Catalog expansion failed", "error", runErr)
		return nil, &ExpansionError{Output: captured.String(), Err: runErr}
	}

	expanded, err := os.ReadFile(output)
	if err != nil {
		metrics.CatalogExpansions.WithLabelValues("error").Inc()
		return nil, &ExpansionError{Output: captured.String(), Err: fmt.Errorf("read output: %w", err)}
	}
	metrics.CatalogExpansions.WithLabelValues("succeeded").Inc()
	return expanded, nil
}

// stagingDir returns workingDir when it is a local directory, or a new
// temporary directory that the returned cleanup removes.
func (e *Expander) stagingDir(workingDir string) (string, func(), error) {
	if workingDir != "" {
		if fi, err := os.Stat(workingDir); err == nil && fi.IsDir() {
			return workingDir, func() {}, nil
		}
		e.log.Infow("Working directory is not local, staging input in a temporary directory", "workingDir", workingDir)
	}
	dir, err := os.MkdirTemp("", "tekton-step-catalog-")
	if err != nil {
		return "", nil, fmt.Errorf("stage input locally: %w", err)
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			e.log.Warnw("Failed to remove staging directory", "dir", dir, "error", err)
		}
	}, nil
}

// mergeEnv appends env to base in a stable order; later entries win in exec.
func mergeEnv(base []string, env map[string]string) []string {
	out := append([]string{}, base...)
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// lineLogger logs subprocess output line by line and keeps a copy of it.
type lineLogger struct {
	log *zap.SugaredLogger

	mu      sync.Mutex
	all     bytes.Buffer
	pending map[string]*bytes.Buffer
}

func (l *lineLogger) stream(name string) *streamWriter {
	return &streamWriter{parent: l, name: name}
}

func (l *lineLogger) write(name string, p []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		l.pending = map[string]*bytes.Buffer{}
	}
	buf, ok := l.pending[name]
	if !ok {
		buf = &bytes.Buffer{}
		l.pending[name] = buf
	}
	buf.Write(p)
	for {
		line, err := buf.ReadString('\n')
		if err != nil {
			// incomplete line, keep it for the next write
			rest := []byte(line)
			buf.Reset()
			buf.Write(rest)
			return
		}
		l.emit(name, strings.TrimRight(line, "\r\n"))
	}
}

func (l *lineLogger) emit(name, line string) {
	l.all.WriteString(line)
	l.all.WriteByte('\n')
	l.log.Infow(line, "stream", name)
}

func (l *lineLogger) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, name := range []string{"stdout", "stderr"} {
		if buf, ok := l.pending[name]; ok && buf.Len() > 0 {
			l.emit(name, buf.String())
			buf.Reset()
		}
	}
}

func (l *lineLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.all.String()
}

type streamWriter struct {
	parent *lineLogger
	name   string
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.parent.write(w.name, p)
	return len(p), nil
}
