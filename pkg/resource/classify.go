package resource

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"
)

var (
	// ErrUnrecognizedKind is returned for documents whose kind is not one
	// tekton-step can submit.
	ErrUnrecognizedKind = errors.New("unrecognized kind")
	// ErrUnsupportedMultiDocument is returned for streams with more than one
	// resource, JSON arrays and List wrappers. Exactly one resource is
	// processed per invocation.
	ErrUnsupportedMultiDocument = errors.New("multi-document input is not supported")
	// ErrEmptyDocument is returned when the input holds no resource at all.
	ErrEmptyDocument = errors.New("document is empty")
)

// Document is a single classified resource document.
type Document struct {
	// Raw holds the bytes of the one document found in the input.
	Raw        []byte
	Kind       Kind
	APIVersion string

	Name         string
	GenerateName string
	Namespace    string
}

// Classify returns the kind declared by data.
func Classify(data []byte) (Kind, error) {
	doc, err := Parse(data)
	if err != nil {
		return "", err
	}
	return doc.Kind, nil
}

// Parse splits data into YAML documents or JSON values, requires exactly one
// resource and reads its type and object metadata. The apiVersion is not
// checked here; an empty one defaults to APIVersion.
func Parse(data []byte) (*Document, error) {
	raw, err := singleDocument(data)
	if err != nil {
		return nil, err
	}

	var meta metav1.PartialObjectMetadata
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	kind := Kind(meta.Kind)
	if isList(meta.Kind) {
		return nil, fmt.Errorf("%w: %s wraps several resources", ErrUnsupportedMultiDocument, meta.Kind)
	}
	if !kind.Valid() {
		if meta.Kind == "" {
			return nil, fmt.Errorf("%w: document declares no kind", ErrUnrecognizedKind)
		}
		return nil, fmt.Errorf("%w: %q (supported: Task, TaskRun, Pipeline, PipelineRun)", ErrUnrecognizedKind, meta.Kind)
	}

	apiVersion := meta.APIVersion
	if apiVersion == "" {
		apiVersion = APIVersion
	}

	return &Document{
		Raw:          raw,
		Kind:         kind,
		APIVersion:   apiVersion,
		Name:         meta.Name,
		GenerateName: meta.GenerateName,
		Namespace:    meta.Namespace,
	}, nil
}

func singleDocument(data []byte) ([]byte, error) {
	reader := utilyaml.NewYAMLReader(bufio.NewReader(bytes.NewReader(data)))
	var found []byte
	count := 0
	for {
		chunk, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		if isBlank(chunk) {
			continue
		}
		n, err := countObjects(chunk)
		if err != nil {
			return nil, err
		}
		count += n
		if count > 1 {
			return nil, ErrUnsupportedMultiDocument
		}
		if n == 1 {
			found = chunk
		}
	}
	if count == 0 {
		return nil, ErrEmptyDocument
	}
	return found, nil
}

// countObjects decodes chunk as a stream of YAML or JSON values, so that
// concatenated JSON objects without a "---" separator are seen separately.
func countObjects(chunk []byte) (int, error) {
	decoder := utilyaml.NewYAMLOrJSONDecoder(bytes.NewReader(chunk), 4096)
	count := 0
	for {
		var value any
		err := decoder.Decode(&value)
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return 0, fmt.Errorf("parse document: %w", err)
		}
		switch v := value.(type) {
		case nil:
		case []any:
			if len(v) > 0 {
				return 0, fmt.Errorf("%w: document is an array of %d values", ErrUnsupportedMultiDocument, len(v))
			}
		case map[string]any:
			if len(v) == 0 {
				continue
			}
			if items, ok := v["items"].([]any); ok && len(items) > 0 {
				return 0, fmt.Errorf("%w: document holds %d items", ErrUnsupportedMultiDocument, len(items))
			}
			count++
		default:
			count++
		}
	}
}

func isList(kind string) bool {
	return strings.HasSuffix(kind, "List")
}

// isBlank reports whether a YAML chunk only holds whitespace and comments.
func isBlank(chunk []byte) bool {
	for _, line := range bytes.Split(chunk, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if bytes.Equal(line, []byte("---")) {
			continue
		}
		return false
	}
	return true
}
