package naming

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/validation"
)

func TestLabelValue(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"already valid", "release-pipeline", "release-pipeline"},
		{"uppercase to lowercase", "UPPERCASE", "uppercase"},
		{"branch with slash", "feature/JIRA-123_fix", "feature-jira-123_fix"},
		{"keeps dots and underscores", "v1.2_rc", "v1.2_rc"},
		{"leading and trailing separators", "__main--", "main"},
		{"only special chars", "/// ---", ""},
		{"commit sha", "8f3c2a1b9d4e5f60718293a4b5c6d7e8f9012345", "8f3c2a1b9d4e5f60718293a4b5c6d7e8f9012345"},
		{"consecutive separators collapsed", "a//b..c", "a-b.c"},
		{"unicode replaced", "déploy", "d-ploy"},
		{"truncated to 63", strings.Repeat("a", 80), strings.Repeat("a", 63)},
		{"truncation trims trailing separator", strings.Repeat("a", 62) + "-b", strings.Repeat("a", 62)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := LabelValue(tt.input)
			require.Equal(t, tt.expected, result)
			require.Empty(t, validation.IsValidLabelValue(result))
		})
	}
}

func TestGenerateName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		fallback string
		expected string
	}{
		{"job name", "Release Job/main", "PipelineRun", "release-job-main-"},
		{"dots are not allowed in run names", "deploy.prod", "PipelineRun", "deploy-prod-"},
		{"empty uses fallback", "", "PipelineRun", "pipelinerun-"},
		{"unusable uses fallback", "///", "TaskRun", "taskrun-"},
		{"nothing usable", "", "", "run-"},
		{"long job name truncated", strings.Repeat("x", 100), "", strings.Repeat("x", 57) + "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GenerateName(tt.input, tt.fallback)
			require.Equal(t, tt.expected, result)
			require.Empty(t, validation.IsDNS1123Label(result+"abcde"))
		})
	}
}
