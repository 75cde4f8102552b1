package naming

import (
	"regexp"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
)

var (
	invalidChars = regexp.MustCompile(`[^a-z0-9\-._]`)
	dashRuns     = regexp.MustCompile(`-+`)
	dotRuns      = regexp.MustCompile(`\.+`)
)

// generatedSuffixLength is the length of the random suffix the API server
// appends to a generateName prefix.
const generatedSuffixLength = 5

// LabelValue converts s to a valid label value: lowercased, invalid
// characters replaced by '-', at most 63 characters, alphanumeric at both
// ends. It returns "" when nothing usable is left.
func LabelValue(s string) string {
	return sanitize(s, invalidChars, validation.LabelValueMaxLength)
}

var invalidNameChars = regexp.MustCompile(`[^a-z0-9\-]`)

// GenerateName derives a generateName prefix for a run from s, falling back
// to fallback and finally to "run". The result ends in '-' and, together
// with the generated suffix, is a valid DNS-1123 label.
//
//	GenerateName("Release Job/main", "PipelineRun") == "release-job-main-"
func GenerateName(s, fallback string) string {
	limit := validation.DNS1123LabelMaxLength - generatedSuffixLength - 1
	for _, candidate := range []string{s, fallback} {
		if p := sanitize(candidate, invalidNameChars, limit); p != "" {
			return p + "-"
		}
	}
	return "run-"
}

func sanitize(s string, invalid *regexp.Regexp, limit int) string {
	s = strings.ToLower(s)
	s = invalid.ReplaceAllString(s, "-")
	s = dashRuns.ReplaceAllString(s, "-")
	s = dotRuns.ReplaceAllString(s, ".")
	s = trimNonAlnum(s)
	if len(s) > limit {
		s = trimNonAlnum(s[:limit])
	}
	return s
}

func trimNonAlnum(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
}
