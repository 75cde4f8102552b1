// Package resource classifies raw Tekton documents. It reads just enough of a
// YAML or JSON document to decide which of the supported kinds it declares.
package resource
