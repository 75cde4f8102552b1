// Package cmd implements the cobra command tree for the tekton-step CLI:
// apply, delete, classify, clusters, version and shell completion.
package cmd
