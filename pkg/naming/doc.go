// Package naming turns build metadata (job names, branches, repository
// names) into values the API server accepts as label values and run name
// prefixes.
package naming
