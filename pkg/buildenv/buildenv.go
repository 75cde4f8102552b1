// Package buildenv derives the build context of the calling CI job from its
// environment variables.
package buildenv

import (
	"net/url"
	"strings"
)

// Parameter names injected into PipelineRuns.
const (
	ParamBuildID     = "BUILD_ID"
	ParamJobName     = "JOB_NAME"
	ParamPullBaseRef = "PULL_BASE_REF"
	ParamPullBaseSHA = "PULL_BASE_SHA"
	ParamRepoURL     = "REPO_URL"
	ParamRepoOwner   = "REPO_OWNER"
	ParamRepoName    = "REPO_NAME"
)

// Environment variable names read from the calling job.
const (
	EnvBuildID   = "BUILD_ID"
	EnvJobName   = "JOB_NAME"
	EnvGitCommit = "GIT_COMMIT"
	EnvGitBranch = "GIT_BRANCH"
	EnvGitURL    = "GIT_URL"
)

// Context is the build context of one job execution. Missing values are
// empty strings.
type Context struct {
	BuildID   string
	JobName   string
	GitCommit string
	// Branch is the last path segment of GIT_BRANCH, e.g. "main" for "origin/main".
	Branch    string
	RepoURL   string
	RepoOwner string
	RepoName  string
}

// Environ converts os.Environ style KEY=VALUE pairs to a map. Later entries win.
func Environ(pairs []string) map[string]string {
	env := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}

// FromEnv reads the build context from env.
func FromEnv(env map[string]string) Context {
	owner, name := ParseRepo(env[EnvGitURL])
	return Context{
		BuildID:   env[EnvBuildID],
		JobName:   env[EnvJobName],
		GitCommit: env[EnvGitCommit],
		Branch:    branchTail(env[EnvGitBranch]),
		RepoURL:   env[EnvGitURL],
		RepoOwner: owner,
		RepoName:  name,
	}
}

// Params returns the parameters injected into PipelineRuns, in a stable order.
func (c Context) Params() []Param {
	return []Param{
		{Name: ParamBuildID, Value: c.BuildID},
		{Name: ParamJobName, Value: c.JobName},
		{Name: ParamPullBaseRef, Value: c.Branch},
		{Name: ParamPullBaseSHA, Value: c.GitCommit},
		{Name: ParamRepoURL, Value: c.RepoURL},
		{Name: ParamRepoOwner, Value: c.RepoOwner},
		{Name: ParamRepoName, Value: c.RepoName},
	}
}

// Param is a single name/value pair of the build context.
type Param struct {
	Name  string
	Value string
}

func branchTail(branch string) string {
	if i := strings.LastIndex(branch, "/"); i >= 0 {
		return branch[i+1:]
	}
	return branch
}

// ParseRepo extracts owner and repository name from a git remote URL. It
// understands URLs with a scheme (https, ssh, git) and scp-like remotes such
// as git@github.com:owner/repo.git. Owner keeps nested groups, e.g.
// "group/subgroup" for GitLab. Unparsable input yields empty strings.
func ParseRepo(remote string) (owner, name string) {
	remote = strings.TrimSpace(remote)
	if remote == "" {
		return "", ""
	}

	var path string
	if strings.Contains(remote, "://") {
		u, err := url.Parse(remote)
		if err != nil {
			return "", ""
		}
		path = u.Path
	} else if at := strings.Index(remote, ":"); at > 0 && !strings.Contains(remote[:at], "/") {
		// scp-like syntax: [user@]host:path
		path = remote[at+1:]
	} else {
		return "", ""
	}

	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".git")
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return "", ""
	}
	return path[:i], path[i+1:]
}
