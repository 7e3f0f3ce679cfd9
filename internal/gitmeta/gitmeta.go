// Package gitmeta extracts repository metadata for upload payloads.
// Every probe is a bounded read: failures degrade to empty values
// and never block a sync.
package gitmeta

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const probeTimeout = 5 * time.Second

// Metadata is everything the upload payload wants to know about
// the repository the transcript was produced in. Fields are empty
// when the probe failed or cwd is not a git repository.
type Metadata struct {
	RemoteURL    string
	Branch       string
	LatestCommit string
	FirstCommit  string
}

// Probe gathers git metadata for cwd. Each lookup runs its own git
// subprocess under a shared deadline; a failed lookup leaves its
// field empty.
func Probe(ctx context.Context, cwd string) Metadata {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var m Metadata
	m.RemoteURL, _ = git(ctx, cwd, "remote", "get-url", "origin")
	m.Branch, _ = git(ctx, cwd, "rev-parse", "--abbrev-ref", "HEAD")
	m.LatestCommit, _ = git(ctx, cwd, "rev-parse", "HEAD")
	if first, err := git(
		ctx, cwd, "rev-list", "--max-parents=0", "HEAD",
	); err == nil {
		// Orphan branches can produce several roots; take the first.
		m.FirstCommit, _, _ = strings.Cut(first, "\n")
	}
	return m
}

func git(
	ctx context.Context, cwd string, args ...string,
) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// RepositoryName returns the base name of the enclosing repository
// root, falling back to the base name of cwd itself.
func RepositoryName(cwd string) string {
	if cwd == "" {
		return ""
	}
	cleaned := filepath.Clean(cwd)
	if root := repoRoot(cleaned); root != "" {
		return filepath.Base(root)
	}
	return filepath.Base(cleaned)
}

// repoRoot walks upward from cwd to the enclosing git repository
// root. Handles standard repos (.git directory) and linked
// worktrees or submodules (.git file pointing at the real gitdir).
func repoRoot(cwd string) string {
	dir := cwd
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		dir = filepath.Dir(dir)
	} else if err != nil {
		return ""
	}

	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() {
				return dir
			}
			if info.Mode().IsRegular() {
				if root := rootFromGitFile(gitPath); root != "" {
					return root
				}
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// rootFromGitFile resolves a "gitdir:" pointer file. Linked
// worktrees keep their real gitdir under <root>/.git/worktrees/<n>,
// so the parent of the .git segment is the primary root.
func rootFromGitFile(gitFilePath string) string {
	b, err := os.ReadFile(gitFilePath)
	if err != nil {
		return ""
	}
	var gitDir string
	const prefix = "gitdir:"
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(line), prefix) {
			gitDir = strings.TrimSpace(line[len(prefix):])
			break
		}
	}
	if gitDir == "" {
		return ""
	}
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Clean(
			filepath.Join(filepath.Dir(gitFilePath), gitDir),
		)
	}

	marker := string(filepath.Separator) + ".git" +
		string(filepath.Separator) + "worktrees" +
		string(filepath.Separator)
	if root, _, found := strings.Cut(gitDir, marker); found && root != "" {
		return filepath.Clean(root)
	}
	if filepath.Base(gitDir) == ".git" {
		return filepath.Dir(gitDir)
	}
	return ""
}

// repositoryTypeMarkers maps marker files to a detected project
// type, checked in order.
var repositoryTypeMarkers = []struct {
	file     string
	repoType string
}{
	{"go.mod", "go"},
	{"package.json", "node"},
	{"Cargo.toml", "rust"},
	{"pyproject.toml", "python"},
	{"requirements.txt", "python"},
	{"pom.xml", "java"},
	{"build.gradle", "java"},
	{"Gemfile", "ruby"},
}

// DetectRepositoryType sniffs the project type from marker files in
// cwd, returning "unknown" when nothing matches.
func DetectRepositoryType(cwd string) string {
	for _, m := range repositoryTypeMarkers {
		if _, err := os.Stat(filepath.Join(cwd, m.file)); err == nil {
			return m.repoType
		}
	}
	return "unknown"
}
