// Package discover finds parseable source files in a repository.
package discover

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/phobologic/safeoverride/internal/lang"
)

// FileEntry represents a discovered source file.
type FileEntry struct {
	Path     string // Relative to repo root
	Language string
	Module   string // Dotted module name, e.g. "pkg.sub.mod"
}

// Options narrows discovery.
type Options struct {
	// Languages restricts results to the listed languages when non-empty.
	Languages []string
	// Exclude skips files and directories whose slash-separated relative
	// path matches any pattern.
	Exclude []glob.Glob
	// SourceRoots are relative directories stripped from paths when
	// computing module names. "." is always implied.
	SourceRoots []string
}

var skipDirs = map[string]struct{}{
	"__pycache__":   {},
	"node_modules":  {},
	".git":          {},
	".hg":           {},
	".svn":          {},
	"venv":          {},
	".venv":         {},
	"env":           {},
	".env":          {},
	"build":         {},
	"dist":          {},
	".tox":          {},
	".mypy_cache":   {},
	".ruff_cache":   {},
	".pytest_cache": {},
	"egg-info":      {},
}

// Files discovers parseable source files under root.
func Files(root string, opts Options) ([]FileEntry, error) {
	langSet := make(map[string]struct{}, len(opts.Languages))
	for _, l := range opts.Languages {
		langSet[l] = struct{}{}
	}
	gitFiles := gitLsFiles(root)
	var gi *ignore.GitIgnore
	if gitFiles == nil {
		gi = loadGitignore(root)
	}

	var results []FileEntry

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip errors
		}

		name := d.Name()

		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if rel, err := filepath.Rel(root, path); err == nil && excluded(opts.Exclude, rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") {
			return nil
		}

		// Skip symlinks
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}

		if gitFiles != nil {
			if _, ok := gitFiles[rel]; !ok {
				return nil
			}
		} else if gi != nil && gi.MatchesPath(rel) {
			return nil
		}

		if excluded(opts.Exclude, rel) {
			return nil
		}

		ext := filepath.Ext(name)
		langName := lang.ForExtension(ext)
		if langName == "" {
			return nil
		}

		if len(langSet) > 0 {
			if _, ok := langSet[langName]; !ok {
				return nil
			}
		}

		results = append(results, FileEntry{
			Path:     rel,
			Language: langName,
			Module:   ModuleName(rel, opts.SourceRoots),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})

	return results, nil
}

func gitLsFiles(root string) map[string]struct{} {
	gitDir := filepath.Join(root, ".git")
	info, err := os.Stat(gitDir)
	if err != nil || !info.IsDir() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	files := make(map[string]struct{})
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" {
			files[line] = struct{}{}
		}
	}
	return files
}

func loadGitignore(root string) *ignore.GitIgnore {
	path := filepath.Join(root, ".gitignore")
	gi, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return nil
	}
	return gi
}

func excluded(patterns []glob.Glob, rel string) bool {
	slashed := filepath.ToSlash(rel)
	for _, g := range patterns {
		if g.Match(slashed) {
			return true
		}
	}
	return false
}

// ModuleName converts a repo-relative Python file path into a dotted module
// name. The longest matching source root is stripped first, and package
// initialisers name their package:
//
//	pkg/sub/mod.py      -> pkg.sub.mod
//	pkg/__init__.py     -> pkg
//	src/pkg/mod.py      -> pkg.mod   (with source root "src")
func ModuleName(rel string, sourceRoots []string) string {
	p := filepath.ToSlash(rel)

	best := ""
	for _, r := range sourceRoots {
		r = strings.Trim(filepath.ToSlash(filepath.Clean(r)), "/")
		if r == "" || r == "." {
			continue
		}
		if strings.HasPrefix(p, r+"/") && len(r) > len(best) {
			best = r
		}
	}
	if best != "" {
		p = strings.TrimPrefix(p, best+"/")
	}

	p = strings.TrimSuffix(p, filepath.Ext(p))
	parts := strings.Split(p, "/")
	if n := len(parts); n > 1 && parts[n-1] == "__init__" {
		parts = parts[:n-1]
	}
	return strings.Join(parts, ".")
}
