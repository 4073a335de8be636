// Package structure labels repository tree entries by structural role. The
// rules are cheap path heuristics used to prioritize files, not semantic
// analysis: everything here is pure and deterministic for a given tree.
package structure

import (
	"path"
	"sort"
	"strings"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
)

var keyFilenames = map[string]struct{}{
	"README.md":           {},
	"README":              {},
	"README.rst":          {},
	"Dockerfile":          {},
	".env":                {},
	"docker-compose.yml":  {},
	"docker-compose.yaml": {},
	"compose.yml":         {},
	"compose.yaml":        {},
	"requirements.txt":    {},
	"pyproject.toml":      {},
	"Pipfile":             {},
	"setup.py":            {},
	"go.mod":              {},
	"package.json":        {},
	"Cargo.toml":          {},
	"pom.xml":             {},
	"build.gradle":        {},
	"Gemfile":             {},
	"Makefile":            {},
}

var sourceExtensions = []string{
	".py", ".go", ".ts", ".tsx", ".js", ".jsx", ".java", ".rb", ".kt", ".rs",
	".cs", ".php", ".scala", ".swift", ".c", ".cc", ".cpp", ".h",
}

var testStemSuffixes = []string{"_test", ".spec", ".test"}

var configSubstrings = []string{
	"config", "settings", "application.yml", "application.yaml", "application.properties",
}

var configExtensions = []string{".yaml", ".yml", ".toml", ".ini", ".conf", ".env"}

var binaryExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".bmp", ".svg", ".ico", ".webp",
	".pdf", ".zip", ".tar", ".gz", ".tgz", ".7z", ".rar", ".jar",
	".so", ".dll", ".dylib", ".exe", ".bin", ".class",
	".woff", ".woff2", ".ttf",
}

// Classify sorts blob paths into key files, source modules and configs.
func Classify(entries []domain.TreeEntry) domain.ClassifiedTree {
	keyFiles := make(map[string]struct{})
	modules := make(map[string]struct{})
	configs := make(map[string]struct{})

	for _, entry := range entries {
		if !entry.IsBlob() {
			continue
		}
		p := entry.Path
		if IsKeyFile(p) {
			keyFiles[p] = struct{}{}
		}
		if IsModule(p) {
			modules[p] = struct{}{}
		}
		if IsConfig(p) {
			configs[p] = struct{}{}
		}
	}

	return domain.ClassifiedTree{
		KeyFiles: sortedKeys(keyFiles),
		Modules:  sortedKeys(modules),
		Configs:  sortedKeys(configs),
	}
}

// Candidates returns the paths worth indexing in priority order: key files,
// then configs, then modules. Each path appears once.
func Candidates(tree domain.ClassifiedTree) []string {
	total := len(tree.KeyFiles) + len(tree.Configs) + len(tree.Modules)
	seen := make(map[string]struct{}, total)
	out := make([]string, 0, total)
	for _, group := range [][]string{tree.KeyFiles, tree.Configs, tree.Modules} {
		for _, p := range group {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func IsKeyFile(p string) bool {
	_, ok := keyFilenames[path.Base(p)]
	return ok
}

func IsModule(p string) bool {
	name := strings.ToLower(path.Base(p))
	return hasAnySuffix(name, sourceExtensions) && !IsTestFile(p)
}

func IsConfig(p string) bool {
	lower := strings.ToLower(p)
	for _, marker := range configSubstrings {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return hasAnySuffix(path.Base(lower), configExtensions)
}

// IsTestFile reports whether the file name, minus its last extension, ends in
// a test marker (foo_test.go, a.spec.ts, a.test.js).
func IsTestFile(p string) bool {
	name := strings.ToLower(path.Base(p))
	stem := strings.TrimSuffix(name, path.Ext(name))
	return hasAnySuffix(stem, testStemSuffixes)
}

// ShouldSkip reports whether a path is excluded from indexing: binary
// artifacts, test files and anything under a tests directory.
func ShouldSkip(p string) bool {
	lower := strings.ToLower(p)
	if hasAnySuffix(lower, binaryExtensions) {
		return true
	}
	if IsTestFile(lower) {
		return true
	}
	return strings.HasPrefix(lower, "tests/") || strings.Contains(lower, "/tests/")
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
