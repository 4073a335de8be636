package structure

import (
	"reflect"
	"testing"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
)

func blobs(paths ...string) []domain.TreeEntry {
	out := make([]domain.TreeEntry, 0, len(paths))
	for _, p := range paths {
		out = append(out, domain.TreeEntry{Path: p, Kind: domain.EntryBlob})
	}
	return out
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func TestClassifySampleTree(t *testing.T) {
	tree := Classify(blobs("README.md", "app/main.go", "config/settings.yaml", "tests/x_test.go"))

	if !contains(tree.KeyFiles, "README.md") {
		t.Fatalf("expected README.md in key files, got %v", tree.KeyFiles)
	}
	if !contains(tree.Modules, "app/main.go") {
		t.Fatalf("expected app/main.go in modules, got %v", tree.Modules)
	}
	if contains(tree.Modules, "tests/x_test.go") {
		t.Fatalf("test file must not be a module, got %v", tree.Modules)
	}
	if !contains(tree.Configs, "config/settings.yaml") {
		t.Fatalf("expected config/settings.yaml in configs, got %v", tree.Configs)
	}
}

func TestClassifyIgnoresNonBlobEntries(t *testing.T) {
	tree := Classify([]domain.TreeEntry{
		{Path: "config", Kind: domain.EntryTree},
		{Path: "vendor/lib", Kind: domain.EntryCommit},
	})
	if len(tree.KeyFiles)+len(tree.Modules)+len(tree.Configs) != 0 {
		t.Fatalf("expected empty classification, got %+v", tree)
	}
}

func TestClassifyPathInSeveralSets(t *testing.T) {
	tree := Classify(blobs(".env", "internal/config/config.go"))

	if !contains(tree.KeyFiles, ".env") || !contains(tree.Configs, ".env") {
		t.Fatalf("expected .env in key files and configs, got %+v", tree)
	}
	if !contains(tree.Modules, "internal/config/config.go") || !contains(tree.Configs, "internal/config/config.go") {
		t.Fatalf("expected config.go in modules and configs, got %+v", tree)
	}
}

func TestClassifyIsSortedAndDeduplicated(t *testing.T) {
	tree := Classify(blobs("b.go", "a.go", "b.go", "web/app.spec.ts", "web/app.ts", "web/util.test.js"))

	want := []string{"a.go", "b.go", "web/app.ts"}
	if !reflect.DeepEqual(tree.Modules, want) {
		t.Fatalf("modules = %v, want %v", tree.Modules, want)
	}

	again := Classify(blobs("web/app.ts", "a.go", "b.go"))
	if !reflect.DeepEqual(again.Modules, want) {
		t.Fatalf("classification depends on input order: %v", again.Modules)
	}
}

func TestCandidatesKeepsPriorityOrder(t *testing.T) {
	got := Candidates(domain.ClassifiedTree{
		KeyFiles: []string{".env", "README.md"},
		Configs:  []string{".env", "deploy/app.yaml"},
		Modules:  []string{"main.go"},
	})
	want := []string{".env", "README.md", "deploy/app.yaml", "main.go"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Candidates() = %v, want %v", got, want)
	}
}

func TestShouldSkip(t *testing.T) {
	cases := map[string]bool{
		"docs/logo.PNG":           true,
		"build/app.bin":           true,
		"pkg/handler_test.go":     true,
		"web/app.spec.ts":         true,
		"tests/fixtures/data.txt": true,
		"svc/tests/helper.py":     true,
		"main.go":                 false,
		"README.md":               false,
		"contests/readme.txt":     false,
	}
	for p, want := range cases {
		if got := ShouldSkip(p); got != want {
			t.Fatalf("ShouldSkip(%q) = %v, want %v", p, got, want)
		}
	}
}
