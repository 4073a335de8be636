package domain

import (
	"errors"
	"fmt"
	"strings"
)

type EntryKind string

const (
	EntryBlob EntryKind = "blob"
	EntryTree EntryKind = "tree"
	// EntryCommit is a submodule pointer.
	EntryCommit EntryKind = "commit"
)

// TreeEntry is one item of a recursive repository tree listing.
type TreeEntry struct {
	Path string    `json:"path"`
	Kind EntryKind `json:"type"`
}

func (e TreeEntry) IsBlob() bool {
	return e.Kind == EntryBlob
}

// Validate rejects entries a source collaborator must never hand to the core.
func (e TreeEntry) Validate() error {
	if strings.TrimSpace(e.Path) == "" {
		return WrapError(ErrInvalidInput, "validate tree entry", errors.New("empty path"))
	}
	switch e.Kind {
	case EntryBlob, EntryTree, EntryCommit:
		return nil
	default:
		return WrapError(ErrInvalidInput, "validate tree entry", fmt.Errorf("unknown kind %q for %s", e.Kind, e.Path))
	}
}

// ClassifiedTree groups blob paths by structural role. Every slice is sorted
// and deduplicated; a path may appear in more than one slice.
type ClassifiedTree struct {
	KeyFiles []string `json:"key_files"`
	Modules  []string `json:"modules"`
	Configs  []string `json:"configs"`
}

type SourceFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// DocumentChunk is a bounded fragment of a file. ChunkID is dense per path,
// starting at 0.
type DocumentChunk struct {
	Path    string `json:"path"`
	ChunkID int    `json:"chunk_id"`
	Text    string `json:"text"`
}
