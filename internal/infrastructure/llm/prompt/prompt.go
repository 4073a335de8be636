// Package prompt renders the answer prompt shared by the generation backends.
package prompt

import (
	"fmt"
	"strings"
)

const DefaultMaxContext = 8

type Options struct {
	// Language, when set, is the language the answer must be written in.
	Language   string
	MaxContext int
}

// BuildAnswer renders question and context blocks into one prompt. Blocks
// past MaxContext are dropped.
func BuildAnswer(question string, contexts []string, opts Options) string {
	limit := opts.MaxContext
	if limit <= 0 {
		limit = DefaultMaxContext
	}
	if len(contexts) > limit {
		contexts = contexts[:limit]
	}

	instruction := "Use the provided context to answer concisely."
	closing := ""
	if lang := strings.TrimSpace(opts.Language); lang != "" {
		instruction = fmt.Sprintf("Use the provided context to answer concisely in %s.", lang)
		closing = fmt.Sprintf("\nAnswer in %s.\n", lang)
	}

	return fmt.Sprintf(`You are a helpful software assistant answering questions about source code repositories.
%s If the answer is not in the context, say you don't have enough information.

Question:
%s

Context:
%s
%s`, instruction, strings.TrimSpace(question), strings.Join(contexts, "\n\n"), closing)
}
