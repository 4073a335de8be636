package chunking

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxTokens     = 1000
	DefaultCharsPerToken = 4

	paragraphSeparator = "\n\n"
)

// Splitter approximates a token budget with a character budget of
// MaxTokens*CharsPerToken runes.
type Splitter struct {
	MaxTokens     int
	CharsPerToken int
}

func NewSplitter(maxTokens, charsPerToken int) *Splitter {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &Splitter{
		MaxTokens:     maxTokens,
		CharsPerToken: charsPerToken,
	}
}

func (s *Splitter) MaxChars() int {
	return s.MaxTokens * s.CharsPerToken
}

func (s *Splitter) Split(text string) []string {
	return Chunk(text, s.MaxTokens, s.CharsPerToken)
}

// Chunk splits text into pieces of at most maxTokens*charsPerToken runes.
// Text within the bound comes back as a single chunk, including "".
// Longer text is packed paragraph by paragraph; a paragraph longer than the
// bound is cut into fixed windows. Nothing is dropped.
func Chunk(text string, maxTokens, charsPerToken int) []string {
	maxChars := maxTokens * charsPerToken
	if maxChars <= 0 {
		maxChars = DefaultMaxTokens * DefaultCharsPerToken
	}

	var out []string
	for _, group := range packParagraphs(text, maxChars) {
		out = append(out, group...)
	}
	return out
}

// packParagraphs returns packed chunks, each already cut into windows.
// Groups were separated by a paragraph separator in the input; windows of
// one group are contiguous.
func packParagraphs(text string, maxChars int) [][]string {
	if runeLen(text) <= maxChars {
		return [][]string{{text}}
	}

	var packed []string
	var current strings.Builder
	currentLen := 0
	started := false
	sepLen := runeLen(paragraphSeparator)

	for _, para := range strings.Split(text, paragraphSeparator) {
		paraLen := runeLen(para)
		if !started {
			current.WriteString(para)
			currentLen = paraLen
			started = true
			continue
		}
		if currentLen+sepLen+paraLen > maxChars {
			packed = append(packed, current.String())
			current.Reset()
			current.WriteString(para)
			currentLen = paraLen
			continue
		}
		current.WriteString(paragraphSeparator)
		current.WriteString(para)
		currentLen += sepLen + paraLen
	}
	packed = append(packed, current.String())

	groups := make([][]string, 0, len(packed))
	for _, chunk := range packed {
		groups = append(groups, hardSplit(chunk, maxChars))
	}
	return groups
}

// hardSplit cuts on rune boundaries by byte offset so the windows concatenate
// back to the exact input bytes.
func hardSplit(chunk string, maxChars int) []string {
	if runeLen(chunk) <= maxChars {
		return []string{chunk}
	}
	var out []string
	start, count := 0, 0
	for offset := range chunk {
		if count == maxChars {
			out = append(out, chunk[start:offset])
			start, count = offset, 0
		}
		count++
	}
	return append(out, chunk[start:])
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
