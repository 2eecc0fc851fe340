package textprep

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrInvalidChunking indicates invalid chunking parameters.
var ErrInvalidChunking = errors.New("invalid chunking parameters")

// charsPerToken approximates the token length of text. Good enough for
// sizing chunks; the embedding endpoint truncates pathological outliers.
const charsPerToken = 4

// boundaryTailFraction is the share of the window, counted from its end, in
// which a sentence or line boundary is preferred over a hard cut.
const boundaryTailFraction = 0.3

// ChunkOptions control the sliding-window chunker.
type ChunkOptions struct {
	// SizeTokens is the target chunk size in approximate tokens.
	SizeTokens int

	// OverlapTokens is the overlap between adjacent chunks. Must be
	// smaller than SizeTokens.
	OverlapTokens int
}

// Validate validates the options.
func (o ChunkOptions) Validate() error {
	if o.SizeTokens <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidChunking, o.SizeTokens)
	}
	if o.OverlapTokens <= 0 {
		return fmt.Errorf("%w: overlap must be positive, got %d", ErrInvalidChunking, o.OverlapTokens)
	}
	if o.OverlapTokens >= o.SizeTokens {
		return fmt.Errorf("%w: overlap (%d) must be smaller than size (%d)", ErrInvalidChunking, o.OverlapTokens, o.SizeTokens)
	}
	return nil
}

// Chunk splits text into overlapping chunks of roughly SizeTokens tokens.
//
// Windows prefer to end at the last sentence or line boundary found in the
// tail of the window, so chunks avoid splitting mid-sentence. The window
// always advances by at least one character, so progress is guaranteed even
// on pathological input. Returned chunks are trimmed and never empty.
func Chunk(text string, opts ChunkOptions) ([]string, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}

	sizeChars := opts.SizeTokens * charsPerToken
	strideChars := (opts.SizeTokens - opts.OverlapTokens) * charsPerToken

	if len(trimmed) <= sizeChars {
		return []string{trimmed}, nil
	}

	var chunks []string
	start := 0
	for start < len(trimmed) {
		end := start + sizeChars
		if end >= len(trimmed) {
			end = len(trimmed)
		} else {
			end = snapToRuneStart(trimmed, preferBoundary(trimmed, start, end))
		}
		if end <= start {
			_, w := utf8.DecodeRuneInString(trimmed[start:])
			end = start + w
		}

		chunk := strings.TrimSpace(trimmed[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(trimmed) {
			break
		}

		next := snapToRuneStart(trimmed, start+strideChars)
		if next <= start {
			_, w := utf8.DecodeRuneInString(trimmed[start:])
			next = start + w
		}
		start = next
	}

	return chunks, nil
}

// snapToRuneStart moves i backward to the nearest rune boundary so slicing
// at i never splits a multi-byte rune.
func snapToRuneStart(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// preferBoundary moves end backward to the last sentence or newline boundary
// in the tail of the window, when one exists past its first 70%.
func preferBoundary(text string, start, end int) int {
	window := text[start:end]
	threshold := int(float64(len(window)) * (1 - boundaryTailFraction))

	boundary := -1
	for _, sep := range []string{". ", ".\n", "! ", "? ", "\n"} {
		if idx := strings.LastIndex(window, sep); idx > boundary {
			boundary = idx + len(sep) - 1
		}
	}

	if boundary > threshold {
		return start + boundary + 1
	}
	return end
}
