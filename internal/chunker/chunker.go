// Package chunker splits extracted document text into bounded, overlapping
// chunks at sentence boundaries. Chunking is a pure function of (text, config):
// identical input always yields identical chunk boundaries, which the indexes
// rely on for reproducible re-ingestion.
package chunker

import "strings"

// Config bounds chunk size and overlap, both in estimated tokens.
type Config struct {
	MaxTokens     int
	OverlapTokens int
}

// DefaultConfig matches the sizing the retrieval quality was tuned against:
// ~500-token chunks with ~50 tokens of trailing-sentence overlap.
func DefaultConfig() Config {
	return Config{MaxTokens: 500, OverlapTokens: 50}
}

// TextChunk is one bounded slice of the source text. StartChar/EndChar are
// offsets into the sentence stream of the source text.
type TextChunk struct {
	Content         string
	ChunkIndex      int
	StartChar       int
	EndChar         int
	EstimatedTokens int
}

// EstimateTokens approximates the token count of s as ceil(len(s)/4).
// This is a fixed character-count heuristic, not a real tokenizer; the stored
// token_count column and the chunk boundary computation both depend on it
// staying exactly this.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Split divides text into chunks of at most cfg.MaxTokens estimated tokens.
// Sentences accumulate into a chunk until the budget would be exceeded; the
// flushed chunk then seeds the next one with its maximal trailing run of
// sentences that fits in cfg.OverlapTokens. A single sentence larger than the
// whole budget is split at word boundaries instead (those pieces do not carry
// overlap). Blank input yields no chunks.
func Split(text string, cfg Config) []TextChunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []TextChunk
	var buf []string // sentences in the chunk being built
	var starts []int // start offset of each buffered sentence
	bufTokens := 0
	pos := 0

	for _, sentence := range sentences {
		tokens := EstimateTokens(sentence)

		// A sentence that alone exceeds the budget is split by words.
		if tokens > cfg.MaxTokens && len(buf) == 0 {
			chunks = append(chunks, splitLongSentence(sentence, pos, cfg.MaxTokens)...)
			pos += len(sentence)
			continue
		}

		if bufTokens+tokens > cfg.MaxTokens && len(buf) > 0 {
			chunks = append(chunks, flush(buf, starts[0], pos, bufTokens))

			// Keep the maximal trailing suffix of sentences whose cumulative
			// estimate fits in the overlap budget, preserving order.
			keep, overlap := 0, 0
			for j := len(buf) - 1; j >= 0; j-- {
				st := EstimateTokens(buf[j])
				if overlap+st > cfg.OverlapTokens {
					break
				}
				overlap += st
				keep++
			}
			buf = append(buf[:0:0], buf[len(buf)-keep:]...)
			starts = append(starts[:0:0], starts[len(starts)-keep:]...)
			bufTokens = overlap
		}

		buf = append(buf, sentence)
		starts = append(starts, pos)
		bufTokens += tokens
		pos += len(sentence)
	}

	if len(buf) > 0 {
		chunks = append(chunks, flush(buf, starts[0], pos, bufTokens))
	}

	for i := range chunks {
		chunks[i].ChunkIndex = i
	}
	return chunks
}

func flush(buf []string, start, end, tokens int) TextChunk {
	return TextChunk{
		Content:         strings.TrimSpace(strings.Join(buf, " ")),
		StartChar:       start,
		EndChar:         end,
		EstimatedTokens: tokens,
	}
}

// splitSentences cuts text after sentence-terminal punctuation followed by
// whitespace. The separating whitespace belongs to no sentence. Whitespace-only
// fragments are dropped.
func splitSentences(text string) []string {
	var sentences []string
	start, i := 0, 0
	for i < len(text) {
		c := text[i]
		if (c == '.' || c == '!' || c == '?') && i+1 < len(text) && isSpace(text[i+1]) {
			sentences = append(sentences, text[start:i+1])
			i++
			for i < len(text) && isSpace(text[i]) {
				i++
			}
			start = i
			continue
		}
		i++
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}

	kept := sentences[:0]
	for _, s := range sentences {
		if strings.TrimSpace(s) != "" {
			kept = append(kept, s)
		}
	}
	return kept
}

// splitLongSentence breaks an oversized sentence into consecutive word-level
// sub-chunks, each within maxTokens. ChunkIndex is assigned by the caller.
func splitLongSentence(sentence string, offset, maxTokens int) []TextChunk {
	words := strings.Fields(sentence)
	var chunks []TextChunk
	var current []string
	tokens := 0
	pos := offset

	for _, word := range words {
		wt := EstimateTokens(word)
		if tokens+wt > maxTokens && len(current) > 0 {
			content := strings.Join(current, " ")
			chunks = append(chunks, TextChunk{
				Content:         content,
				StartChar:       pos - len(content),
				EndChar:         pos,
				EstimatedTokens: tokens,
			})
			current = current[:0]
			tokens = 0
		}
		current = append(current, word)
		tokens += wt
		pos += len(word) + 1
	}
	if len(current) > 0 {
		content := strings.Join(current, " ")
		chunks = append(chunks, TextChunk{
			Content:         content,
			StartChar:       pos - len(content),
			EndChar:         pos,
			EstimatedTokens: tokens,
		})
	}
	return chunks
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
