package document

import "strings"

// ChunkOptions bounds the chunker. MaxBytes caps a single chunk;
// MinBytes is the threshold below which adjacent blocks are merged.
type ChunkOptions struct {
	MaxBytes int
	MinBytes int
}

// DefaultChunkOptions are used when the caller passes zero values.
var DefaultChunkOptions = ChunkOptions{MaxBytes: 4096, MinBytes: 256}

// Split breaks content into chunks on blank-line boundaries. Blocks smaller
// than MinBytes are merged with the next block; blocks larger than MaxBytes
// are hard-split. Whitespace-only input yields no chunks.
func Split(content string, opts ChunkOptions) []string {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultChunkOptions.MaxBytes
	}
	if opts.MinBytes <= 0 {
		opts.MinBytes = DefaultChunkOptions.MinBytes
	}

	blocks := splitBlocks(content)
	if len(blocks) == 0 {
		return nil
	}

	var chunks []string
	var buf strings.Builder

	flush := func() {
		if buf.Len() > 0 {
			chunks = append(chunks, buf.String())
			buf.Reset()
		}
	}

	for _, block := range blocks {
		// Oversized block: flush the buffer and hard-split the block.
		if len(block) > opts.MaxBytes {
			flush()
			chunks = append(chunks, hardSplit(block, opts.MaxBytes)...)
			continue
		}

		if buf.Len() > 0 && buf.Len()+len(block)+2 > opts.MaxBytes {
			flush()
		}

		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(block)

		if buf.Len() >= opts.MinBytes {
			flush()
		}
	}
	flush()

	return chunks
}

// EstimateTokens returns a rough token count for content (bytes / 4).
func EstimateTokens(content string) int {
	n := len(content) / 4
	if n == 0 && len(content) > 0 {
		n = 1
	}
	return n
}

// splitBlocks splits content on blank lines, trimming each block and
// dropping empties.
func splitBlocks(content string) []string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	raw := strings.Split(normalized, "\n\n")

	blocks := make([]string, 0, len(raw))
	for _, b := range raw {
		b = strings.TrimSpace(b)
		if b != "" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// hardSplit cuts a block into max-sized pieces, preferring newline boundaries.
func hardSplit(block string, max int) []string {
	var parts []string
	for len(block) > max {
		cut := max
		if idx := strings.LastIndexByte(block[:max], '\n'); idx > max/2 {
			cut = idx
		}
		parts = append(parts, strings.TrimSpace(block[:cut]))
		block = strings.TrimSpace(block[cut:])
	}
	if block != "" {
		parts = append(parts, block)
	}
	return parts
}
