package ingestion

import "strings"

// defaultChunkSize is the maximum number of bytes per manual chunk.
const defaultChunkSize = 2000

// defaultChunkOverlap is the number of bytes shared between consecutive chunks.
const defaultChunkOverlap = 200

// defaultSeparators is the ordered list of split boundaries, strongest first.
// The empty string is the hard fallback: cut mid-word when nothing else fits.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// splitter breaks text into overlapping chunks, preferring to cut on the
// strongest available boundary (paragraph, then line, then sentence, then
// word) before falling back to a hard byte cut.
type splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

func newSplitter(size, overlap int) splitter {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	return splitter{chunkSize: size, chunkOverlap: overlap, separators: defaultSeparators}
}

// Split returns the chunks of text, each at most chunkSize bytes.
func (s splitter) Split(text string) []string {
	return s.split(text, s.separators)
}

func (s splitter) split(text string, seps []string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) <= s.chunkSize {
		return []string{strings.TrimSpace(text)}
	}

	// Pick the strongest separator actually present in the text.
	sep := ""
	var rest []string
	for i, cand := range seps {
		if cand == "" {
			sep = cand
			break
		}
		if strings.Contains(text, cand) {
			sep = cand
			rest = seps[i+1:]
			break
		}
	}

	if sep == "" {
		return s.hardCut(text)
	}

	pieces := strings.SplitAfter(text, sep)

	var chunks []string
	var fitting []string
	for _, piece := range pieces {
		if len(piece) <= s.chunkSize {
			fitting = append(fitting, piece)
			continue
		}
		// An oversized piece breaks the window: flush what fits, then
		// recurse into the piece with the weaker separators.
		chunks = append(chunks, s.assemble(fitting)...)
		fitting = nil
		chunks = append(chunks, s.split(piece, rest)...)
	}
	chunks = append(chunks, s.assemble(fitting)...)
	return chunks
}

// assemble greedily merges pieces into chunks of at most chunkSize bytes,
// carrying chunkOverlap bytes of trailing pieces into the next chunk.
func (s splitter) assemble(pieces []string) []string {
	var chunks []string
	var window []string
	total := 0

	for _, piece := range pieces {
		if total+len(piece) > s.chunkSize && total > 0 {
			if chunk := strings.TrimSpace(strings.Join(window, "")); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for total > s.chunkOverlap || (total+len(piece) > s.chunkSize && total > 0) {
				total -= len(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		total += len(piece)
	}
	if chunk := strings.TrimSpace(strings.Join(window, "")); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// hardCut slices text into fixed-size overlapping windows. Last resort when
// no separator is present.
func (s splitter) hardCut(text string) []string {
	var chunks []string
	step := s.chunkSize - s.chunkOverlap
	for start := 0; start < len(text); start += step {
		end := min(start+s.chunkSize, len(text))
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
	}
	return chunks
}
