package knowledge

import "strings"

// splitChunks cuts text into rune-length chunks with the given overlap.
// Cuts prefer the last newline, then the last space, within each window
// so words stay intact.
func splitChunks(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if size <= 0 || len(runes) <= size {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}
	if overlap >= size {
		overlap = 0
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := min(start+size, len(runes))

		// Break at a natural boundary when not at the end of the text.
		if end < len(runes) {
			if cut := lastBoundary(runes[start:end]); cut > 0 {
				end = start + cut
			}
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end == len(runes) {
			break
		}
		start = max(end-overlap, start+1)
	}

	return chunks
}

// lastBoundary returns the index just past the last newline, or failing
// that the last space, in the window. Zero means no boundary was found
// in the second half of the window.
func lastBoundary(window []rune) int {
	half := len(window) / 2
	for i := len(window) - 1; i > half; i-- {
		if window[i] == '\n' {
			return i + 1
		}
	}
	for i := len(window) - 1; i > half; i-- {
		if window[i] == ' ' {
			return i + 1
		}
	}
	return 0
}
