package knowledge

import (
	"strings"

	"webforge/internal/models"
)

// SplitChunks splits content into line-bounded chunks of at most
// models.MaxChunkSize characters. Lines are never split: a single line longer
// than the limit forms a chunk of its own. Joining the chunks with "\n"
// reproduces the content exactly.
func SplitChunks(content string) []string {
	lines := strings.Split(content, "\n")
	var chunks []string
	var cur []string
	curLen := 0
	for _, line := range lines {
		if len(cur) > 0 && curLen+1+len(line) > models.MaxChunkSize {
			chunks = append(chunks, strings.Join(cur, "\n"))
			cur = nil
			curLen = 0
		}
		if len(cur) == 0 {
			curLen = len(line)
		} else {
			curLen += 1 + len(line)
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		chunks = append(chunks, strings.Join(cur, "\n"))
	}
	return chunks
}
