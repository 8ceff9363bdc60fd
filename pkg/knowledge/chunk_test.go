package knowledge

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestSplitChunksShortText(t *testing.T) {
	chunks := splitChunks("short text", 100, 10)
	assert.Equal(t, []string{"short text"}, chunks)

	assert.Nil(t, splitChunks("", 100, 10))
	assert.Nil(t, splitChunks("   ", 100, 10))
}

func TestSplitChunksOverlap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		sb.WriteString("word ")
	}

	chunks := splitChunks(sb.String(), 100, 20)
	require.Greater(t, len(chunks), 3)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 100)
		// Word boundaries are respected.
		assert.True(t, strings.HasSuffix(chunk, "word"), "chunk %q cut mid-word", chunk)
	}

	// Overlap repeats trailing words at the head of the next chunk.
	tail := chunks[0][len(chunks[0])-4:]
	assert.True(t, strings.HasPrefix(chunks[1], tail))
}

func TestSplitChunksPrefersNewlines(t *testing.T) {
	text := strings.Repeat("x", 60) + "\n" + strings.Repeat("y", 60)
	chunks := splitChunks(text, 100, 0)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("x", 60), chunks[0])
	assert.Equal(t, strings.Repeat("y", 60), chunks[1])
}

func TestSplitChunksNoBoundary(t *testing.T) {
	text := strings.Repeat("z", 250)
	chunks := splitChunks(text, 100, 0)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 100)
}

func TestSupportedExtension(t *testing.T) {
	assert.True(t, supportedExtension("notes.md"))
	assert.True(t, supportedExtension("doc.PDF"))
	assert.True(t, supportedExtension("report.docx"))
	assert.False(t, supportedExtension("image.png"))
	assert.False(t, supportedExtension("binary"))
}

func TestReadXlsx(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "name"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "count"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "cats"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 7))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	text, err := readDocument(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, text, "Sheet: Sheet1")
	assert.Contains(t, text, "name\tcount")
	assert.Contains(t, text, "cats\t7")
}

func TestReadDocumentUnsupported(t *testing.T) {
	_, err := readDocument(context.Background(), "file.png")
	require.Error(t, err)
}
