package detect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLayoutThreshold = 0.5

func cleanLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = "A perfectly ordinary line of document text."
	}
	return lines
}

func TestAnalyzeLayout(t *testing.T) {
	t.Run("clean document scores one", func(t *testing.T) {
		content := strings.Join(cleanLines(15), "\n")

		out := AnalyzeLayout(content, testLayoutThreshold)

		require.NotNil(t, out.Score)
		assert.Equal(t, 1.0, *out.Score)
		assert.Empty(t, out.Issues)
		assert.Nil(t, out.Finding)
	})

	t.Run("short document is skipped", func(t *testing.T) {
		out := AnalyzeLayout("one\ntwo\nthree", testLayoutThreshold)

		assert.Nil(t, out.Score)
		assert.Empty(t, out.Issues)
	})

	t.Run("garbled lines are flagged with location", func(t *testing.T) {
		lines := cleanLines(20)
		lines[4] = "Tr@ns@cti*n ||| ~~^^=++ *** @@@"

		out := AnalyzeLayout(strings.Join(lines, "\n"), testLayoutThreshold)

		require.Len(t, out.Issues, 1)
		assert.Equal(t, 5, out.Issues[0].Line)
		assert.Equal(t, issueGarbled, out.Issues[0].Issue)
		require.NotNil(t, out.Score)
		assert.Less(t, *out.Score, 1.0)
	})

	t.Run("heavily garbled document fails threshold", func(t *testing.T) {
		lines := cleanLines(12)
		for i := 2; i < 8; i++ {
			lines[i] = "x]]|||~~^^==++ ** @@ [[ {{ }} <<>>"
		}

		out := AnalyzeLayout(strings.Join(lines, "\n"), testLayoutThreshold)

		require.NotNil(t, out.Finding)
		assert.Equal(t, "layout_irregularity", string(out.Finding.Type))
		require.NotNil(t, out.Score)
		assert.Less(t, *out.Score, testLayoutThreshold)
	})

	t.Run("truncated line continuing in lowercase", func(t *testing.T) {
		lines := cleanLines(12)
		lines[5] = "The transfer description continues past the column boundary and"
		lines[6] = "wraps onto the following line"

		out := AnalyzeLayout(strings.Join(lines, "\n"), testLayoutThreshold)

		require.Len(t, out.Issues, 1)
		assert.Equal(t, 6, out.Issues[0].Line)
		assert.Equal(t, issueTruncated, out.Issues[0].Issue)
	})

	t.Run("misaligned amount in tabular run", func(t *testing.T) {
		lines := cleanLines(6)
		table := []string{
			"check   100.00 paid",
			"check   220.00 paid",
			"check   310.00 paid",
			"check   450.00 paid",
			"check   575.00 paid",
			"check                                             620.00",
		}
		lines = append(lines, table...)

		out := AnalyzeLayout(strings.Join(lines, "\n"), testLayoutThreshold)

		require.Len(t, out.Issues, 1)
		assert.Equal(t, issueMisaligned, out.Issues[0].Issue)
		assert.Equal(t, 12, out.Issues[0].Line)
	})

	t.Run("aligned tabular run is clean", func(t *testing.T) {
		lines := cleanLines(6)
		for i := 0; i < 6; i++ {
			lines = append(lines, "check   100.00 paid")
		}

		out := AnalyzeLayout(strings.Join(lines, "\n"), testLayoutThreshold)

		assert.Empty(t, out.Issues)
	})

	t.Run("empty block mid content", func(t *testing.T) {
		lines := cleanLines(5)
		lines = append(lines, make([]string, 25)...)
		lines = append(lines, cleanLines(5)...)

		out := AnalyzeLayout(strings.Join(lines, "\n"), testLayoutThreshold)

		require.Len(t, out.Issues, 1)
		assert.Contains(t, out.Issues[0].Issue, issueEmptyBlock)
		assert.Equal(t, 6, out.Issues[0].Line)
	})

	t.Run("empty block at page boundary is normal", func(t *testing.T) {
		lines := cleanLines(4)
		lines = append(lines, "Page 1 of 2")
		lines = append(lines, make([]string, 25)...)
		lines = append(lines, "Page 2 of 2")
		lines = append(lines, cleanLines(4)...)

		out := AnalyzeLayout(strings.Join(lines, "\n"), testLayoutThreshold)

		assert.Empty(t, out.Issues)
	})
}
