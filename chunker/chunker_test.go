package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"docrag/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sentences(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "Sentence number %03d talks about the report.", i)
	}
	return b.String()
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s := New()
		assert.Equal(t, DefaultChunkSize, s.ChunkSize())
		assert.Equal(t, DefaultChunkOverlap, s.Overlap())
	})

	t.Run("overlap clamped when not smaller than size", func(t *testing.T) {
		s := New(WithChunkSize(100), WithOverlap(150))
		assert.Equal(t, 25, s.Overlap())
	})

	t.Run("invalid values ignored", func(t *testing.T) {
		s := New(WithChunkSize(0), WithOverlap(-1))
		assert.Equal(t, DefaultChunkSize, s.ChunkSize())
		assert.Equal(t, DefaultChunkOverlap, s.Overlap())
	})
}

func TestSplitText_Empty(t *testing.T) {
	assert.Empty(t, New().SplitText(""))
	assert.Empty(t, New().SplitText(" \n\n\t "))
}

func TestSplitText_SmallTextIsOneChunk(t *testing.T) {
	chunks := New().SplitText("Title: Quarterly Report\n\nRevenue grew.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Title: Quarterly Report\n\nRevenue grew.", chunks[0])
}

func TestSplitText_RespectsSize(t *testing.T) {
	text := sentences(200)
	s := New(WithChunkSize(300), WithOverlap(50))

	chunks := s.SplitText(text)
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 300, "chunk %d too long", i)
		assert.NotEmpty(t, strings.TrimSpace(c))
	}
}

func TestSplitText_Deterministic(t *testing.T) {
	text := sentences(120) + "\n\n" + sentences(40)
	s := New(WithChunkSize(400), WithOverlap(100))

	assert.Equal(t, s.SplitText(text), s.SplitText(text))
}

func TestSplitText_ChunksAppearInOrder(t *testing.T) {
	text := sentences(150)
	s := New(WithChunkSize(500), WithOverlap(120))

	chunks := s.SplitText(text)
	require.Greater(t, len(chunks), 1)

	prev := -1
	for i, c := range chunks {
		idx := strings.Index(text[prev+1:], c)
		require.GreaterOrEqual(t, idx, 0, "chunk %d is not a substring after the previous chunk", i)
		prev = prev + 1 + idx
	}
	assert.True(t, strings.HasPrefix(text, chunks[0]))
	assert.True(t, strings.HasSuffix(text, chunks[len(chunks)-1]))
}

func TestSplitText_CarriesOverlap(t *testing.T) {
	text := sentences(60)
	s := New(WithChunkSize(400), WithOverlap(100))

	chunks := s.SplitText(text)
	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		// The next chunk opens with the tail of the previous one.
		head := strings.SplitN(chunks[i], ".", 2)[0]
		assert.Contains(t, chunks[i-1], head, "chunk %d does not overlap its predecessor", i)
	}
}

func TestSplitText_PrefersParagraphBoundary(t *testing.T) {
	p1 := strings.Repeat("alpha ", 50)
	p2 := strings.Repeat("beta ", 50)
	text := strings.TrimSpace(p1) + "\n\n" + strings.TrimSpace(p2)

	chunks := New(WithChunkSize(320), WithOverlap(0)).SplitText(text)
	require.Len(t, chunks, 2)
	assert.NotContains(t, chunks[0], "beta")
	assert.NotContains(t, chunks[1], "alpha")
}

func TestSplitText_FallsBackToCharacters(t *testing.T) {
	text := strings.Repeat("x", 250)

	chunks := New(WithChunkSize(100), WithOverlap(20)).SplitText(text)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 100)
	}
}

func TestSplitText_MultibyteMeasuredInRunes(t *testing.T) {
	text := strings.Repeat("Документ про звіт. ", 80)

	for _, c := range New(WithChunkSize(200), WithOverlap(40)).SplitText(text) {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 200)
		assert.True(t, utf8.ValidString(c))
	}
}

func TestSplitPages_StampsDocumentID(t *testing.T) {
	docID := uuid.New()
	pages := []types.Page{
		{Text: sentences(30), Metadata: map[string]string{types.MetaSource: "pdf", types.MetaPage: "1"}},
		{Text: sentences(30), Metadata: map[string]string{types.MetaSource: "pdf", types.MetaPage: "2"}},
	}

	chunks := New(WithChunkSize(500), WithOverlap(100)).SplitPages(docID, pages)
	require.NotEmpty(t, chunks)

	seenPages := map[string]bool{}
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, docID, c.DocumentID)
		assert.Equal(t, docID.String(), c.Metadata.DocumentID)
		assert.Equal(t, "pdf", c.Metadata.Get(types.MetaSource))
		assert.Equal(t, fmt.Sprint(i), c.Metadata.Get(types.MetaChunkIndex))
		seenPages[c.Metadata.Get(types.MetaPage)] = true
	}
	assert.True(t, seenPages["1"])
	assert.True(t, seenPages["2"])
}

func TestSplitPages_ThreePageDocument(t *testing.T) {
	// 2500 characters over three pages with size 1000 / overlap 200.
	page := strings.Repeat("abcd efgh ", 84)[:833]
	pages := []types.Page{{Text: page}, {Text: page}, {Text: page + "z"}}

	chunks := New(WithChunkSize(1000), WithOverlap(200)).SplitPages(uuid.New(), pages)
	assert.GreaterOrEqual(t, len(chunks), 3)
	assert.LessOrEqual(t, len(chunks), 4)
	for _, c := range chunks {
		assert.NotEmpty(t, c.Metadata.DocumentID)
	}
}

func TestSplitText_KeepsEveryCharacter(t *testing.T) {
	cases := map[string]struct {
		text          string
		size, overlap int
	}{
		"sentence boundary": {strings.Repeat("a", 600) + ". " + strings.Repeat("b", 600) + ".", 1000, 100},
		"many sentences":    {sentences(90), 300, 60},
		"paragraphs":        {sentences(20) + "\n\n" + sentences(20) + "\n" + sentences(10), 400, 80},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			chunks := New(WithChunkSize(tc.size), WithOverlap(tc.overlap)).SplitText(tc.text)
			require.Greater(t, len(chunks), 1)

			covered := make([]bool, len(tc.text))
			from := 0
			for i, c := range chunks {
				idx := strings.Index(tc.text[from:], c)
				require.GreaterOrEqual(t, idx, 0, "chunk %d not found in order", i)
				start := from + idx
				for j := start; j < start+len(c); j++ {
					covered[j] = true
				}
				from = start + 1
			}
			for j, r := range []byte(tc.text) {
				if r != ' ' && r != '\n' {
					require.True(t, covered[j], "character %q at %d lost", r, j)
				}
			}
		})
	}
}

func TestSplitText_SentenceKeepsItsPeriod(t *testing.T) {
	text := strings.Repeat("a", 600) + ". " + strings.Repeat("b", 600) + "."

	chunks := New(WithChunkSize(1000), WithOverlap(100)).SplitText(text)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 600)+".", chunks[0])
	assert.Equal(t, strings.Repeat("b", 600)+".", chunks[1])
}
