package manga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jobWithChapters(n int) *Job {
	j := NewJob("https://example.com/manga/x/read/1", "X", "/tmp/x", 0)
	for i := 0; i < n; i++ {
		j.Chapters = append(j.Chapters, Chapter{Title: "c", SourceRef: "ref", Number: i + 1})
	}
	return j
}

func TestCompleteChapter_Sequential(t *testing.T) {
	j := jobWithChapters(2)

	require.NoError(t, j.CompleteChapter(0, []string{"a"}))
	assert.Equal(t, 0, j.ResumeIndex)
	assert.False(t, j.Complete())

	require.Error(t, j.CompleteChapter(0, []string{"a"}), "already completed")
	require.NoError(t, j.CompleteChapter(1, []string{"b", "c"}))
	assert.True(t, j.Complete())
	assert.Equal(t, 3, j.PageCount())
}

func TestCompleteChapter_RejectsSkipsAndEmptyPages(t *testing.T) {
	j := jobWithChapters(3)

	assert.Error(t, j.CompleteChapter(1, []string{"a"}))
	assert.Error(t, j.CompleteChapter(0, nil))
	assert.Equal(t, NoChapter, j.ResumeIndex)
}

func TestValidate(t *testing.T) {
	j := jobWithChapters(2)
	require.NoError(t, j.Validate())

	j.ResumeIndex = 2
	assert.Error(t, j.Validate())

	j.ResumeIndex = 0
	assert.Error(t, j.Validate(), "completed chapter without pages")

	j.Chapters[0].Pages = []string{"p"}
	assert.NoError(t, j.Validate())

	j.Title = " "
	assert.Error(t, j.Validate())
}

func TestAuthorFallsBackToArtist(t *testing.T) {
	j := jobWithChapters(0)
	j.Metadata["artist"] = "Artist"
	assert.Equal(t, "Artist", j.Author())

	j.Metadata["author"] = "Author"
	assert.Equal(t, "Author", j.Author())
}
