package volume

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brogergvhs/mangabind/internal/manga"
)

func completeJob(t *testing.T, chapters, divisor int) *manga.Job {
	t.Helper()
	j := manga.NewJob("https://reader.example/m/1", "Title: Sub", "/out/Title Sub", divisor)
	for i := 0; i < chapters; i++ {
		j.Chapters = append(j.Chapters, manga.Chapter{
			Title:     fmt.Sprintf("Chapter %d", i+1),
			SourceRef: fmt.Sprintf("ref/%d", i+1),
			Number:    i + 1,
		})
	}
	for i := 0; i < chapters; i++ {
		require.NoError(t, j.CompleteChapter(i, []string{fmt.Sprintf("%03d_p001.jpg", i)}))
	}
	return j
}

func ranges(bs []Batch) [][2]int {
	out := make([][2]int, len(bs))
	for i, b := range bs {
		out[i] = [2]int{b.StartChapter, b.EndChapter}
	}
	return out
}

func TestPartition_FixedBucketsWithRemainder(t *testing.T) {
	bs, err := Partition(completeJob(t, 12, 5))
	require.NoError(t, err)

	assert.Equal(t, [][2]int{{0, 4}, {5, 9}, {10, 11}}, ranges(bs))
	assert.Equal(t, "Title Sub - 1-5", bs[0].Name)
	assert.Equal(t, "Title Sub - 11-12", bs[2].Name)
	assert.Len(t, bs[2].Sections, 2)
	assert.Equal(t, []string{"010_p001.jpg", "011_p001.jpg"}, bs[2].Images)
}

func TestPartition_ZeroDivisorIsSingleBatch(t *testing.T) {
	bs, err := Partition(completeJob(t, 7, 0))
	require.NoError(t, err)

	require.Len(t, bs, 1)
	assert.Equal(t, [2]int{0, 6}, [2]int{bs[0].StartChapter, bs[0].EndChapter})
	assert.Equal(t, "Title Sub", bs[0].Name)
	assert.Len(t, bs[0].Images, 7)
}

func TestPartition_DivisorLargerThanJob(t *testing.T) {
	bs, err := Partition(completeJob(t, 3, 10))
	require.NoError(t, err)
	require.Len(t, bs, 1)
	assert.Equal(t, "Title Sub", bs[0].Name)
}

func TestPartition_ExactMultiple(t *testing.T) {
	bs, err := Partition(completeJob(t, 4, 2))
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 1}, {2, 3}}, ranges(bs))
}

func TestPartition_CoverOnlyInFirstBatch(t *testing.T) {
	j := completeJob(t, 4, 2)
	j.CoverPath = "/out/Title Sub/cover.jpg"

	bs, err := Partition(j)
	require.NoError(t, err)

	assert.Equal(t, j.CoverPath, bs[0].Images[0])
	assert.Equal(t, j.CoverPath, bs[0].Cover)
	assert.Len(t, bs[0].Images, 3)
	assert.Empty(t, bs[1].Cover)
	assert.NotContains(t, bs[1].Images, j.CoverPath)
}

func TestPartition_CoversEveryPageOnce(t *testing.T) {
	j := completeJob(t, 9, 4)
	bs, err := Partition(j)
	require.NoError(t, err)

	var all []string
	for i, b := range bs {
		assert.Equal(t, i, b.Index)
		all = append(all, b.Images...)
	}
	var want []string
	for _, ch := range j.Chapters {
		want = append(want, ch.Pages...)
	}
	assert.Equal(t, want, all)
}

func TestPartition_RejectsIncompleteJob(t *testing.T) {
	j := completeJob(t, 0, 2)
	j.Chapters = append(j.Chapters, manga.Chapter{Title: "c", SourceRef: "r"})

	_, err := Partition(j)
	assert.ErrorIs(t, err, ErrIncomplete)
}
