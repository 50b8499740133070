package pdf

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageCount(t *testing.T) {
	n, err := PageCount(SamplePDF(3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPageCount_InvalidInput(t *testing.T) {
	_, err := PageCount(nil)
	assert.ErrorIs(t, err, ErrInvalidPDF)

	_, err = PageCount([]byte("not a pdf"))
	assert.ErrorIs(t, err, ErrInvalidPDF)
}

func TestSeparatePages(t *testing.T) {
	pages, err := SeparatePages(SamplePDF(3))
	require.NoError(t, err)
	require.Len(t, pages, 3)

	for _, page := range pages {
		n, err := PageCount(page)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
}

func TestSeparateThenMerge(t *testing.T) {
	pages, err := SeparatePages(SamplePDF(4))
	require.NoError(t, err)

	merged, err := MergePages(pages[1:3])
	require.NoError(t, err)

	n, err := PageCount(merged)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMergePages_SinglePageIsCopied(t *testing.T) {
	page := SamplePDF(1)
	merged, err := MergePages([][]byte{page})
	require.NoError(t, err)
	assert.Equal(t, page, merged)

	merged[0] = 'X'
	assert.NotEqual(t, page[0], merged[0])
}

func TestMergePages_Empty(t *testing.T) {
	_, err := MergePages(nil)
	assert.ErrorIs(t, err, ErrInvalidPDF)

	_, err = MergePages([][]byte{SamplePDF(1), {}})
	assert.ErrorIs(t, err, ErrInvalidPDF)
}

func TestBase64RoundTrip(t *testing.T) {
	doc := SamplePDF(1)

	decoded, err := Base64ToPDF(PDFToBase64(doc))
	require.NoError(t, err)
	assert.Equal(t, doc, decoded)

	decoded, err = Base64ToPDF(base64.RawURLEncoding.EncodeToString(doc))
	require.NoError(t, err)
	assert.Equal(t, doc, decoded)
}

func TestBase64ToPDF_Invalid(t *testing.T) {
	_, err := Base64ToPDF("***")
	assert.Error(t, err)
}
