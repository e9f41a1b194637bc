package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOpenRelease(t *testing.T) {
	r := NewRegistry()

	ref := r.Create([]byte("png-bytes"), "image/png")
	assert.True(t, ref.IsTransient())
	assert.Equal(t, 1, r.Live())

	img, err := r.Open(ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), img.Data)
	assert.Equal(t, "image/png", img.MIME)

	r.Release(ref)
	assert.Equal(t, 0, r.Live())

	_, err = r.Open(ref)
	assert.ErrorIs(t, err, ErrUnknownRef)

	// Double release is harmless.
	r.Release(ref)
	assert.Equal(t, 0, r.Live())
}

func TestDuplicateSharesBytes(t *testing.T) {
	r := NewRegistry()

	a := r.Create([]byte{1, 2, 3}, "image/jpeg")
	b, err := r.Duplicate(a)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, r.Same(a, b))
	assert.Equal(t, 2, r.Live())

	r.Release(a)
	img, err := r.Open(b)
	require.NoError(t, err, "releasing one handle must keep the other valid")
	assert.Equal(t, []byte{1, 2, 3}, img.Data)

	r.Release(b)
	assert.Equal(t, 0, r.Live())
}

func TestSame(t *testing.T) {
	r := NewRegistry()
	a := r.Create([]byte("x"), "image/png")
	b := r.Create([]byte("x"), "image/png")

	assert.False(t, r.Same(a, b), "equal bytes in separate objects are different images")
	assert.False(t, r.Same(a, ""))
	assert.True(t, r.Same(a, a))
}

func TestDuplicateUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Duplicate(FromID("missing"))
	assert.ErrorIs(t, err, ErrUnknownRef)

	_, err = r.Duplicate(Ref("http://example.com/a.png"))
	assert.ErrorIs(t, err, ErrMalformedRef)
}

func TestEmbedRoundTrip(t *testing.T) {
	r := NewRegistry()
	ref := r.Create([]byte("hello image"), "image/webp")

	embedded, err := r.Embed(ref)
	require.NoError(t, err)
	assert.True(t, embedded.IsEmbedded())
	assert.False(t, embedded.IsTransient())

	img, err := r.Open(embedded)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello image"), img.Data)
	assert.Equal(t, "image/webp", img.MIME)

	dup, err := r.Duplicate(embedded)
	require.NoError(t, err)
	assert.Equal(t, embedded, dup)

	r.Release(embedded)
	assert.Equal(t, 1, r.Live())
}

func TestOpenMalformedData(t *testing.T) {
	r := NewRegistry()

	_, err := r.Open(Ref("data:image/png,rawbytes"))
	assert.ErrorIs(t, err, ErrMalformedRef)

	_, err = r.Open(Ref("data:image/png;base64,!!!"))
	assert.Error(t, err)
}

func TestRefID(t *testing.T) {
	ref := FromID("abc")
	assert.Equal(t, "abc", ref.ID())
	assert.Equal(t, "", Ref("data:x;base64,").ID())
}
