package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSaveStoresOriginalAndThumbnail(t *testing.T) {
	store := NewMemoryStore()
	images := NewImages(store, 1<<20, "/api/v1/media", zap.NewNop())

	img, err := images.Save(context.Background(), "alice", "", pngBytes(t, 640, 100))
	require.NoError(t, err)
	assert.Contains(t, img.Key, "alice/")
	assert.Equal(t, "/api/v1/media/"+img.Key, img.URL)
	assert.True(t, images.IsReference(img.URL))
	require.NotEmpty(t, img.ThumbKey)

	data, ct, err := store.Open(context.Background(), img.Key)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	assert.NotEmpty(t, data)

	thumb, ct, err := store.Open(context.Background(), img.ThumbKey)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ct)
	decoded, _, err := image.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 320, decoded.Bounds().Dx())
}

func TestValidate(t *testing.T) {
	images := NewImages(NewMemoryStore(), 100, "/media", zap.NewNop())

	_, err := images.Validate("image/png", nil)
	assert.True(t, errors.Is(err, ErrInvalidFile))

	_, err = images.Validate("image/png", make([]byte, 101))
	assert.True(t, errors.Is(err, ErrInvalidFile))

	_, err = images.Validate("application/pdf", []byte("%PDF"))
	assert.True(t, errors.Is(err, ErrInvalidFile))

	ct, err := images.Validate("image/JPEG; charset=binary", []byte{0xff, 0xd8})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ct)
}

func TestSaveDataURL(t *testing.T) {
	images := NewImages(NewMemoryStore(), 1<<20, "/media", zap.NewNop())
	raw := pngBytes(t, 10, 10)
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	img, err := images.SaveDataURL(context.Background(), "bob", dataURL)
	require.NoError(t, err)
	assert.Equal(t, len(raw), img.Size)

	_, err = images.SaveDataURL(context.Background(), "bob", "https://example.com/cat.png")
	assert.True(t, errors.Is(err, ErrInvalidFile))
	_, err = images.SaveDataURL(context.Background(), "bob", "data:image/png,notbase64")
	assert.True(t, errors.Is(err, ErrInvalidFile))
}

func TestOwnedBy(t *testing.T) {
	images := NewImages(NewMemoryStore(), 1<<20, "/api/v1/media", zap.NewNop())
	img, err := images.Save(context.Background(), "alice", "", pngBytes(t, 10, 10))
	require.NoError(t, err)

	assert.True(t, images.OwnedBy(img.URL, "alice"))
	assert.False(t, images.OwnedBy(img.URL, "bob"))
	assert.False(t, images.OwnedBy(img.URL, "ali"))
	assert.False(t, images.OwnedBy(img.URL, ""))
	assert.False(t, images.OwnedBy("/api/v1/media/bob/../alice/x.png", "bob"))
	assert.False(t, images.OwnedBy("https://example.com/alice/x.png", "alice"))
}
