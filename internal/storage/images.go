package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var allowedTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Image is a stored image. URL and ThumbURL are stable references served by
// the media endpoint, not direct bucket links.
type Image struct {
	Key      string `json:"key"`
	URL      string `json:"url"`
	ThumbKey string `json:"thumbKey,omitempty"`
	ThumbURL string `json:"thumbUrl,omitempty"`
	Size     int    `json:"size"`
}

// Images validates and stores user images next to a 320px thumbnail.
type Images struct {
	store    Store
	maxBytes int64
	baseURL  string
	log      *zap.Logger
}

func NewImages(store Store, maxBytes int64, baseURL string, log *zap.Logger) *Images {
	return &Images{store: store, maxBytes: maxBytes, baseURL: strings.TrimRight(baseURL, "/"), log: log}
}

func (i *Images) Store() Store { return i.store }

// Validate checks size and content type; the content type is sniffed when
// contentType is empty.
func (i *Images) Validate(contentType string, data []byte) (string, error) {
	if len(data) == 0 || int64(len(data)) > i.maxBytes {
		return "", fmt.Errorf("%w: size must be between 1 and %d bytes", ErrInvalidFile, i.maxBytes)
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	contentType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if _, ok := allowedTypes[contentType]; !ok {
		return "", fmt.Errorf("%w: unsupported content type %q", ErrInvalidFile, contentType)
	}
	return contentType, nil
}

func (i *Images) Save(ctx context.Context, owner, contentType string, data []byte) (*Image, error) {
	ct, err := i.Validate(contentType, data)
	if err != nil {
		return nil, err
	}
	key := owner + "/" + uuid.NewString() + allowedTypes[ct]
	if err := i.store.Put(ctx, key, ct, data); err != nil {
		return nil, err
	}
	img := &Image{Key: key, URL: i.baseURL + "/" + key, Size: len(data)}

	thumb, err := Thumbnail(data)
	if err != nil {
		i.log.Debug("thumbnail skipped", zap.String("key", key), zap.Error(err))
		return img, nil
	}
	thumbKey := key + "_thumb.jpg"
	if err := i.store.Put(ctx, thumbKey, "image/jpeg", thumb); err != nil {
		i.log.Warn("thumbnail upload failed", zap.String("key", thumbKey), zap.Error(err))
		return img, nil
	}
	img.ThumbKey = thumbKey
	img.ThumbURL = i.baseURL + "/" + thumbKey
	return img, nil
}

// SaveDataURL stores an inline "data:image/...;base64," payload.
func (i *Images) SaveDataURL(ctx context.Context, owner, dataURL string) (*Image, error) {
	ct, data, err := DecodeDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	return i.Save(ctx, owner, ct, data)
}

// IsReference reports whether ref points at an image stored through i.
func (i *Images) IsReference(ref string) bool {
	return strings.HasPrefix(ref, i.baseURL+"/")
}

// OwnedBy reports whether ref is a reference to an image owner uploaded.
func (i *Images) OwnedBy(ref, owner string) bool {
	if owner == "" || !i.IsReference(ref) {
		return false
	}
	key := strings.TrimPrefix(ref, i.baseURL+"/")
	return strings.HasPrefix(key, owner+"/") && !strings.Contains(key, "..")
}

func DecodeDataURL(s string) (string, []byte, error) {
	if !strings.HasPrefix(s, "data:") {
		return "", nil, fmt.Errorf("%w: not a data URL", ErrInvalidFile)
	}
	meta, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return "", nil, fmt.Errorf("%w: data URL must be base64 encoded", ErrInvalidFile)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	return strings.TrimSuffix(meta, ";base64"), data, nil
}

func Thumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	thumb := imaging.Resize(img, 320, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
