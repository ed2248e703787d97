package repository

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/apperr"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
)

type userCursor struct {
	Name string `json:"n"`
	ID   string `json:"i"`
}

type messageCursor struct {
	TS  int64 `json:"t"`
	Seq int64 `json:"s"`
}

func (c messageCursor) position() models.Position {
	return models.Position{Timestamp: time.Unix(0, c.TS).UTC(), Seq: c.Seq}
}

func encodeCursor(v any) string {
	b, _ := json.Marshal(v)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(s string, v any) error {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return apperr.Invalid("repository.cursor", "invalid cursor")
	}
	if err := json.Unmarshal(b, v); err != nil {
		return apperr.Invalid("repository.cursor", "invalid cursor")
	}
	return nil
}
