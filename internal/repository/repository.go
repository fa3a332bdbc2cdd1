package repository

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidCursor = errors.New("invalid cursor")
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// EncodeCursor makes an opaque position from the last item of a page.
func EncodeCursor(createdAt time.Time, id int64) string {
	raw := strconv.FormatInt(createdAt.UTC().UnixNano(), 10) + ":" + strconv.FormatInt(id, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(cursor string) (time.Time, int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	tsPart, idPart, ok := strings.Cut(string(raw), ":")
	if !ok {
		return time.Time{}, 0, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return time.Time{}, 0, ErrInvalidCursor
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return time.Time{}, 0, ErrInvalidCursor
	}
	return time.Unix(0, nanos).UTC(), id, nil
}

// clampLimit applies the default page size and the hard cap.
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return limit
}
