package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/lammesen/netops-be/internal/store"
)

// DecodeJobCursor parses an opaque pagination cursor. An empty string is a
// nil cursor (first page).
func DecodeJobCursor(cursorStr string) (*store.Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(string(decoded), "|")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var requestedAt int64
	if _, err := fmt.Sscanf(parts[0], "%d", &requestedAt); err != nil {
		return nil, fmt.Errorf("invalid timestamp in cursor: %w", err)
	}

	return &store.Cursor{
		RequestedAt: time.Unix(0, requestedAt),
		JobID:       parts[1],
	}, nil
}

// EncodeJobCursor renders a cursor for the next page.
func EncodeJobCursor(cursor *store.Cursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.RequestedAt.UnixNano(), cursor.JobID)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}
