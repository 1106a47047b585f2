package pagination

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// EncodeTimeToken serialises a timestamp-plus-document-id cursor into a
// URL-safe page token. The timestamp carries nanosecond precision so ties
// between documents created in the same instant still break on the id.
func EncodeTimeToken(ts time.Time, id string) string {
	if id == "" {
		return ""
	}
	payload := fmt.Sprintf("%s|%s", ts.UTC().Format(time.RFC3339Nano), id)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// DecodeTimeToken parses a token produced by EncodeTimeToken.
func DecodeTimeToken(token string) (time.Time, string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return time.Time{}, "", fmt.Errorf("%w: empty token", ErrInvalidPageToken)
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", fmt.Errorf("%w: malformed payload", ErrInvalidPageToken)
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return ts, parts[1], nil
}
