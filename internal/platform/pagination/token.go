package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cursor points just past the last item of a page. Listings order by At then ID, both descending.
// Scope ties the cursor to the listing and filter that produced it.
type Cursor struct {
	Scope string    `json:"s,omitempty"`
	At    time.Time `json:"t"`
	ID    string    `json:"i"`
}

// EncodeToken turns cursor into an opaque URL-safe token. A cursor without an ID means there is no
// next page and encodes to "".
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.ID == "" {
		return "", nil
	}
	raw, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeToken parses a token without checking its scope. "" decodes to the zero cursor.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	var cursor Cursor
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err == nil {
		err = json.Unmarshal(raw, &cursor)
	}
	switch {
	case err != nil:
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	case cursor.ID == "":
		return Cursor{}, fmt.Errorf("%w: missing id", ErrInvalidPageToken)
	}
	return cursor, nil
}

// DecodeScopedToken parses token and rejects cursors issued for a different scope, so a token from
// one filtered listing cannot be replayed against another.
func DecodeScopedToken(scope, token string) (Cursor, error) {
	cursor, err := DecodeToken(token)
	if err != nil || cursor.ID == "" {
		return cursor, err
	}
	if cursor.Scope != scope {
		return Cursor{}, fmt.Errorf("%w: issued for another listing", ErrInvalidPageToken)
	}
	return cursor, nil
}

// Scope joins the parts that identify a listing into a cursor scope.
func Scope(parts ...string) string {
	return strings.Join(parts, "|")
}
