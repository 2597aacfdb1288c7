// Package pagination parses page size and token query parameters for list endpoints.
package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when the client omits pageSize.
	DefaultPageSize = 25
	// MaxPageSize caps pageSize.
	MaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Params carries the parsed request values. The token is validated but left opaque.
type Params struct {
	PageSize  int
	PageToken string
}

// Parse reads pageSize and pageToken. Oversized pages are clamped rather than rejected.
func Parse(values url.Values) (Params, error) {
	params := Params{PageSize: DefaultPageSize}

	if raw := strings.TrimSpace(values.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		if size <= 0 {
			return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		params.PageSize = min(size, MaxPageSize)
	}

	if token := strings.TrimSpace(values.Get("pageToken")); token != "" {
		if _, err := DecodeToken(token); err != nil {
			return Params{}, err
		}
		params.PageToken = token
	}
	return params, nil
}

// Normalize applies the default and cap to a page size coming from a non-HTTP caller.
func Normalize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	return min(size, MaxPageSize)
}
