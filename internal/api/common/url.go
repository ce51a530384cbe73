// Package common provides shared HTTP utility functions for API handlers.
package common

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
)

// maxParamLength bounds path parameters; table and column names are short
const maxParamLength = 128

// URLParam extracts and decodes a chi path parameter. Empty values, values
// with whitespace or control characters and overly long values are rejected.
func URLParam(r *http.Request, name string) (string, error) {
	decoded, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil {
		return "", fmt.Errorf("invalid URL encoding in %s", name)
	}

	if decoded == "" {
		return "", fmt.Errorf("%s cannot be empty", name)
	}
	if len(decoded) > maxParamLength {
		return "", fmt.Errorf("%s is too long", name)
	}
	if strings.IndexFunc(decoded, func(r rune) bool { return r <= ' ' || r == 0x7f }) >= 0 {
		return "", fmt.Errorf("%s cannot contain whitespace or control characters", name)
	}

	return decoded, nil
}
