// Package loader implements the per-table refresh logic: fetching an upstream
// open data document, extracting its records and replacing the stored copy.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/codefordc/housing-insights-loader/internal/httpclient"
)

// Source fetches the raw upstream payload of a table
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a plain function to the Source interface
type SourceFunc func(ctx context.Context) ([]byte, error)

// Fetch calls f(ctx)
func (f SourceFunc) Fetch(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// HTTPSource downloads a JSON document over HTTP
type HTTPSource struct {
	client  httpclient.Client
	url     string
	timeout time.Duration
}

// NewHTTPSource creates a source for url. A zero timeout leaves the request
// bounded only by the client and the caller's context.
func NewHTTPSource(client httpclient.Client, url string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{client: client, url: url, timeout: timeout}
}

// Fetch downloads the document
func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	data, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", s.url, err)
	}
	return data, nil
}

// ExtractRecords selects the record array at path (the whole document when
// path is empty) and returns each record as a JSON object with lower-cased
// top-level keys. Every element of the array must be an object.
func ExtractRecords(data []byte, path string) ([][]byte, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("upstream payload is not valid JSON")
	}

	result := gjson.ParseBytes(data)
	if path != "" {
		result = result.Get(path)
	}
	if !result.IsArray() {
		return nil, fmt.Errorf("records path %q did not select an array", path)
	}

	var (
		records [][]byte
		errm    error
	)
	result.ForEach(func(key, value gjson.Result) bool {
		if !value.IsObject() {
			errm = fmt.Errorf("record %d is not an object", key.Int())
			return false
		}
		record, err := normalizeRecord(value)
		if err != nil {
			errm = fmt.Errorf("record %d: %w", key.Int(), err)
			return false
		}
		records = append(records, record)
		return true
	})
	if errm != nil {
		return nil, errm
	}
	return records, nil
}

// normalizeRecord lower-cases the keys of a record so zone fields such as
// WARD and ward are addressed the same way.
func normalizeRecord(value gjson.Result) ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	value.ForEach(func(key, field gjson.Result) bool {
		fields[strings.ToLower(key.String())] = json.RawMessage(field.Raw)
		return true
	})
	return json.Marshal(fields)
}
