package common

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
)

// WriteJSONResponse writes a JSON response with the given data
func WriteJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// WriteErrorResponse writes a standardized error response
func WriteErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	WriteJSONResponse(w, map[string]string{"error": message}, statusCode)
}

var htmlPage = template.Must(template.New("page").Parse(
	`<!DOCTYPE html><html><body><h1>{{.Title}}</h1>{{if .Items}}<ul>{{range .Items}}<li>{{.}}</li>{{end}}</ul>{{end}}</body></html>
`))

// WriteHTMLMessage writes a minimal HTML page with a heading and an optional list
func WriteHTMLMessage(w http.ResponseWriter, title string, items []string, statusCode int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	data := struct {
		Title string
		Items []string
	}{Title: title, Items: items}
	if err := htmlPage.Execute(w, data); err != nil {
		slog.Error("Failed to render HTML response", "error", err)
	}
}

// BearerToken returns the token of an "Authorization: Bearer" header, or ""
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
