// Package problem renders RFC 7807 error documents for the merchant and
// operator APIs. Provider callbacks never receive these; they get plain
// acknowledgement tokens.
package problem

import (
	"net/http"

	json "github.com/goccy/go-json"
)

const (
	ContentType = "application/problem+json"
	baseTypeURL = "https://errors.paygate.dev/"
	traceHeader = "X-Trace-ID"
)

// InvalidParam names one rejected request field.
type InvalidParam struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type Details struct {
	Type          string         `json:"type"`
	Title         string         `json:"title"`
	Status        int            `json:"status"`
	Detail        string         `json:"detail,omitempty"`
	Instance      string         `json:"instance,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	InvalidParams []InvalidParam `json:"invalid-params,omitempty"`
}

// Type expands a slug such as "order/duplicate" into a problem type URI.
func Type(slug string) string {
	if slug == "" {
		return "about:blank"
	}
	return baseTypeURL + slug
}

func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	WriteDetails(w, r, Details{Type: problemType, Title: title, Status: status, Detail: detail})
}

// WriteInvalid reports a single malformed field as a 400.
func WriteInvalid(w http.ResponseWriter, r *http.Request, field, reason string) {
	WriteDetails(w, r, Details{
		Type:          Type("request/validation"),
		Status:        http.StatusBadRequest,
		Detail:        field + ": " + reason,
		InvalidParams: []InvalidParam{{Name: field, Reason: reason}},
	})
}

// WriteDetails fills the defaults in d from the request and writes it.
func WriteDetails(w http.ResponseWriter, r *http.Request, d Details) {
	if d.Status == 0 {
		d.Status = http.StatusInternalServerError
	}
	if d.Title == "" {
		d.Title = http.StatusText(d.Status)
	}
	if d.Type == "" {
		d.Type = "about:blank"
	}
	if r != nil {
		if d.Instance == "" {
			d.Instance = r.URL.Path
		}
		if d.RequestID == "" {
			d.RequestID = r.Header.Get(traceHeader)
		}
	}
	if d.RequestID == "" {
		d.RequestID = w.Header().Get(traceHeader)
	}

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}
