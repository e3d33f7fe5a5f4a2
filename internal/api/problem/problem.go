package problem

import (
	"encoding/json"
	"net/http"
)

const contentType = "application/problem+json"
const baseTypeURL = "https://errors.custodial-ledger.dev/"

// Details represents RFC 7807 Problem Details.
type Details struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	RequestID string `json:"request_id"`
	Limit     *Limit `json:"limit,omitempty"`
}

// Limit describes the policy limit that rejected a request.
type Limit struct {
	Limit     string `json:"limit"`
	Used      string `json:"used"`
	Requested string `json:"requested"`
	Remaining string `json:"remaining"`
}

func Type(slug string) string {
	return baseTypeURL + slug
}

// Write sends RFC 7807-compliant errors.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	WriteLimit(w, r, status, problemType, title, detail, nil)
}

// WriteLimit is Write with the policy limit extension member attached.
func WriteLimit(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string, limit *Limit) {
	if title == "" {
		title = http.StatusText(status)
	}
	if problemType == "" {
		problemType = "about:blank"
	}
	instance := ""
	// The response header holds the sanitized trace id once tracing ran.
	requestID := w.Header().Get("X-Trace-ID")
	if r != nil {
		instance = r.URL.Path
		if requestID == "" {
			requestID = r.Header.Get("X-Trace-ID")
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Details{
		Type:      problemType,
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  instance,
		RequestID: requestID,
		Limit:     limit,
	})
}
