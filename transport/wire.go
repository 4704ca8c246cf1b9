package transport

import (
	"encoding/json"
	"net/url"
)

// Request describes one backend call.
//
// Body and Multipart are mutually exclusive. Body is JSON-encoded; Multipart
// produces a multipart/form-data body with named parts (binary uploads).
type Request struct {
	Method    string
	Path      string
	Query     url.Values
	Body      any
	Multipart *Multipart
}

// Multipart is a multipart/form-data request body.
// Parts are held in memory so a request can be rebuilt for the post-refresh
// retry after a 401.
type Multipart struct {
	Fields map[string]string
	Files  []FilePart
}

// FilePart is one named binary part of a multipart body.
type FilePart struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Envelope is the backend response wrapper:
// {success, data, metadata?, message?}.
type Envelope struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	Metadata *PageMeta       `json:"metadata,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// PageMeta is the pagination metadata attached to list responses.
type PageMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalCount int  `json:"total_count"`
	HasMore    bool `json:"has_more"`
}
