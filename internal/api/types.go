package api

import (
	"rmcloud/internal/cloud"
)

// Status is the top-level outcome of an API call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Response is the JSON envelope returned by every non-binary route.
type Response struct {
	Status    Status    `json:"status"`
	Data      any       `json:"data,omitempty"`
	ErrorType ErrorType `json:"errorType,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// FilesPayload is the success envelope of the listing route. Files is always
// present, even when the tree is empty.
type FilesPayload struct {
	Status Status     `json:"status"`
	Files  cloud.Tree `json:"files"`
}

// Success wraps data in a success envelope.
func Success(data any) Response {
	return Response{Status: StatusSuccess, Data: data}
}

// FilesResponse wraps a listing. A nil tree is rendered as an empty list.
func FilesResponse(tree cloud.Tree) FilesPayload {
	if tree == nil {
		tree = cloud.Tree{}
	}
	return FilesPayload{Status: StatusSuccess, Files: tree}
}

// Failure renders err as an error envelope.
func Failure(err *Error) Response {
	if err == nil {
		err = NewError(ErrorTypeInternal, "unknown error", nil)
	}
	return Response{Status: StatusError, ErrorType: err.Type, Error: err.Detail}
}

// SessionInfo is the payload of the session route.
type SessionInfo struct {
	SessionID  string `json:"sessionId"`
	Registered bool   `json:"registered"`
}

// CacheInfo summarizes the artifact cache for the info route.
type CacheInfo struct {
	Enabled    bool  `json:"enabled"`
	Entries    int   `json:"entries"`
	TotalBytes int64 `json:"totalBytes"`
}

// Info describes the running server.
type Info struct {
	Name    string    `json:"name"`
	Version string    `json:"version"`
	Demo    bool      `json:"demo"`
	Formats []string  `json:"formats"`
	Cache   CacheInfo `json:"cache"`
}

// RegisterResult is returned after a successful device registration.
type RegisterResult struct {
	Registered bool `json:"registered"`
}
