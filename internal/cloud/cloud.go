package cloud

import (
	"context"
	"errors"
)

var (
	// ErrNoToken reports that no device token has been persisted yet.
	ErrNoToken = errors.New("no device token; register first")
	// ErrInvalidCode reports a rejected one-time registration code.
	ErrInvalidCode = errors.New("invalid registration code")
)

// EntryType distinguishes documents from collections (folders).
type EntryType string

const (
	DocumentType   EntryType = "DocumentType"
	CollectionType EntryType = "CollectionType"
)

// Entry is one node of the upstream file tree.
type Entry struct {
	ID       string    `json:"ID"`
	Version  int       `json:"Version"`
	Type     EntryType `json:"Type"`
	Name     string    `json:"Name"`
	Path     string    `json:"Path"`
	ParentID string    `json:"Parent"`
}

// IsDocument reports whether the entry can be downloaded.
func (e Entry) IsDocument() bool {
	return e.Type == DocumentType
}

// Tree is a flat listing of the upstream file tree.
type Tree []Entry

// Client is the upstream document cloud.
type Client interface {
	Register(ctx context.Context, code string) (string, error)
	ListFiles(ctx context.Context) (Tree, error)
	DownloadDocument(ctx context.Context, id string) ([]byte, error)
}
