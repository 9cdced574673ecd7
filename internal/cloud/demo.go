package cloud

import (
	"archive/zip"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rmcloud/internal/logging"
	"rmcloud/internal/services"
)

//go:embed sampledata/files.json
var sampleFiles []byte

// DemoToken is the device token handed out by the demo cloud.
const DemoToken = "demo-device-token"

// Demo is an offline Client serving an embedded sample tree.
type Demo struct {
	registerCode string
	delay        time.Duration
	logger       *slog.Logger
	tree         Tree
}

var _ Client = (*Demo)(nil)

// NewDemo builds the demo cloud. Every call waits delay to mimic network latency.
func NewDemo(registerCode string, delay time.Duration, logger *slog.Logger) (*Demo, error) {
	var tree Tree
	if err := json.Unmarshal(sampleFiles, &tree); err != nil {
		return nil, fmt.Errorf("decode sample files: %w", err)
	}
	assignPaths(tree)
	return &Demo{
		registerCode: strings.TrimSpace(registerCode),
		delay:        delay,
		logger:       logging.NewComponentLogger(logger, "cloud-demo"),
		tree:         tree,
	}, nil
}

// RegisterCode returns the only code the demo accepts.
func (d *Demo) RegisterCode() string {
	return d.registerCode
}

// Register accepts only the configured demo code.
func (d *Demo) Register(ctx context.Context, code string) (string, error) {
	if err := d.wait(ctx); err != nil {
		return "", err
	}
	if strings.TrimSpace(code) != d.registerCode {
		return "", fmt.Errorf("%w: this is a demo version, use the code %q", ErrInvalidCode, d.registerCode)
	}
	return DemoToken, nil
}

// ListFiles returns a copy of the sample tree.
func (d *Demo) ListFiles(ctx context.Context) (Tree, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	return append(Tree(nil), d.tree...), nil
}

// DownloadDocument synthesizes a small archive for a listed document.
func (d *Demo) DownloadDocument(ctx context.Context, id string) ([]byte, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	var found *Entry
	for i := range d.tree {
		if d.tree[i].ID == id && d.tree[i].IsDocument() {
			found = &d.tree[i]
			break
		}
	}
	if found == nil {
		return nil, services.Wrap(services.ErrNotFound, "cloud-demo", "download", fmt.Sprintf("unknown document %q", id), nil)
	}
	return sampleArchive(*found)
}

func (d *Demo) wait(ctx context.Context) error {
	if d.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("cloud-demo: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// sampleArchive builds a document archive with the same member layout the
// real cloud returns (content, metadata, pagedata).
func sampleArchive(entry Entry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	members := []struct {
		name string
		body any
	}{
		{entry.ID + ".content", map[string]any{"fileType": "notebook", "pageCount": 1}},
		{entry.ID + ".metadata", map[string]any{
			"visibleName": entry.Name,
			"parent":      entry.ParentID,
			"type":        string(entry.Type),
			"version":     entry.Version,
		}},
	}
	for _, member := range members {
		w, err := zw.Create(member.name)
		if err != nil {
			return nil, fmt.Errorf("build sample archive: %w", err)
		}
		if err := json.NewEncoder(w).Encode(member.body); err != nil {
			return nil, fmt.Errorf("build sample archive: %w", err)
		}
	}
	w, err := zw.Create(entry.ID + ".pagedata")
	if err != nil {
		return nil, fmt.Errorf("build sample archive: %w", err)
	}
	if _, err := w.Write([]byte("Blank\n")); err != nil {
		return nil, fmt.Errorf("build sample archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("build sample archive: %w", err)
	}
	return buf.Bytes(), nil
}
