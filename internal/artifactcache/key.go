package artifactcache

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidKey reports a key that cannot be mapped to a file name.
var ErrInvalidKey = errors.New("invalid cache key")

// maxIDLength keeps file names below common filesystem limits.
const maxIDLength = 200

// Format selects the artifact representation.
type Format string

const (
	FormatRaw       Format = "raw"
	FormatConverted Format = "converted"
)

// ParseFormat accepts the canonical names and their file extensions.
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "raw", "zip":
		return FormatRaw, nil
	case "converted", "pdf":
		return FormatConverted, nil
	default:
		return "", fmt.Errorf("unsupported format %q", value)
	}
}

// Extension returns the file extension (without dot).
func (f Format) Extension() string {
	switch f {
	case FormatRaw:
		return "zip"
	case FormatConverted:
		return "pdf"
	default:
		return ""
	}
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatRaw:
		return "application/zip"
	case FormatConverted:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

func formatFromExtension(ext string) (Format, bool) {
	switch ext {
	case "zip":
		return FormatRaw, true
	case "pdf":
		return FormatConverted, true
	default:
		return "", false
	}
}

// Key addresses one cached artifact.
type Key struct {
	DocumentID string
	Version    int
	Format     Format
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%d/%s", k.DocumentID, k.Version, k.Format)
}

// Validate checks that the key maps onto exactly one file name.
func (k Key) Validate() error {
	if err := ValidateDocumentID(k.DocumentID); err != nil {
		return err
	}
	if k.Version < 0 {
		return fmt.Errorf("%w: negative version %d", ErrInvalidKey, k.Version)
	}
	if k.Format.Extension() == "" {
		return fmt.Errorf("%w: unknown format %q", ErrInvalidKey, k.Format)
	}
	return nil
}

// ValidateDocumentID rejects ids that are empty, too long, or contain the
// separator or path characters.
func ValidateDocumentID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty document id", ErrInvalidKey)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: document id longer than %d bytes", ErrInvalidKey, maxIDLength)
	}
	if strings.ContainsAny(id, "./\\\x00") {
		return fmt.Errorf("%w: document id %q contains a reserved character", ErrInvalidKey, id)
	}
	return nil
}

// FileName returns the cache file name for key.
func FileName(key Key) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	return key.DocumentID + "." + strconv.Itoa(key.Version) + "." + key.Format.Extension(), nil
}

// ParseFileName inverts FileName. Names that FileName could not have produced
// (temp files, foreign files, non-canonical versions) report false.
func ParseFileName(name string) (Key, bool) {
	parts := strings.Split(name, ".")
	if len(parts) != 3 {
		return Key{}, false
	}
	format, ok := formatFromExtension(parts[2])
	if !ok {
		return Key{}, false
	}
	version, ok := parseCanonicalVersion(parts[1])
	if !ok {
		return Key{}, false
	}
	key := Key{DocumentID: parts[0], Version: version, Format: format}
	if key.Validate() != nil {
		return Key{}, false
	}
	return key, true
}

func parseCanonicalVersion(value string) (int, bool) {
	if value == "" || (len(value) > 1 && value[0] == '0') {
		return 0, false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	version, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return version, true
}
