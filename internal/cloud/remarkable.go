package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rmcloud/internal/logging"
	"rmcloud/internal/services"
)

const (
	deviceTokenPath = "/token/json/2/device/new"
	userTokenPath   = "/token/json/2/user/new"
	docsPath        = "/document-storage/json/2/docs"
	// maxDocumentBytes caps a single archive download.
	maxDocumentBytes = 512 << 20
	maxErrorBody     = 4 << 10
)

// rawDocument is one item of the document-storage listing.
type rawDocument struct {
	ID           string `json:"ID"`
	Version      int    `json:"Version"`
	Message      string `json:"Message"`
	Success      bool   `json:"Success"`
	BlobURLGet   string `json:"BlobURLGet"`
	Type         string `json:"Type"`
	VissibleName string `json:"VissibleName"`
	Parent       string `json:"Parent"`
}

// Remarkable is a Client for the legacy reMarkable document-storage API.
type Remarkable struct {
	authURL    string
	storageURL string
	deviceDesc string
	httpClient *http.Client
	tokens     *TokenStore
	logger     *slog.Logger
	newID      func() string

	mu        sync.Mutex
	userToken string
}

var _ Client = (*Remarkable)(nil)

// RemarkableOption configures a Remarkable client.
type RemarkableOption func(*Remarkable)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) RemarkableOption {
	return func(r *Remarkable) {
		if client != nil {
			r.httpClient = client
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) RemarkableOption {
	return func(r *Remarkable) {
		r.logger = logging.NewComponentLogger(logger, "cloud")
	}
}

// WithDeviceDesc overrides the device description sent at registration.
func WithDeviceDesc(desc string) RemarkableOption {
	return func(r *Remarkable) {
		if desc = strings.TrimSpace(desc); desc != "" {
			r.deviceDesc = desc
		}
	}
}

// NewRemarkable creates a client. Tokens are persisted through tokens.
func NewRemarkable(authURL, storageURL string, tokens *TokenStore, timeout time.Duration, opts ...RemarkableOption) (*Remarkable, error) {
	authURL = strings.TrimRight(strings.TrimSpace(authURL), "/")
	storageURL = strings.TrimRight(strings.TrimSpace(storageURL), "/")
	if authURL == "" || storageURL == "" {
		return nil, errors.New("cloud auth and storage urls required")
	}
	if tokens == nil {
		return nil, errors.New("cloud token store required")
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	r := &Remarkable{
		authURL:    authURL,
		storageURL: storageURL,
		deviceDesc: "desktop-linux",
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		logger:     logging.NewComponentLogger(nil, "cloud"),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Register exchanges a one-time code for a device token and persists it.
func (r *Remarkable) Register(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("%w: empty code", ErrInvalidCode)
	}
	body, err := json.Marshal(map[string]string{
		"code":       code,
		"deviceDesc": r.deviceDesc,
		"deviceID":   r.newID(),
	})
	if err != nil {
		return "", fmt.Errorf("encode registration: %w", err)
	}

	token, status, err := r.postForToken(ctx, r.authURL+deviceTokenPath, "", body)
	if err != nil {
		return "", classify(err, "register")
	}
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "", fmt.Errorf("%w: cloud returned %d", ErrInvalidCode, status)
	case status != http.StatusOK:
		return "", services.Wrap(services.ErrExternalTool, "cloud", "register", fmt.Sprintf("unexpected status %d", status), nil)
	case token == "":
		return "", services.Wrap(services.ErrExternalTool, "cloud", "register", "empty device token", nil)
	}

	if err := r.tokens.Save(token); err != nil {
		return "", err
	}
	r.mu.Lock()
	r.userToken = ""
	r.mu.Unlock()
	r.logger.Info("device registered", logging.String("token_path", r.tokens.Path()))
	return token, nil
}

// ListFiles returns the full tree with Path filled in.
func (r *Remarkable) ListFiles(ctx context.Context) (Tree, error) {
	var docs []rawDocument
	if err := r.getJSON(ctx, r.storageURL+docsPath, &docs); err != nil {
		return nil, err
	}
	tree := make(Tree, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == "" {
			continue
		}
		tree = append(tree, Entry{
			ID:       doc.ID,
			Version:  doc.Version,
			Type:     EntryType(doc.Type),
			Name:     doc.VissibleName,
			ParentID: doc.Parent,
		})
	}
	assignPaths(tree)
	r.logger.Debug("listed files", logging.Int("entries", len(tree)))
	return tree, nil
}

// DownloadDocument fetches the archive of document id.
func (r *Remarkable) DownloadDocument(ctx context.Context, id string) ([]byte, error) {
	endpoint, err := url.Parse(r.storageURL + docsPath)
	if err != nil {
		return nil, fmt.Errorf("build docs url: %w", err)
	}
	query := endpoint.Query()
	query.Set("doc", id)
	query.Set("withBlob", "true")
	endpoint.RawQuery = query.Encode()

	var docs []rawDocument
	if err := r.getJSON(ctx, endpoint.String(), &docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 || !docs[0].Success {
		msg := "document not listed"
		if len(docs) > 0 && docs[0].Message != "" {
			msg = docs[0].Message
		}
		return nil, services.Wrap(services.ErrNotFound, "cloud", "download", msg, nil)
	}
	if docs[0].BlobURLGet == "" {
		return nil, services.Wrap(services.ErrExternalTool, "cloud", "download", "missing blob url", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docs[0].BlobURLGet, nil)
	if err != nil {
		return nil, fmt.Errorf("build blob request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, classify(err, "download")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("download", resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, classify(err, "download")
	}
	if len(data) > maxDocumentBytes {
		return nil, services.Wrap(services.ErrExternalTool, "cloud", "download", "document exceeds size limit", nil)
	}
	return data, nil
}

// getJSON performs an authenticated GET, refreshing the user token once on 401.
func (r *Remarkable) getJSON(ctx context.Context, endpoint string, out any) error {
	for attempt := 0; ; attempt++ {
		token, err := r.ensureUserToken(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		requestStart := time.Now()
		resp, err := r.httpClient.Do(req)
		if err != nil {
			return classify(err, "request")
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			r.mu.Lock()
			r.userToken = ""
			r.mu.Unlock()
			r.logger.Debug("user token rejected; refreshing")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			err := statusError("request", resp)
			resp.Body.Close()
			return err
		}
		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return services.Wrap(services.ErrExternalTool, "cloud", "decode", "malformed listing", err)
		}
		r.logger.Debug("cloud request complete",
			logging.String("endpoint", req.URL.Path),
			logging.Duration("latency", time.Since(requestStart)),
		)
		return nil
	}
}

func (r *Remarkable) ensureUserToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	cached := r.userToken
	r.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	deviceToken, err := r.tokens.Load()
	if err != nil {
		return "", err
	}
	token, status, err := r.postForToken(ctx, r.authURL+userTokenPath, deviceToken, nil)
	if err != nil {
		return "", classify(err, "authenticate")
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return "", services.Wrap(services.ErrUnauthorized, "cloud", "authenticate", "device token rejected; register again", nil)
	}
	if status != http.StatusOK || token == "" {
		return "", services.Wrap(services.ErrExternalTool, "cloud", "authenticate", fmt.Sprintf("unexpected status %d", status), nil)
	}

	r.mu.Lock()
	r.userToken = token
	r.mu.Unlock()
	return token, nil
}

func (r *Remarkable) postForToken(ctx context.Context, endpoint, bearer string, body []byte) (string, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", resp.StatusCode, err
	}
	return strings.TrimSpace(string(data)), resp.StatusCode, nil
}

func statusError(operation string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	msg := fmt.Sprintf("cloud returned %d", resp.StatusCode)
	if text := strings.TrimSpace(string(snippet)); text != "" {
		msg += ": " + text
	}
	marker := services.ErrExternalTool
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		marker = services.ErrUnauthorized
	case http.StatusNotFound:
		marker = services.ErrNotFound
	}
	return services.Wrap(marker, "cloud", operation, msg, nil)
}

func classify(err error, operation string) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return services.Wrap(services.ErrTimeout, "cloud", operation, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("cloud %s: %w", operation, err)
	}
	return services.Wrap(services.ErrExternalTool, "cloud", operation, "request failed", err)
}
