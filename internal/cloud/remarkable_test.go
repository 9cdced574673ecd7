package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"rmcloud/internal/logging"
	"rmcloud/internal/services"
)

type fakeCloud struct {
	server       *httptest.Server
	userTokens   atomic.Int32
	rejectFirst  atomic.Bool
	lastDeviceID atomic.Value
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	fc := &fakeCloud{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+deviceTokenPath, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		fc.lastDeviceID.Store(body["deviceID"])
		if body["code"] != "goodcode" {
			http.Error(w, "invalid code", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, "device-token-1")
	})
	mux.HandleFunc("POST "+userTokenPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer device-token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := fc.userTokens.Add(1)
		fmt.Fprintf(w, "user-token-%d", n)
	})
	mux.HandleFunc("GET "+docsPath, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer user-token-") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if fc.rejectFirst.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		docs := []rawDocument{
			{ID: "col", Version: 1, Success: true, Type: "CollectionType", VissibleName: "Folder"},
			{ID: "doc", Version: 5, Success: true, Type: "DocumentType", VissibleName: "Notes", Parent: "col"},
		}
		switch id := r.URL.Query().Get("doc"); id {
		case "":
		case "doc":
			docs = []rawDocument{{ID: "doc", Version: 5, Success: true, BlobURLGet: fc.server.URL + "/blob/doc"}}
		default:
			docs = []rawDocument{{ID: id, Success: false, Message: "document not found"}}
		}
		_ = json.NewEncoder(w).Encode(docs)
	})
	mux.HandleFunc("GET /blob/doc", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "PK-zip-bytes")
	})
	mux.HandleFunc("GET /slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	fc.server = httptest.NewServer(mux)
	t.Cleanup(fc.server.Close)
	return fc
}

func newTestRemarkable(t *testing.T, fc *fakeCloud) (*Remarkable, *TokenStore) {
	t.Helper()
	tokens := NewTokenStore(filepath.Join(t.TempDir(), "device.token"))
	client, err := NewRemarkable(fc.server.URL, fc.server.URL, tokens, 5*time.Second, WithLogger(logging.NewNop()))
	if err != nil {
		t.Fatalf("NewRemarkable: %v", err)
	}
	return client, tokens
}

func TestRemarkableRegisterPersistsToken(t *testing.T) {
	fc := newFakeCloud(t)
	client, tokens := newTestRemarkable(t, fc)

	token, err := client.Register(context.Background(), "goodcode")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if token != "device-token-1" {
		t.Fatalf("token = %q", token)
	}
	if stored, _ := tokens.Load(); stored != "device-token-1" {
		t.Fatalf("stored token = %q", stored)
	}
	if id, _ := fc.lastDeviceID.Load().(string); len(id) != 36 {
		t.Fatalf("expected uuid device id, got %q", id)
	}
}

func TestRemarkableRegisterRejectsBadCode(t *testing.T) {
	fc := newFakeCloud(t)
	client, tokens := newTestRemarkable(t, fc)

	if _, err := client.Register(context.Background(), "nope"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if _, err := client.Register(context.Background(), " "); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode for blank code, got %v", err)
	}
	if tokens.Exists() {
		t.Fatal("token must not be saved on failure")
	}
}

func TestRemarkableListRequiresToken(t *testing.T) {
	fc := newFakeCloud(t)
	client, _ := newTestRemarkable(t, fc)
	if _, err := client.ListFiles(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestRemarkableListFiles(t *testing.T) {
	fc := newFakeCloud(t)
	client, tokens := newTestRemarkable(t, fc)
	if err := tokens.Save("device-token-1"); err != nil {
		t.Fatal(err)
	}

	tree, err := client.ListFiles(context.Background())
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(tree) != 2 {
		t.Fatalf("tree = %+v", tree)
	}
	doc := tree[1]
	if doc.ID != "doc" || doc.Version != 5 || !doc.IsDocument() || doc.Path != "/Folder" || doc.Name != "Notes" {
		t.Fatalf("unexpected entry %+v", doc)
	}

	if _, err := client.ListFiles(context.Background()); err != nil {
		t.Fatalf("second ListFiles: %v", err)
	}
	if fc.userTokens.Load() != 1 {
		t.Fatalf("user token should be cached, fetched %d times", fc.userTokens.Load())
	}
}

func TestRemarkableRefreshesUserTokenOnce(t *testing.T) {
	fc := newFakeCloud(t)
	client, tokens := newTestRemarkable(t, fc)
	if err := tokens.Save("device-token-1"); err != nil {
		t.Fatal(err)
	}
	fc.rejectFirst.Store(true)

	if _, err := client.ListFiles(context.Background()); err != nil {
		t.Fatalf("ListFiles after refresh: %v", err)
	}
	if fc.userTokens.Load() != 2 {
		t.Fatalf("expected token refresh, fetched %d times", fc.userTokens.Load())
	}
}

func TestRemarkableRejectedDeviceToken(t *testing.T) {
	fc := newFakeCloud(t)
	client, tokens := newTestRemarkable(t, fc)
	if err := tokens.Save("stale"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.ListFiles(context.Background()); !errors.Is(err, services.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRemarkableDownloadDocument(t *testing.T) {
	fc := newFakeCloud(t)
	client, tokens := newTestRemarkable(t, fc)
	if err := tokens.Save("device-token-1"); err != nil {
		t.Fatal(err)
	}

	data, err := client.DownloadDocument(context.Background(), "doc")
	if err != nil {
		t.Fatalf("DownloadDocument: %v", err)
	}
	if string(data) != "PK-zip-bytes" {
		t.Fatalf("data = %q", data)
	}

	_, err = client.DownloadDocument(context.Background(), "missing")
	if !errors.Is(err, services.ErrNotFound) || !strings.Contains(err.Error(), "document not found") {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRemarkableTimeoutClassification(t *testing.T) {
	fc := newFakeCloud(t)
	tokens := NewTokenStore(filepath.Join(t.TempDir(), "device.token"))
	client, err := NewRemarkable(fc.server.URL, fc.server.URL, tokens, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodGet, fc.server.URL+"/slow", nil)
	_, doErr := client.httpClient.Do(req)
	if doErr == nil {
		t.Fatal("expected client timeout")
	}
	if err := classify(doErr, "request"); !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if err := classify(context.Canceled, "request"); !errors.Is(err, context.Canceled) || errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("cancellation should stay unclassified, got %v", err)
	}
}

func TestNewRemarkableValidation(t *testing.T) {
	if _, err := NewRemarkable("", "http://x", NewTokenStore("t"), time.Second); err == nil {
		t.Fatal("expected error for missing auth url")
	}
	if _, err := NewRemarkable("http://x", "http://x", nil, time.Second); err == nil {
		t.Fatal("expected error for missing token store")
	}
}
