package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"rmcloud/internal/cloud"
	"rmcloud/internal/services"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[ErrorType]int{
		ErrorTypeInvalidParameters: http.StatusBadRequest,
		ErrorTypeInvalidSession:    http.StatusUnauthorized,
		ErrorTypeRegister:          http.StatusBadRequest,
		ErrorTypeLoadToken:         http.StatusPreconditionFailed,
		ErrorTypeDownloadFile:      http.StatusBadGateway,
		ErrorTypeRetrieveFiles:     http.StatusBadGateway,
		ErrorTypeConvertFile:       http.StatusUnprocessableEntity,
		ErrorTypeInternal:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := NewError(kind, "x", nil).HTTPStatus(); got != want {
			t.Errorf("%s: status %d, want %d", kind, got, want)
		}
	}
}

func TestFromErrorKeepsCategory(t *testing.T) {
	inner := NewError(ErrorTypeConvertFile, "converter exited 3", nil)
	wrapped := fmt.Errorf("resolve: %w", inner)
	got := FromError(wrapped, ErrorTypeDownloadFile)
	if got != inner {
		t.Fatalf("expected original error, got %#v", got)
	}
}

func TestFromErrorMapsMarkers(t *testing.T) {
	if got := FromError(fmt.Errorf("list: %w", cloud.ErrNoToken), ErrorTypeRetrieveFiles); got.Type != ErrorTypeLoadToken {
		t.Fatalf("missing token should map to load-token, got %s", got.Type)
	}
	timeout := services.Wrap(services.ErrTimeout, "cloud", "request", "request timed out", context.DeadlineExceeded)
	got := FromError(timeout, ErrorTypeDownloadFile)
	if got.Type != ErrorTypeDownloadFile || !strings.Contains(got.Detail, "timed out") {
		t.Fatalf("unexpected mapping %#v", got)
	}
	if !errors.Is(got, services.ErrTimeout) {
		t.Fatal("mapped error should unwrap to the marker")
	}
	if FromError(nil, ErrorTypeInternal) != nil {
		t.Fatal("nil error should stay nil")
	}
}

func TestNewErrorBoundsDetail(t *testing.T) {
	err := NewError(ErrorTypeConvertFile, strings.Repeat("x", maxDetail*2), nil)
	if len(err.Detail) > maxDetail+3 {
		t.Fatalf("detail not bounded: %d bytes", len(err.Detail))
	}
}

func TestResponseEncoding(t *testing.T) {
	data, err := json.Marshal(Failure(NewError(ErrorTypeInvalidSession, "unknown session", nil)))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"status":"error","errorType":"invalid-session","error":"unknown session"}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}

	data, err = json.Marshal(FilesResponse(nil))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"status":"success","files":[]}` {
		t.Fatalf("unexpected empty listing encoding %s", data)
	}

	data, err = json.Marshal(FilesResponse(cloud.Tree{{ID: "a", Version: 2, Type: cloud.DocumentType, Name: "A", Path: "/"}}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"files":[{"ID":"a","Version":2,"Type":"DocumentType","Name":"A","Path":"/","Parent":""}]`) {
		t.Fatalf("unexpected listing encoding %s", data)
	}
}
