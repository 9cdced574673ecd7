package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"rmcloud/internal/cloud"
	"rmcloud/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckCloud_Reachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	result := CheckCloud(context.Background(), srv.URL)
	if !result.Passed {
		t.Fatalf("any HTTP answer should pass, got: %s", result.Detail)
	}
}

func TestCheckCloud_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	if result := CheckCloud(context.Background(), url); result.Passed {
		t.Fatal("expected failure for closed server")
	}
	if result := CheckCloud(context.Background(), " "); result.Passed || result.Detail != "missing url" {
		t.Fatalf("unexpected result for missing url: %#v", result)
	}
}

func TestCheckDeviceToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.token")
	if result := CheckDeviceToken(path); result.Passed {
		t.Fatal("expected failure without token")
	}
	if err := cloud.NewTokenStore(path).Save("tok"); err != nil {
		t.Fatal(err)
	}
	if result := CheckDeviceToken(path); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckConverter_NotConfiguredIsOptional(t *testing.T) {
	result := CheckConverter("")
	if result.Passed || !result.Optional {
		t.Fatalf("unexpected result %#v", result)
	}
	if len(Failed([]Result{result})) != 0 {
		t.Fatal("optional checks must not count as failures")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_DemoConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Cache.Enabled = true
	cfg.Cache.Dir = t.TempDir()
	cfg.Converter.Command = ""
	cfg.Demo.Enabled = true

	results := RunAll(context.Background(), &cfg)
	// data, log, cache, converter
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %#v", failed)
	}
}

func TestRunAll_ProbesCloudOutsideDemo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = ""
	cfg.Cache.Enabled = false
	cfg.Demo.Enabled = false
	cfg.Cloud.AuthURL = srv.URL

	results := RunAll(context.Background(), &cfg)
	found := false
	for _, r := range results {
		if r.Name == "Cloud" {
			found = true
			if !r.Passed {
				t.Errorf("cloud check failed: %s", r.Detail)
			}
		}
	}
	if !found {
		t.Fatal("expected cloud check in results")
	}
	if failed := Failed(results); len(failed) != 1 || failed[0].Name != "Device token" {
		t.Fatalf("expected only the device token to fail, got %#v", failed)
	}
}
