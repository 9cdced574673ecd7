package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"rmcloud/internal/cloud"
	"rmcloud/internal/deps"
)

// cloudProbeTimeout bounds the reachability probe.
const cloudProbeTimeout = 5 * time.Second

// CheckCloud verifies that the cloud auth endpoint answers HTTP. Any status
// code counts as reachable; only transport failures fail the check.
func CheckCloud(ctx context.Context, baseURL string) Result {
	const name = "Cloud"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, cloudProbeTimeout)
	defer cancel()

	client := &http.Client{Timeout: cloudProbeTimeout}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodHead, base, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("probe failed (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeProbeError(err)}
	}
	resp.Body.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("reachable (%d)", resp.StatusCode)}
}

// CheckDeviceToken reports whether the server has been registered.
func CheckDeviceToken(path string) Result {
	const name = "Device token"
	if _, err := cloud.NewTokenStore(path).Load(); err != nil {
		if errors.Is(err, cloud.ErrNoToken) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (missing: register from the web client)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckConverter reports whether the converter command resolves. It is
// optional: without it only the raw format is served.
func CheckConverter(command string) Result {
	status := deps.CheckBinaries([]deps.Requirement{deps.ConverterRequirement(command)})[0]
	result := Result{Name: status.Name, Optional: status.Optional, Passed: status.Available}
	switch {
	case status.Available:
		result.Detail = status.Resolved
	case status.Command == "":
		result.Detail = "not configured (converted format disabled)"
	default:
		result.Detail = status.Detail
	}
	return result
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// summarizeProbeError produces a human-readable summary for probe failures.
func summarizeProbeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "probe timed out (cloud unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "probe timed out (cloud unreachable)"
	}
	return err.Error()
}
