// Package deps reports whether the external programs rmcloud shells out to
// are installed.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement defines an external program rmcloud relies on. Command may be a
// full command line; only its first word is resolved.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Resolved    string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Program returns the executable named by a command line.
func Program(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, check(req))
	}
	return results
}

func check(req Requirement) Status {
	cmd := strings.TrimSpace(req.Command)
	status := Status{
		Name:        req.Name,
		Command:     cmd,
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	program := Program(cmd)
	if program == "" {
		status.Detail = "command not configured"
		return status
	}
	resolved, err := exec.LookPath(program)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", program)
		return status
	}
	status.Resolved = resolved
	status.Available = true
	return status
}

// ConverterRequirement describes the document converter. Without a configured
// command the converted format is simply unavailable, so the requirement is
// optional.
func ConverterRequirement(command string) Requirement {
	return Requirement{
		Name:        "Converter",
		Command:     command,
		Description: "Renders notebooks for the converted (pdf) format",
		Optional:    true,
	}
}
