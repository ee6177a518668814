// Package install derives a copy-ready host configuration from a latest
// catalog entry (Component I).
package install

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/khalidsaidi/ragmap/internal/catalog"
)

// TransportSummary classifies which transports an entry supports.
type TransportSummary string

const (
	SummaryStdio   TransportSummary = "stdio"
	SummaryRemote  TransportSummary = "remote"
	SummaryHybrid  TransportSummary = "hybrid"
	SummaryUnknown TransportSummary = "unknown"
)

// Stdio is the derived command-line invocation for a stdio-capable package.
type Stdio struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// RemoteHeader is a sanitized header entry ready to display to a user.
type RemoteHeader struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	IsSecret    bool   `json:"isSecret"`
	Value       string `json:"value"`
}

// Remote is the derived remote-endpoint configuration.
type Remote struct {
	URL     string         `json:"url"`
	Headers []RemoteHeader `json:"headers,omitempty"`
}

// Config is the full install projection for one entry.
type Config struct {
	Transport struct {
		Summary  TransportSummary `json:"summary"`
		HasStdio bool             `json:"hasStdio"`
	} `json:"transport"`
	Stdio  *Stdio  `json:"stdio,omitempty"`
	Remote *Remote `json:"remote,omitempty"`

	RemoteHostConfigJSON string `json:"remoteHostConfigJson,omitempty"`
	StdioHostConfigJSON  string `json:"stdioHostConfigJson,omitempty"`
}

var secretHeaderName = regexp.MustCompile(`(?i)authorization|token|secret|password|api[-_]?key`)

var configIDSanitizer = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Project derives the install configuration for a latest catalog entry.
func Project(entry catalog.CatalogEntry) Config {
	var cfg Config

	stdioPkg := findStdioPackage(entry.Server.Packages)
	if stdioPkg != nil {
		cfg.Stdio = deriveStdio(*stdioPkg)
		cfg.Transport.HasStdio = true
	}

	remote := findStreamableHTTPRemote(entry.Server.Remotes)
	if remote != nil {
		cfg.Remote = deriveRemote(*remote)
	}

	switch {
	case cfg.Stdio != nil && cfg.Remote != nil:
		cfg.Transport.Summary = SummaryHybrid
	case cfg.Stdio != nil:
		cfg.Transport.Summary = SummaryStdio
	case cfg.Remote != nil:
		cfg.Transport.Summary = SummaryRemote
	default:
		cfg.Transport.Summary = SummaryUnknown
	}

	id := configIDSanitizer.ReplaceAllString(string(entry.Server.Name), "_")

	if cfg.Remote != nil {
		cfg.RemoteHostConfigJSON = mustMarshal(map[string]any{
			"mcpServers": map[string]any{
				id: map[string]any{
					"transport": "streamable-http",
					"url":       cfg.Remote.URL,
					"headers":   cfg.Remote.Headers,
				},
			},
		})
	}
	if cfg.Stdio != nil {
		cfg.StdioHostConfigJSON = mustMarshal(map[string]any{
			"mcpServers": map[string]any{
				id: map[string]any{
					"command": cfg.Stdio.Command,
					"args":    cfg.Stdio.Args,
				},
			},
		})
	}

	return cfg
}

func findStdioPackage(packages []catalog.Package) *catalog.Package {
	for i := range packages {
		if packages[i].Transport != nil && packages[i].Transport.Type == catalog.TransportStdio {
			return &packages[i]
		}
	}
	for i := range packages {
		if packages[i].Transport == nil || packages[i].Transport.Type != catalog.TransportStreamableHTTP {
			return &packages[i]
		}
	}
	return nil
}

func findStreamableHTTPRemote(remotes []catalog.Remote) *catalog.Remote {
	for i := range remotes {
		if remotes[i].Type == catalog.TransportStreamableHTTP {
			return &remotes[i]
		}
	}
	return nil
}

func deriveStdio(pkg catalog.Package) *Stdio {
	var command string
	versionSep := ""

	switch {
	case pkg.RuntimeHint == "uvx" || pkg.RegistryType == "pypi" || pkg.RegistryType == "python":
		command = "uvx"
		versionSep = "=="
	case pkg.RuntimeHint == "pipx":
		command = "pipx run"
		versionSep = "=="
	default:
		command = "npx -y"
		versionSep = "@"
	}

	identifier := pkg.Identifier
	lastSegment := identifier
	if i := strings.LastIndex(identifier, "/"); i != -1 {
		lastSegment = identifier[i+1:]
	}
	if pkg.Version != "" && !strings.Contains(lastSegment, versionSep) {
		identifier = identifier + versionSep + pkg.Version
	}

	args := []string{}
	commandParts := strings.Fields(command)
	cmd := commandParts[0]
	if len(commandParts) > 1 {
		args = append(args, commandParts[1:]...)
	}
	args = append(args, identifier)

	for _, pa := range pkg.PackageArguments {
		args = append(args, pa.Value)
	}

	return &Stdio{Command: cmd, Args: args}
}

func deriveRemote(remote catalog.Remote) *Remote {
	headers := make([]RemoteHeader, 0, len(remote.Headers))
	for _, h := range remote.Headers {
		value := "<set-value>"
		if h.IsSecret || secretHeaderName.MatchString(h.Name) {
			value = "<set-secret>"
		}
		headers = append(headers, RemoteHeader{
			Name:        h.Name,
			Description: h.Description,
			Required:    h.Required,
			IsSecret:    h.IsSecret,
			Value:       value,
		})
	}
	return &Remote{URL: remote.URL, Headers: headers}
}

func mustMarshal(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
