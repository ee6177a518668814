package install

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khalidsaidi/ragmap/internal/catalog"
)

func TestProject_NpmStdio(t *testing.T) {
	entry := catalog.CatalogEntry{
		Server: catalog.ServerRecord{
			Name: "example-installable",
			Packages: []catalog.Package{
				{
					RegistryType: "npm",
					Identifier:   "@example/installable-mcp",
					Version:      "1.2.3",
					RuntimeHint:  "npx",
					Transport:    &catalog.PackageTransport{Type: catalog.TransportStdio},
				},
			},
		},
	}

	cfg := Project(entry)

	assert.True(t, cfg.Transport.HasStdio)
	require.NotNil(t, cfg.Stdio)
	assert.Equal(t, "npx", cfg.Stdio.Command)
	assert.Equal(t, []string{"-y", "@example/installable-mcp@1.2.3"}, cfg.Stdio.Args)
	assert.Contains(t, cfg.StdioHostConfigJSON, "mcpServers")
	assert.Contains(t, cfg.StdioHostConfigJSON, "npx")
}

func TestProject_PypiUsesUvxWithDoubleEqualsVersion(t *testing.T) {
	entry := catalog.CatalogEntry{
		Server: catalog.ServerRecord{
			Name: "svc",
			Packages: []catalog.Package{
				{RegistryType: "pypi", Identifier: "example-mcp", Version: "2.0.0"},
			},
		},
	}
	cfg := Project(entry)
	require.NotNil(t, cfg.Stdio)
	assert.Equal(t, "uvx", cfg.Stdio.Command)
	assert.Equal(t, []string{"example-mcp==2.0.0"}, cfg.Stdio.Args)
}

func TestProject_PipxRuntimeHint(t *testing.T) {
	entry := catalog.CatalogEntry{
		Server: catalog.ServerRecord{
			Name: "svc",
			Packages: []catalog.Package{
				// No pypi registryType here: that selects uvx ahead of the pipx hint.
				{RuntimeHint: "pipx", Identifier: "example-mcp"},
			},
		},
	}
	cfg := Project(entry)
	require.NotNil(t, cfg.Stdio)
	assert.Equal(t, "pipx", cfg.Stdio.Command)
	assert.Equal(t, []string{"run", "example-mcp"}, cfg.Stdio.Args)
}

func TestProject_VersionNotDuplicatedWhenIdentifierAlreadyCarriesIt(t *testing.T) {
	entry := catalog.CatalogEntry{
		Server: catalog.ServerRecord{
			Name: "svc",
			Packages: []catalog.Package{
				{RegistryType: "npm", Identifier: "example-mcp@1.0.0", Version: "1.0.0"},
			},
		},
	}
	cfg := Project(entry)
	require.NotNil(t, cfg.Stdio)
	assert.Equal(t, []string{"-y", "example-mcp@1.0.0"}, cfg.Stdio.Args)
}

func TestProject_PositionalPackageArgumentsAppended(t *testing.T) {
	entry := catalog.CatalogEntry{
		Server: catalog.ServerRecord{
			Name: "svc",
			Packages: []catalog.Package{
				{
					RegistryType: "npm", Identifier: "example-mcp",
					PackageArguments: []catalog.PackageArgument{{Value: "--verbose"}, {Value: "--port=8080"}},
				},
			},
		},
	}
	cfg := Project(entry)
	require.NotNil(t, cfg.Stdio)
	assert.Equal(t, []string{"-y", "example-mcp", "--verbose", "--port=8080"}, cfg.Stdio.Args)
}

func TestProject_RemoteHeaderSanitization(t *testing.T) {
	entry := catalog.CatalogEntry{
		Server: catalog.ServerRecord{
			Name: "svc",
			Remotes: []catalog.Remote{
				{
					Type: catalog.TransportStreamableHTTP,
					URL:  "https://svc.example/mcp",
					Headers: []catalog.Header{
						{Name: "Authorization", Required: true},
						{Name: "X-Client-Name", Required: false},
						{Name: "X-Custom", IsSecret: true},
					},
				},
			},
		},
	}
	cfg := Project(entry)
	require.NotNil(t, cfg.Remote)
	assert.Equal(t, "https://svc.example/mcp", cfg.Remote.URL)
	require.Len(t, cfg.Remote.Headers, 3)
	assert.Equal(t, "<set-secret>", cfg.Remote.Headers[0].Value)
	assert.Equal(t, "<set-value>", cfg.Remote.Headers[1].Value)
	assert.Equal(t, "<set-secret>", cfg.Remote.Headers[2].Value)
	assert.Contains(t, cfg.RemoteHostConfigJSON, "streamable-http")
}

func TestProject_HybridWhenBothStdioAndRemotePresent(t *testing.T) {
	entry := catalog.CatalogEntry{
		Server: catalog.ServerRecord{
			Name: "svc",
			Packages: []catalog.Package{
				{RegistryType: "npm", Identifier: "example-mcp"},
			},
			Remotes: []catalog.Remote{
				{Type: catalog.TransportStreamableHTTP, URL: "https://svc.example/mcp"},
			},
		},
	}
	cfg := Project(entry)
	assert.Equal(t, SummaryHybrid, cfg.Transport.Summary)
}

func TestProject_UnknownWhenNeitherStdioNorRemote(t *testing.T) {
	entry := catalog.CatalogEntry{Server: catalog.ServerRecord{Name: "svc"}}
	cfg := Project(entry)
	assert.Equal(t, SummaryUnknown, cfg.Transport.Summary)
	assert.Nil(t, cfg.Stdio)
	assert.Nil(t, cfg.Remote)
}

func TestProject_ConfigIDSanitizesServerName(t *testing.T) {
	entry := catalog.CatalogEntry{
		Server: catalog.ServerRecord{
			Name: "example/weird name!",
			Packages: []catalog.Package{
				{RegistryType: "npm", Identifier: "example-mcp"},
			},
		},
	}
	cfg := Project(entry)
	assert.Contains(t, cfg.StdioHostConfigJSON, "example_weird_name_")
}
