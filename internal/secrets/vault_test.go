package secrets_test

import (
	"testing"

	"github.com/spf13/afero"

	"github.com/Strob0t/agentmode/internal/secrets"
)

const path = "/run/secrets/agentmode.yaml"

func newFileVault(t *testing.T, fsys afero.Fs) *secrets.Vault {
	t.Helper()
	v, err := secrets.NewVault(secrets.FileLoader(fsys, path, map[string]string{
		secrets.LiteLLMMasterKey: "from-config",
		secrets.MCPAPIKey:        "mcp-config",
	}))
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}
	return v
}

func TestFileLoader_MissingFileKeepsBase(t *testing.T) {
	v := newFileVault(t, afero.NewMemMapFs())
	if got := v.Get(secrets.LiteLLMMasterKey); got != "from-config" {
		t.Errorf("Get = %q, want from-config", got)
	}
}

func TestFileLoader_FileOverridesNonEmpty(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "litellm_master_key: sk-file\nmcp_api_key: \"\"\n")
	v := newFileVault(t, fsys)

	if got := v.Get(secrets.LiteLLMMasterKey); got != "sk-file" {
		t.Errorf("litellm key = %q, want sk-file", got)
	}
	if got := v.Get(secrets.MCPAPIKey); got != "mcp-config" {
		t.Errorf("mcp key = %q, empty file value must not clear it", got)
	}
}

func TestVault_ReloadSwapsValues(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "litellm_master_key: sk-old\n")
	v := newFileVault(t, fsys)
	key := v.Source(secrets.LiteLLMMasterKey)

	writeFile(t, fsys, "litellm_master_key: sk-new\n")
	if err := v.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := key(); got != "sk-new" {
		t.Errorf("source after reload = %q, want sk-new", got)
	}
}

func TestVault_FailedReloadKeepsValues(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "litellm_master_key: sk-old\n")
	v := newFileVault(t, fsys)

	writeFile(t, fsys, "litellm_master_key: [not, a, string\n")
	if err := v.Reload(); err == nil {
		t.Fatal("expected a parse error")
	}
	if got := v.Get(secrets.LiteLLMMasterKey); got != "sk-old" {
		t.Errorf("Get = %q, want sk-old after failed reload", got)
	}
}

func TestStatic_ReturnsCopy(t *testing.T) {
	base := map[string]string{secrets.MCPAPIKey: "k"}
	v, err := secrets.NewVault(secrets.Static(base))
	if err != nil {
		t.Fatal(err)
	}
	base[secrets.MCPAPIKey] = "changed"
	if got := v.Get(secrets.MCPAPIKey); got != "k" {
		t.Errorf("Get = %q, vault must not alias the base map", got)
	}
}

func writeFile(t *testing.T, fsys afero.Fs, content string) {
	t.Helper()
	if err := afero.WriteFile(fsys, path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}
