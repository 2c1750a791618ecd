//go:build !windows

package secrets_test

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Strob0t/agentmode/internal/secrets"
)

func TestVault_ReloadOnSignal(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "mcp_api_key: first\n")
	v := newFileVault(t, fsys)

	// Keep SIGUSR1 from terminating the test binary before ReloadOn subscribes.
	guard := make(chan os.Signal, 1)
	signal.Notify(guard, syscall.SIGUSR1)
	defer signal.Stop(guard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		v.ReloadOn(ctx, syscall.SIGUSR1)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	writeFile(t, fsys, "mcp_api_key: second\n")
	deadline := time.Now().Add(2 * time.Second)
	for v.Get(secrets.MCPAPIKey) != "second" {
		if time.Now().After(deadline) {
			t.Fatal("vault was not reloaded on signal")
		}
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGUSR1)
		time.Sleep(20 * time.Millisecond)
	}
}
