package node

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ssbc/solar/internal/config"
)

func TestNewAssemblesNode(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.Storage.DataDir = dir
	cfg.Network.ListenPort = 0

	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if n.ID() == "" {
		t.Errorf("expected a non-empty node ID")
	}

	secretPath := filepath.Join(dir, "secret.toml")
	if _, err := os.Stat(secretPath); err != nil {
		t.Errorf("expected secret.toml to be created at %s: %v", secretPath, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.fxApp.Stop(ctx); err != nil {
		t.Errorf("failed to stop fx app: %v", err)
	}
}
