package ristretto_test

import (
	"testing"

	"github.com/Strob0t/agentmode/internal/adapter/ristretto"
	"github.com/Strob0t/agentmode/internal/port/cache/cachetest"
)

func TestCache_Compliance(t *testing.T) {
	c, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	cachetest.RunComplianceTests(t, c)
}

func TestNew_DefaultSize(t *testing.T) {
	c, err := ristretto.New(0)
	if err != nil {
		t.Fatalf("New(0) should fall back to the default size: %v", err)
	}
	c.Close()
}
