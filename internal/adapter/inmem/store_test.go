package inmem_test

import (
	"testing"

	"github.com/Strob0t/agentmode/internal/adapter/inmem"
	"github.com/Strob0t/agentmode/internal/port/strategystore"
	"github.com/Strob0t/agentmode/internal/port/strategystore/storetest"
)

func TestStore_Compliance(t *testing.T) {
	storetest.RunComplianceTests(t, func(*testing.T) strategystore.Store { return inmem.NewStore() })
}
