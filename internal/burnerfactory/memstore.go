package burnerfactory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aegix-network/gateway/internal/gwerr"
)

// MemoryStore is an in-process Store used by tests. The gateway process
// hands the factory the durable Postgres store directly; no MemoryStore is
// layered in front of it.
type MemoryStore struct {
	mu     sync.Mutex
	issued map[string]struct{}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{issued: make(map[string]struct{})}
}

func (m *MemoryStore) MarkIssued(_ context.Context, pubkeyHex string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.issued[pubkeyHex]; exists {
		return gwerr.New(gwerr.InvalidArgument, fmt.Sprintf("burner %s already issued", pubkeyHex))
	}
	m.issued[pubkeyHex] = struct{}{}
	return nil
}
