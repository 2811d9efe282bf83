package vecstore

import (
	"os"
	"sync"

	"github.com/answerly/engine/engine/domain"
)

// Environment keys read by Shared.
const (
	EnvURL        = "QDRANT_URL"
	EnvAPIKey     = "QDRANT_API_KEY"
	EnvCollection = "QDRANT_COLLECTION"
)

const defaultURL = "localhost:6334"

var shared struct {
	once  sync.Once
	store *VectorStore
	err   error
}

// Shared returns the process-wide VectorStore, constructed from the
// environment on first use. The backing service is remote and stateless from
// this process's view, so the handle needs no teardown and is safe to reuse
// across concurrent calls. A missing credential or collection name surfaces
// here as a ConfigError rather than at process start.
func Shared() (*VectorStore, error) {
	shared.once.Do(func() {
		apiKey := os.Getenv(EnvAPIKey)
		if apiKey == "" {
			shared.err = domain.NewConfigError(EnvAPIKey)
			return
		}
		collection := os.Getenv(EnvCollection)
		if collection == "" {
			shared.err = domain.NewConfigError(EnvCollection)
			return
		}
		addr := os.Getenv(EnvURL)
		if addr == "" {
			addr = defaultURL
		}
		shared.store, shared.err = New(addr, apiKey, collection)
	})
	return shared.store, shared.err
}

// resetShared clears the singleton. Test hook only.
func resetShared() {
	shared.once = sync.Once{}
	shared.store = nil
	shared.err = nil
}
