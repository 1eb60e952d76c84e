package metrics

import (
	"database/sql"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// =============================================================================
// Connection Pool Monitor
// =============================================================================

var (
	poolMu     sync.Mutex
	registered = map[string]prometheus.Collector{}
)

// RegisterPool exports database/sql pool statistics under db_name=name.
// Registering a name twice replaces the earlier pool.
func RegisterPool(name string, db *sql.DB) {
	if db == nil {
		return
	}
	poolMu.Lock()
	defer poolMu.Unlock()

	if old, ok := registered[name]; ok {
		prometheus.Unregister(old)
	}
	c := collectors.NewDBStatsCollector(db, name)
	if err := prometheus.Register(c); err != nil {
		return
	}
	registered[name] = c
}

// UnregisterPool stops exporting the named pool.
func UnregisterPool(name string) {
	poolMu.Lock()
	defer poolMu.Unlock()

	if c, ok := registered[name]; ok {
		prometheus.Unregister(c)
		delete(registered, name)
	}
}
