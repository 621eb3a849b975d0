// Package recordpool pools types.Record values so the per-event paths
// of EventLogMonitor and TraceMonitor in internal/monitor don't allocate
// a Record for every event. FileLogMonitor writes lines without a Record.
package recordpool

import (
	"sync"

	"github.com/oyelaran-devlabs/logmonitor/pkg/types"
)

var pool = sync.Pool{
	New: func() interface{} {
		return new(types.Record)
	},
}

// Get returns a zeroed Record from the pool.
func Get() *types.Record {
	r := pool.Get().(*types.Record)
	r.Reset()
	return r
}

// Put returns r to the pool. Callers must not use r after Put.
func Put(r *types.Record) {
	if r != nil {
		pool.Put(r)
	}
}
