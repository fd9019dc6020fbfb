package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

// Metrics exposes a tiny in-memory counter set for the dispatch service.
type Metrics struct {
	collected  atomic.Int64
	dispatched atomic.Int64
	delivered  atomic.Int64
	failed     atomic.Int64
	marked     atomic.Int64
}

// New returns a zeroed Metrics collector.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) AddCollected(n int) { m.collected.Add(int64(n)) }
func (m *Metrics) IncDispatched()     { m.dispatched.Add(1) }
func (m *Metrics) IncDelivered()      { m.delivered.Add(1) }
func (m *Metrics) IncFailed()         { m.failed.Add(1) }
func (m *Metrics) IncMarked()         { m.marked.Add(1) }

// Handler exposes the counters via a very small JSON response so we do not
// need to pull in a heavy metrics dependency for this service.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "collected": ` + itoa(m.collected.Load()) + `,
  "dispatched": ` + itoa(m.dispatched.Load()) + `,
  "delivered": ` + itoa(m.delivered.Load()) + `,
  "failed": ` + itoa(m.failed.Load()) + `,
  "marked": ` + itoa(m.marked.Load()) + `
}`))
	})
}

func itoa(v int64) string {
	return fmt.Sprintf("%d", v)
}
