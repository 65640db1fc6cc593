package core

// Metrics records the application counters exposed on the debug server.
type Metrics interface {
	AttemptFinalized(reason string)
	CacheLookup(cache string, hit bool)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) AttemptFinalized(string)  {}
func (NopMetrics) CacheLookup(string, bool) {}
