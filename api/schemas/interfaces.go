package schemas

// ResultSink observes site results as they are finalized. Implementations must be safe
// for concurrent use; the orchestrator calls Observe from its worker goroutine while
// other goroutines may read the sink's state.
type ResultSink interface {
	Observe(result SiteResult)
}

// ResultSinkFunc adapts a function to ResultSink.
type ResultSinkFunc func(result SiteResult)

func (f ResultSinkFunc) Observe(result SiteResult) { f(result) }
