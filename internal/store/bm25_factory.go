package store

// NewLexicalIndex returns an empty index for backend. Empty and unknown
// values fall back to sqlite; memory must be asked for.
func NewLexicalIndex(backend LexicalBackend) LexicalIndex {
	switch backend {
	case BackendMemory:
		return NewOkapiBM25()
	case BackendBleve:
		return NewBleveBM25()
	default:
		return NewSQLiteBM25()
	}
}

// NewVectorIndex returns an empty index for the given strategy.
func NewVectorIndex(indexType IndexType, cfg HNSWConfig) VectorIndex {
	if indexType == IndexHNSW {
		return NewHNSWIndex(cfg)
	}
	return NewFlatIndex(cfg.Metric)
}

// MetricFor maps the embeddings.normalize setting onto a metric.
func MetricFor(normalize bool) Metric {
	if normalize {
		return MetricCosine
	}
	return MetricL2
}
