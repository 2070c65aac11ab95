package preflight

import (
	"context"
	"fmt"
	"strings"
)

// CheckSnapshot warns when no snapshot is loaded or a store failed to load.
func (c *Checker) CheckSnapshot(s Snapshot) CheckResult {
	result := CheckResult{Name: "snapshot"}

	if !s.Loaded() {
		result.Status = StatusWarn
		result.Message = "no snapshot found; run 'assistchat build'"
		return result
	}
	if problems := s.Problems(); len(problems) > 0 {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%d store(s) unusable; search runs degraded", len(problems))
		result.Details = strings.Join(problems, "; ")
		return result
	}

	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// CheckEmbedder reports whether the embedding service answers. Searches
// fall back to keyword retrieval without it.
func (c *Checker) CheckEmbedder(ctx context.Context, name string, p Prober) CheckResult {
	result := CheckResult{Name: "embedder", Details: name}

	if !p.Available(ctx) {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s is not reachable; only keyword search will work", name)
		return result
	}

	result.Status = StatusPass
	result.Message = name
	return result
}

// CheckReranker reports whether the cross-encoder answers. Results keep
// their fused order without it.
func (c *Checker) CheckReranker(ctx context.Context, enabled bool, model string, p Prober) CheckResult {
	result := CheckResult{Name: "reranker", Details: model}

	switch {
	case !enabled:
		result.Status = StatusPass
		result.Message = "disabled"
	case p == nil || !p.Available(ctx):
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s is not reachable; results keep fused order", model)
	default:
		result.Status = StatusPass
		result.Message = model
	}
	return result
}
