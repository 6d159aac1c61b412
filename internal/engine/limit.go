package engine

import (
	"log/slog"

	"github.com/roach88/smartview/internal/ir"
	"github.com/roach88/smartview/internal/queryir"
)

const bytesPerMegabyte = 1024 * 1024

// LimitPolicy truncates an ordered candidate list to a playlist's limit.
//
// Count limits keep the first N candidates. Minute, hour and megabyte
// limits walk the list accumulating the attribute and cut at the first
// candidate whose inclusion would exceed the limit; everything from it on
// is excluded, even if later candidates would fit.
//
// A query without an order, or with a degenerate limit, is not limited.
type LimitPolicy struct {
	sizes  SizeResolver
	logger *slog.Logger
}

// NewLimitPolicy creates a policy. A nil sizes resolver makes every item
// count as zero megabytes.
func NewLimitPolicy(sizes SizeResolver, logger *slog.Logger) *LimitPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	return &LimitPolicy{sizes: sizes, logger: logger}
}

// Apply returns the prefix of cands that fits q's limit. cands must already
// be in q's order.
func (p *LimitPolicy) Apply(playlistID int64, q queryir.Query, cands []ir.Candidate) []ir.Candidate {
	out, err := p.limit(playlistID, q, cands)
	if err != nil {
		// Only NO_OP is returned: pass through.
		return cands
	}
	return out
}

func (p *LimitPolicy) limit(playlistID int64, q queryir.Query, cands []ir.Candidate) ([]ir.Candidate, error) {
	lim, ok := q.EffectiveLimit()
	if !ok {
		return nil, &Error{Code: CodeNoOp, PlaylistID: playlistID, Message: "limit does not apply"}
	}
	n, err := lim.Float()
	if err != nil {
		return nil, &Error{Code: CodeNoOp, PlaylistID: playlistID, Message: "limit number unreadable", Err: err}
	}

	switch lim.Criterion {
	case queryir.CriterionItems:
		count := int(n)
		if count >= len(cands) {
			return cands, nil
		}
		return cands[:count], nil
	case queryir.CriterionMinutes:
		return cut(cands, n, func(c ir.Candidate) float64 { return c.Duration.Minutes() }), nil
	case queryir.CriterionHours:
		return cut(cands, n, func(c ir.Candidate) float64 { return c.Duration.Hours() }), nil
	case queryir.CriterionMegabytes:
		return cut(cands, n, func(c ir.Candidate) float64 { return p.megabytes(playlistID, c) }), nil
	default:
		return nil, &Error{Code: CodeNoOp, PlaylistID: playlistID, Message: "unknown limit criterion " + lim.Criterion.String()}
	}
}

// cut keeps candidates while the running total stays within limit.
func cut(cands []ir.Candidate, limit float64, weight func(ir.Candidate) float64) []ir.Candidate {
	sum := 0.0
	for i, c := range cands {
		sum += weight(c)
		if sum > limit {
			return cands[:i]
		}
	}
	return cands
}

// megabytes returns the whole megabytes of an item's resource, or zero when
// it cannot be resolved.
func (p *LimitPolicy) megabytes(playlistID int64, c ir.Candidate) float64 {
	if p.sizes == nil {
		return 0
	}
	size, err := p.sizes.Size(c)
	if err != nil {
		p.logger.Debug("limit resource missing",
			"playlist", playlistID,
			"item", c.ID,
			"code", CodeResourceMissingForLimit,
			"error", err,
		)
		return 0
	}
	return float64(size / bytesPerMegabyte)
}
