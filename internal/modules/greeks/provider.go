package greeks

import "context"

// Provider supplies raw Greeks for a batch of positions.
//
// The returned map may hold a strict subset of the requested position ids;
// a missing id means "no data for this leg", not a failure of the batch.
type Provider interface {
	Source() GreeksDataSource
	FetchGreeks(ctx context.Context, positions []PositionInfo) (map[string]RawGreeks, error)
}

// StaticProvider serves a fixed set of raw Greeks keyed by position id.
// It backs replays and tests.
type StaticProvider struct {
	source GreeksDataSource
	greeks map[string]RawGreeks
}

// NewStaticProvider creates a provider that always answers from greeks.
func NewStaticProvider(source GreeksDataSource, greeks map[string]RawGreeks) *StaticProvider {
	return &StaticProvider{source: source, greeks: greeks}
}

// Source returns the configured data source.
func (p *StaticProvider) Source() GreeksDataSource {
	return p.source
}

// FetchGreeks returns the known Greeks of the requested positions.
func (p *StaticProvider) FetchGreeks(_ context.Context, positions []PositionInfo) (map[string]RawGreeks, error) {
	out := make(map[string]RawGreeks, len(positions))
	for _, pos := range positions {
		if raw, ok := p.greeks[pos.PositionID]; ok {
			out[pos.PositionID] = raw
		}
	}
	return out, nil
}
