package out

import "context"

// AffinityGraph stores subject affinity as weighted User-Subject edges.
type AffinityGraph interface {
	// UpsertAffinity replaces the user's subject edges with affinity.
	UpsertAffinity(ctx context.Context, email string, affinity map[string]float64) error
}
