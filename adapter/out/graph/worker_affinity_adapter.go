package graph

import (
	"context"
	"fmt"
	"sort"

	"engagement_worker/core/domain"
	"engagement_worker/core/port/out"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// =============================================================================
// Neo4j Affinity Adapter
// =============================================================================

// AffinityAdapter implements out.AffinityGraph as
// (:User {email})-[:STUDIES {weight}]->(:Subject {name}).
type AffinityAdapter struct {
	driver neo4j.DriverWithContext
	dbName string
}

// NewAffinityAdapter creates a new Neo4j affinity adapter.
func NewAffinityAdapter(driver neo4j.DriverWithContext, dbName string) *AffinityAdapter {
	return &AffinityAdapter{driver: driver, dbName: dbName}
}

var _ out.AffinityGraph = (*AffinityAdapter)(nil)

// EnsureIndexes creates the uniqueness constraints.
func (a *AffinityAdapter) EnsureIndexes(ctx context.Context) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	queries := []string{
		`CREATE CONSTRAINT user_email_unique IF NOT EXISTS FOR (u:User) REQUIRE u.email IS UNIQUE`,
		`CREATE CONSTRAINT subject_name_unique IF NOT EXISTS FOR (s:Subject) REQUIRE s.name IS UNIQUE`,
	}
	for _, query := range queries {
		if _, err := session.Run(ctx, query, nil); err != nil {
			return fmt.Errorf("neo4j schema: %w", err)
		}
	}
	return nil
}

const upsertAffinityQuery = `
	MERGE (u:User {email: $email})
	SET u.updated_at = timestamp()
	WITH u
	OPTIONAL MATCH (u)-[old:STUDIES]->(:Subject)
	DELETE old
	WITH DISTINCT u
	UNWIND $subjects AS subject
	MERGE (s:Subject {name: subject.name})
	MERGE (u)-[r:STUDIES]->(s)
	SET r.weight = subject.weight
`

// UpsertAffinity replaces the user's STUDIES edges in one write transaction.
func (a *AffinityAdapter) UpsertAffinity(ctx context.Context, email string, affinity map[string]float64) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: a.dbName,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	params := map[string]any{
		"email":    domain.NormalizeEmail(email),
		"subjects": subjectParams(affinity),
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, upsertAffinityQuery, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to upsert affinity: %w", err)
	}
	return nil
}

// subjectParams orders subjects by name so repeated writes touch nodes in the
// same order.
func subjectParams(affinity map[string]float64) []any {
	names := make([]string, 0, len(affinity))
	for name := range affinity {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	subjects := make([]any, 0, len(names))
	for _, name := range names {
		subjects = append(subjects, map[string]any{"name": name, "weight": affinity[name]})
	}
	return subjects
}

// Ping verifies connectivity.
func (a *AffinityAdapter) Ping(ctx context.Context) error {
	return a.driver.VerifyConnectivity(ctx)
}
