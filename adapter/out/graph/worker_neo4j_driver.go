// Package graph implements the Neo4j subject affinity store.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// NewDriver creates a Neo4j driver and verifies connectivity.
func NewDriver(ctx context.Context, url, username, password string) (neo4j.DriverWithContext, error) {
	auth := neo4j.NoAuth()
	if username != "" && password != "" {
		auth = neo4j.BasicAuth(username, password, "")
	}

	driver, err := neo4j.NewDriverWithContext(url, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	return driver, nil
}
