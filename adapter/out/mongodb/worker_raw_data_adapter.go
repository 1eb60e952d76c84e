package mongodb

import (
	"context"
	"fmt"
	"sort"

	"engagement_worker/core/domain"
	"engagement_worker/core/port/out"
	"engagement_worker/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// MongoDB Raw Data Adapter
// =============================================================================

// emailCollation matches emails case-insensitively.
var emailCollation = &options.Collation{Locale: "en", Strength: 2}

var sourceTables = []string{
	domain.TableProfiles, domain.TableConversations, domain.TableTestSeries,
	domain.TableTestRecords, domain.TableLearning, domain.TableCoursePlans,
	domain.TableLoginSessions,
}

// RawDataAdapter implements out.RawDataSource over the source collections.
type RawDataAdapter struct {
	db *mongo.Database
}

// NewRawDataAdapter creates a new MongoDB raw data adapter.
func NewRawDataAdapter(db *mongo.Database) *RawDataAdapter {
	return &RawDataAdapter{db: db}
}

var _ out.RawDataSource = (*RawDataAdapter)(nil)

// EnsureIndexes creates the email indexes the per-user lookups rely on.
func (a *RawDataAdapter) EnsureIndexes(ctx context.Context) error {
	for _, name := range sourceTables {
		model := mongo.IndexModel{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetCollation(emailCollation),
		}
		if _, err := a.db.Collection(name).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("index %s: %w", name, err)
		}
	}
	return nil
}

// GetUserData loads every record of one user. The collections are read in
// parallel; documents that fail to decode are skipped.
func (a *RawDataAdapter) GetUserData(ctx context.Context, email string) (*domain.UserRawData, error) {
	email = domain.NormalizeEmail(email)
	data := &domain.UserRawData{Email: email}

	profile, err := a.findProfile(ctx, email)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return data, nil
	}
	data.Profile = profile

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		data.Conversations, err = findAll[domain.RawConversation](gctx, a.db, domain.TableConversations, email)
		return err
	})
	g.Go(func() (err error) {
		data.TestSeries, err = findAll[domain.RawTestRecord](gctx, a.db, domain.TableTestSeries, email)
		return err
	})
	g.Go(func() (err error) {
		data.TestRecords, err = findAll[domain.RawTestRecord](gctx, a.db, domain.TableTestRecords, email)
		return err
	})
	g.Go(func() (err error) {
		data.Learning, err = findAll[domain.RawLearningRecord](gctx, a.db, domain.TableLearning, email)
		return err
	})
	g.Go(func() (err error) {
		data.CoursePlans, err = findAll[domain.RawCoursePlan](gctx, a.db, domain.TableCoursePlans, email)
		return err
	})
	g.Go(func() (err error) {
		data.LoginSessions, err = findAll[domain.RawLoginSession](gctx, a.db, domain.TableLoginSessions, email)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range data.TestSeries {
		data.TestSeries[i].Table = domain.TableTestSeries
	}
	for i := range data.TestRecords {
		data.TestRecords[i].Table = domain.TableTestRecords
	}
	return data, nil
}

func (a *RawDataAdapter) findProfile(ctx context.Context, email string) (*domain.RawProfile, error) {
	var profile domain.RawProfile
	err := a.db.Collection(domain.TableProfiles).
		FindOne(ctx, bson.M{"email": email}, options.FindOne().SetCollation(emailCollation)).
		Decode(&profile)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find profile: %w", err)
	}
	return &profile, nil
}

func findAll[T any](ctx context.Context, db *mongo.Database, collection, email string) ([]T, error) {
	cursor, err := db.Collection(collection).Find(ctx, bson.M{"email": email}, options.Find().SetCollation(emailCollation))
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var records []T
	for cursor.Next(ctx) {
		var rec T
		if err := cursor.Decode(&rec); err != nil {
			logger.WithField("collection", collection).WithError(err).Warn("skipping malformed document")
			continue
		}
		records = append(records, rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return records, nil
}

// ListUserEmails returns distinct profile emails in lexical order. limit <= 0
// returns all of them.
func (a *RawDataAdapter) ListUserEmails(ctx context.Context, limit int) ([]string, error) {
	raw, err := a.db.Collection(domain.TableProfiles).Distinct(ctx, "email", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list emails: %w", err)
	}

	seen := make(map[string]struct{}, len(raw))
	emails := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = domain.NormalizeEmail(s)
		if _, dup := seen[s]; dup || s == "" {
			continue
		}
		seen[s] = struct{}{}
		emails = append(emails, s)
	}
	sort.Strings(emails)
	if limit > 0 && len(emails) > limit {
		emails = emails[:limit]
	}
	return emails, nil
}

func (a *RawDataAdapter) Ping(ctx context.Context) error {
	return a.db.Client().Ping(ctx, nil)
}

// SourceStatus is the reachability and estimated size of one source collection.
type SourceStatus struct {
	Collection string `json:"collection"`
	Available  bool   `json:"available"`
	Documents  int64  `json:"documents"`
	Error      string `json:"error,omitempty"`
}

// SourcesStatus reports every source collection. A missing collection is
// reported unavailable rather than failing the call.
func (a *RawDataAdapter) SourcesStatus(ctx context.Context) ([]SourceStatus, error) {
	names, err := a.db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	existing := make(map[string]bool, len(names))
	for _, name := range names {
		existing[name] = true
	}

	statuses := make([]SourceStatus, 0, len(sourceTables))
	for _, name := range sourceTables {
		status := SourceStatus{Collection: name}
		if !existing[name] {
			status.Error = "collection not found"
			statuses = append(statuses, status)
			continue
		}
		count, err := a.db.Collection(name).EstimatedDocumentCount(ctx)
		if err != nil {
			status.Error = err.Error()
		} else {
			status.Available = true
			status.Documents = count
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
