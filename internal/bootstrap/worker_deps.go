package bootstrap

import (
	"context"
	"fmt"
	"time"

	"engagement_worker/adapter/out/graph"
	"engagement_worker/adapter/out/messaging"
	"engagement_worker/adapter/out/mongodb"
	"engagement_worker/adapter/out/persistence"
	"engagement_worker/adapter/out/provider"
	"engagement_worker/config"
	"engagement_worker/core/agent/llm"
	"engagement_worker/core/port/out"
	"engagement_worker/core/service/content"
	"engagement_worker/core/service/decision"
	"engagement_worker/core/service/feature"
	"engagement_worker/core/service/normalize"
	"engagement_worker/core/service/pipeline"
	"engagement_worker/infra/database"
	"engagement_worker/pkg/cache"
	"engagement_worker/pkg/crypto"
	"engagement_worker/pkg/logger"
	"engagement_worker/pkg/metrics"
	"engagement_worker/pkg/ratelimit"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

const initTimeout = 30 * time.Second

// Dependencies holds every connection and service built from Config. Only the
// MongoDB source is required; every other store degrades to "not configured".
type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client
	Neo4j   neo4j.DriverWithContext

	// Adapters
	RawData  *mongodb.RawDataAdapter
	Audit    *persistence.AuditAdapter
	Cache    *cache.RedisCache
	Affinity *graph.AffinityAdapter
	Producer *messaging.RedisProducer
	Sender   out.EmailSender

	// Services
	LLMClient *llm.Client
	Rules     *decision.Engine
	Pipeline  *pipeline.Service
	Send      *pipeline.SendHandler
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// MongoDB (raw learner data)
	mongoClient, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
	if err != nil {
		return nil, nil, err
	}
	deps.MongoDB = mongoClient
	cleanups = append(cleanups, func() { mongoClient.Disconnect(context.Background()) })
	deps.RawData = mongodb.NewRawDataAdapter(mongoClient.Database(cfg.MongoDBName))
	if err := deps.RawData.EnsureIndexes(ctx); err != nil {
		logger.Warn("Failed to ensure MongoDB indexes: %v", err)
	}

	// PostgreSQL (audit store)
	if cfg.DatabaseURL != "" {
		deps.initPostgres(ctx, &cleanups)
	} else {
		logger.Warn("DATABASE_URL not set, audit trail disabled")
	}

	// Redis (cache, counters, send stream)
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis connection failed: %v", err)
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { redisClient.Close() })
			deps.Cache = cache.NewRedisCache(redisClient)
			deps.Producer = messaging.NewRedisProducer(redisClient, cfg.SendStream)
		}
	}

	// Neo4j (subject affinity graph)
	if cfg.Neo4jURL != "" {
		driver, err := graph.NewDriver(ctx, cfg.Neo4jURL, cfg.Neo4jUsername, cfg.Neo4jPassword)
		if err != nil {
			logger.Warn("Neo4j connection failed: %v", err)
		} else {
			deps.Neo4j = driver
			cleanups = append(cleanups, func() { driver.Close(context.Background()) })
			deps.Affinity = graph.NewAffinityAdapter(driver, cfg.Neo4jDatabase)
			if err := deps.Affinity.EnsureIndexes(ctx); err != nil {
				logger.Warn("Failed to ensure Neo4j constraints: %v", err)
			}
		}
	}

	// Gmail
	if cfg.GmailConfigured() {
		if sender, err := newGmailSender(ctx, cfg); err != nil {
			logger.Warn("Gmail sender unavailable: %v", err)
		} else {
			deps.Sender = sender
		}
	}

	deps.buildServices()

	logger.WithFields(map[string]any{
		"postgres": deps.Audit != nil,
		"redis":    deps.Redis != nil,
		"neo4j":    deps.Affinity != nil,
		"llm":      deps.LLMClient != nil,
		"gmail":    deps.Sender != nil,
		"dry_run":  cfg.DryRun,
	}).Info("Dependencies initialized")

	return deps, cleanup, nil
}

// newGmailSender opens the refresh token when it is sealed with ENCRYPTION_KEY.
func newGmailSender(ctx context.Context, cfg *config.Config) (*provider.GmailSender, error) {
	refreshToken, err := crypto.Reveal(cfg.GmailRefreshToken, cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("GMAIL_REFRESH_TOKEN: %w", err)
	}
	return provider.NewGmailSender(ctx, &provider.GmailConfig{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		RefreshToken: refreshToken,
		From:         cfg.GmailSender,
		FromName:     cfg.GmailSenderName,
	})
}

func (d *Dependencies) initPostgres(ctx context.Context, cleanups *[]func()) {
	pool, err := database.NewPostgres(ctx, d.Config.DatabaseURL)
	if err != nil {
		logger.Warn("PostgreSQL pool failed: %v", err)
		return
	}
	d.DB = pool
	*cleanups = append(*cleanups, pool.Close)

	sqlDB, err := database.NewSQLX(ctx, d.Config.DatabaseURL)
	if err != nil {
		logger.Warn("sqlx connection failed: %v", err)
		return
	}
	d.SQLDB = sqlDB
	*cleanups = append(*cleanups, func() {
		metrics.UnregisterPool("postgres")
		sqlDB.Close()
	})
	metrics.RegisterPool("postgres", sqlDB.DB)

	if err := persistence.EnsureAuditSchema(ctx, sqlDB); err != nil {
		logger.Warn("Failed to ensure audit schema: %v", err)
		return
	}
	d.Audit = persistence.NewAuditAdapter(sqlDB)
}

func (d *Dependencies) buildServices() {
	cfg := d.Config

	rules := decision.DefaultRules()
	if cfg.RulesFile != "" {
		// Falls back to the defaults on error, already logged.
		rules, _ = decision.LoadRules(cfg.RulesFile)
	}

	var engineOpts []decision.Option
	if d.Audit != nil {
		engineOpts = append(engineOpts, decision.WithCooldownStore(d.Audit))
	}
	d.Rules = decision.NewEngine(rules, decision.Limits{
		MaxEmailsPerWeek: cfg.MaxEmailsPerWeek,
		MaxEmailsPerDay:  cfg.MaxEmailsPerDay,
		BasicWeeklyCap:   cfg.BasicWeeklyCap,
		QuietHoursStart:  cfg.QuietHoursStart,
		QuietHoursEnd:    cfg.QuietHoursEnd,
		DefaultTimezone:  cfg.DefaultTimezone,
	}, engineOpts...)

	featureOpts := []feature.Option{feature.WithAnalyzeTimeout(cfg.LLMTimeout)}
	composerOpts := []content.Option{content.WithTimeout(cfg.LLMTimeout)}
	if cfg.OpenAIAPIKey != "" {
		d.LLMClient = llm.NewClientWithConfig(llm.ClientConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.LLMModel})
		featureOpts = append(featureOpts, feature.WithAnalyzer(llm.NewAnalyzer(d.LLMClient)))
		composerOpts = append(composerOpts, content.WithGenerator(llm.NewGenerator(d.LLMClient)))
	}

	opts := []pipeline.Option{
		pipeline.WithNormalizer(normalize.NewNormalizer()),
		pipeline.WithFeatureEngine(feature.NewEngine(featureOpts...)),
		pipeline.WithComposer(content.NewComposer(composerOpts...)),
		pipeline.WithConfig(pipeline.Config{
			DryRun:      cfg.DryRun,
			UserLimit:   cfg.PipelineUserLimit,
			FeatureTTL:  cfg.FeatureCacheTTL,
			UserTimeout: cfg.PipelineUserTimeout,
		}),
	}
	// Typed nils must not reach the interface fields.
	if d.Audit != nil {
		opts = append(opts, pipeline.WithAuditStore(d.Audit))
	}
	if d.Cache != nil {
		opts = append(opts, pipeline.WithFeatureCache(d.Cache))
	}
	if d.Affinity != nil {
		opts = append(opts, pipeline.WithAffinityGraph(d.Affinity))
	}
	if d.Producer != nil {
		opts = append(opts, pipeline.WithProducer(d.Producer))
	}
	d.Pipeline = pipeline.NewService(d.RawData, d.Rules, opts...)

	sendOpts := []pipeline.SendOption{
		pipeline.WithRateLimiter(ratelimit.NewSlidingWindowLimiter(d.Redis, cfg.SendRatePerSecond, cfg.SendRateBurst)),
		pipeline.WithDeduper(ratelimit.NewDebouncer(d.Redis, cfg.DuplicateSendWindow)),
	}
	if d.Audit != nil {
		sendOpts = append(sendOpts, pipeline.WithSendAudit(d.Audit))
	}
	if d.Cache != nil {
		sendOpts = append(sendOpts, pipeline.WithSendCounters(d.Cache))
	}
	d.Send = pipeline.NewSendHandler(d.Sender, cfg.MaxEmailsPerDay, sendOpts...)
}

// SourcesStatus reports the raw data collections for the admin API.
func (d *Dependencies) SourcesStatus(ctx context.Context) (any, error) {
	return d.RawData.SourcesStatus(ctx)
}
