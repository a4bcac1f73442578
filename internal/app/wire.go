package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/sharemarket/internal/blob/s3"
	"github.com/alanyoungcy/sharemarket/internal/cache/redis"
	"github.com/alanyoungcy/sharemarket/internal/chain/eth"
	"github.com/alanyoungcy/sharemarket/internal/chain/keys"
	"github.com/alanyoungcy/sharemarket/internal/config"
	"github.com/alanyoungcy/sharemarket/internal/domain"
	"github.com/alanyoungcy/sharemarket/internal/notify"
	"github.com/alanyoungcy/sharemarket/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	AgreementStore domain.AgreementStore
	BalanceStore   domain.BalanceStore
	ListingStore   domain.ListingStore
	TradeStore     domain.TradeStore
	ProposalStore  domain.ProposalStore
	VoteStore      domain.VoteStore
	AuditStore     domain.AuditStore
	PlanStore      domain.PlanStore

	// Redis
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Chain
	ChainClient domain.ChainClient

	// Blob storage (nil unless s3.enabled)
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.AgreementStore = postgres.NewAgreementStore(pool)
	deps.BalanceStore = postgres.NewBalanceStore(pool)
	deps.ListingStore = postgres.NewListingStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.ProposalStore = postgres.NewProposalStore(pool)
	deps.VoteStore = postgres.NewVoteStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.PlanStore = postgres.NewPlanStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Ethereum ---
	chainClient, err := eth.New(ctx, eth.Config{
		RPCURL:           cfg.Chain.RPCURL,
		ChainID:          cfg.Chain.ChainID,
		GovernorContract: cfg.Chain.GovernorContract,
		Keys: keys.Config{
			RawPrivateKey:    cfg.Chain.PrivateKey,
			EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
			Password:         cfg.Chain.KeyPassword,
		},
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: eth: %w", err)
	}
	closers = append(closers, chainClient.Close)
	deps.ChainClient = chainClient

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.TradeStore, deps.AuditStore)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
