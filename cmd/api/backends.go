package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/mittalrahul074/picklist/internal/platform/config"
	"github.com/mittalrahul074/picklist/internal/platform/events"
	pfirestore "github.com/mittalrahul074/picklist/internal/platform/firestore"
	"github.com/mittalrahul074/picklist/internal/platform/idempotency"
	"github.com/mittalrahul074/picklist/internal/platform/observability"
	ppostgres "github.com/mittalrahul074/picklist/internal/platform/postgres"
	"github.com/mittalrahul074/picklist/internal/platform/retry"
	pstorage "github.com/mittalrahul074/picklist/internal/platform/storage"
	"github.com/mittalrahul074/picklist/internal/repositories"
	firestoreRepo "github.com/mittalrahul074/picklist/internal/repositories/firestore"
	memoryRepo "github.com/mittalrahul074/picklist/internal/repositories/memory"
	postgresRepo "github.com/mittalrahul074/picklist/internal/repositories/postgres"
	"github.com/mittalrahul074/picklist/internal/services"
)

const closeTimeout = 5 * time.Second

type storeBackend struct {
	orders     repositories.OrderRepository
	outOfStock repositories.OutOfStockRepository
	replay     idempotency.Store
	checks     []repositories.DependencyCheck
	close      func()
}

func openStore(ctx context.Context, cfg config.Config, policy retry.Policy, logger *zap.Logger) (storeBackend, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		if _, err := provider.Client(ctx); err != nil {
			return storeBackend{}, err
		}
		orders, err := firestoreRepo.NewOrderRepository(provider, pfirestore.WithRetryPolicy(policy))
		if err != nil {
			return storeBackend{}, err
		}
		reports, err := firestoreRepo.NewOutOfStockRepository(provider, pfirestore.WithRetryPolicy(policy))
		if err != nil {
			return storeBackend{}, err
		}
		replay, err := idempotency.NewFirestoreStore(provider, "", pfirestore.WithRetryPolicy(policy))
		if err != nil {
			return storeBackend{}, err
		}
		return storeBackend{
			orders:     orders,
			outOfStock: reports,
			replay:     replay,
			checks:     []repositories.DependencyCheck{{Name: "firestore", Check: provider.Ping}},
			close: func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
				defer cancel()
				if err := provider.Close(closeCtx); err != nil {
					logger.Warn("firestore close error", zap.Error(err))
				}
			},
		}, nil

	case config.StoreBackendPostgres:
		db, err := ppostgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return storeBackend{}, err
		}
		if cfg.Postgres.MigrateOnStart {
			if err := db.Migrate(ctx); err != nil {
				_ = db.Close(ctx)
				return storeBackend{}, err
			}
		}
		orders, err := postgresRepo.NewOrderRepository(db, policy)
		if err != nil {
			_ = db.Close(ctx)
			return storeBackend{}, err
		}
		reports, err := postgresRepo.NewOutOfStockRepository(db, policy)
		if err != nil {
			_ = db.Close(ctx)
			return storeBackend{}, err
		}
		return storeBackend{
			orders:     orders,
			outOfStock: reports,
			replay:     idempotency.NewMemoryStore(),
			checks:     []repositories.DependencyCheck{{Name: "postgres", Check: db.Ping}},
			close: func() {
				_ = db.Close(context.Background())
			},
		}, nil

	case config.StoreBackendMemory:
		logger.Warn("using in-memory order store; data is lost on restart")
		return storeBackend{
			orders:     memoryRepo.NewOrderRepository(),
			outOfStock: memoryRepo.NewOutOfStockRepository(),
			replay:     idempotency.NewMemoryStore(),
			checks: []repositories.DependencyCheck{{
				Name:  "memory",
				Check: func(context.Context) error { return nil },
			}},
			close: func() {},
		}, nil

	default:
		return storeBackend{}, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

type eventBackend struct {
	publisher services.OrderEventPublisher
	checks    []repositories.DependencyCheck
	close     func()
}

func openEvents(ctx context.Context, cfg config.Config, metrics *observability.Metrics, logger *zap.Logger) (eventBackend, error) {
	switch cfg.Events.Backend {
	case config.EventsBackendNone, "":
		return eventBackend{close: func() {}}, nil

	case config.EventsBackendPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			return eventBackend{}, err
		}
		topic := client.Topic(cfg.Events.Topic)
		publisher, err := events.NewPubSubPublisher(topic, metrics)
		if err != nil {
			_ = client.Close()
			return eventBackend{}, err
		}
		check := func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", cfg.Events.Topic)
			}
			return nil
		}
		return eventBackend{
			publisher: publisher,
			checks:    []repositories.DependencyCheck{{Name: "pubsub", Check: check}},
			close: func() {
				publisher.Close()
				if err := client.Close(); err != nil {
					logger.Warn("pubsub close error", zap.Error(err))
				}
			},
		}, nil

	case config.EventsBackendKafka:
		producer, err := events.DialKafka(cfg.Events.KafkaBrokers, logger)
		if err != nil {
			return eventBackend{}, err
		}
		publisher, err := events.NewKafkaPublisher(producer, cfg.Events.Topic, metrics, logger)
		if err != nil {
			_ = producer.Close()
			return eventBackend{}, err
		}
		return eventBackend{
			publisher: publisher,
			close: func() {
				if err := publisher.Close(); err != nil {
					logger.Warn("kafka close error", zap.Error(err))
				}
			},
		}, nil

	default:
		return eventBackend{}, fmt.Errorf("unknown events backend %q", cfg.Events.Backend)
	}
}

type exportBackend struct {
	exporter *pstorage.Exporter
	checks   []repositories.DependencyCheck
	close    func()
}

func openExports(ctx context.Context, cfg config.Config, logger *zap.Logger) (exportBackend, error) {
	bucket := strings.TrimSpace(cfg.Storage.ExportsBucket)
	if bucket == "" {
		logger.Info("picklist exports disabled; no bucket configured")
		return exportBackend{close: func() {}}, nil
	}

	client, err := cloudstorage.NewClient(ctx)
	if err != nil {
		return exportBackend{}, err
	}

	var urls *pstorage.URLSigner
	if creds := strings.TrimSpace(cfg.Storage.SignerCredentials); creds != "" {
		signer, err := pstorage.NewServiceAccountSigner([]byte(creds))
		if err != nil {
			_ = client.Close()
			return exportBackend{}, err
		}
		urls, err = pstorage.NewURLSigner(signer, cfg.Storage.DownloadURLExpiry, nil)
		if err != nil {
			_ = client.Close()
			return exportBackend{}, err
		}
	}

	exporter, err := pstorage.NewExporter(client, bucket, urls)
	if err != nil {
		_ = client.Close()
		return exportBackend{}, err
	}
	check := func(ctx context.Context) error {
		_, err := client.Bucket(bucket).Attrs(ctx)
		return err
	}
	return exportBackend{
		exporter: exporter,
		checks:   []repositories.DependencyCheck{{Name: "storage", Check: check}},
		close: func() {
			if err := exporter.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		},
	}, nil
}
