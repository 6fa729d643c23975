package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile        = ".env"
	defaultPort           = "8080"
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultIdleTimeout    = 120 * time.Second
	defaultStoreBackend   = StoreBackendFirestore
	defaultPostgresConns  = 10
	defaultTxAttempts     = 5
	defaultTxInitial      = 50 * time.Millisecond
	defaultTxMax          = 2 * time.Second
	defaultTxMultiplier   = 2.0
	defaultTxTimeout      = 15 * time.Second
	defaultIngestBatch    = 500
	defaultRecentWindow   = 7 * 24 * time.Hour
	defaultSnapshotTTL    = 30 * time.Second
	defaultEventsBackend  = EventsBackendNone
	defaultEventsTopic    = "picklist-order-events"
	defaultFeedQueue      = "picklist.ingest"
	defaultFeedPrefetch   = 10
	defaultActorHeader    = "X-Actor-ID"
	defaultMetricsEnabled = true
	defaultDownloadExpiry = 10 * time.Minute
	defaultRateWindow     = time.Minute
	defaultIdempotencyTTL = 24 * time.Hour
	defaultEnvironment    = "local"
)

// Store backends.
const (
	StoreBackendFirestore = "firestore"
	StoreBackendPostgres  = "postgres"
	StoreBackendMemory    = "memory"
)

// Event backends.
const (
	EventsBackendNone   = "none"
	EventsBackendPubSub = "pubsub"
	EventsBackendKafka  = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server       ServerConfig
	Store        StoreConfig
	Firestore    FirestoreConfig
	Postgres     PostgresConfig
	Transactions TransactionConfig
	Ingestion    IngestionConfig
	Orders       OrdersConfig
	Events       EventsConfig
	Feed         FeedConfig
	Storage      StorageConfig
	Metrics      MetricsConfig
	Build        BuildConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	ActorHeader  string
	// AllocationRateLimit caps allocations per operator per window. Zero disables limiting.
	AllocationRateLimit  int
	AllocationRateWindow time.Duration
	// IdempotencyTTL bounds how long Idempotency-Key responses are replayed.
	IdempotencyTTL time.Duration
	// IngestSigningSecret enables HMAC verification on bulk ingestion when set. May be a secret:// ref.
	IngestSigningSecret string
}

// StoreConfig selects the order store implementation.
type StoreConfig struct {
	Backend string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PostgresConfig stores connection settings for the relational backend.
type PostgresConfig struct {
	DSN            string
	MaxConns       int
	MigrateOnStart bool
}

// TransactionConfig is the single retry policy applied by every store backend.
type TransactionConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Timeout        time.Duration
}

// IngestionConfig caps ingestion write batches.
type IngestionConfig struct {
	BatchSize int
}

// OrdersConfig controls order reads.
type OrdersConfig struct {
	RecentWindow time.Duration
	SnapshotTTL  time.Duration
}

// EventsConfig configures the allocation event publisher.
type EventsConfig struct {
	Backend      string
	ProjectID    string
	Topic        string
	KafkaBrokers []string
}

// FeedConfig configures the AMQP ingestion feed consumer. An empty URL disables it.
type FeedConfig struct {
	URL      string
	Queue    string
	Prefetch int
}

// StorageConfig configures picklist exports. SignerCredentials holds a service account JSON key
// used to sign download links; when empty, exports carry no link.
type StorageConfig struct {
	ExportsBucket     string
	SignerCredentials string
	DownloadURLExpiry time.Duration
}

// BuildConfig carries release metadata reported by the health endpoints.
type BuildConfig struct {
	Version     string
	CommitSHA   string
	Environment string
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// EnvironmentValues returns the effective key/value environment map using the same precedence
// as Load (dotenv < OS env < explicit env map).
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotEnvValues))
	for key, value := range dotEnvValues {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "PICKLIST_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "PICKLIST_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "PICKLIST_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "PICKLIST_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ActorHeader:  stringWithDefault(lookup, "PICKLIST_SERVER_ACTOR_HEADER", defaultActorHeader),

			AllocationRateLimit:  intWithDefault(lookup, "PICKLIST_SERVER_ALLOCATION_RATE_LIMIT", 0),
			AllocationRateWindow: durationWithDefault(lookup, "PICKLIST_SERVER_ALLOCATION_RATE_WINDOW", defaultRateWindow),
			IdempotencyTTL:       durationWithDefault(lookup, "PICKLIST_SERVER_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			IngestSigningSecret:  stringWithDefault(lookup, "PICKLIST_SERVER_INGEST_SIGNING_SECRET", ""),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(stringWithDefault(lookup, "PICKLIST_STORE_BACKEND", defaultStoreBackend)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "PICKLIST_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "PICKLIST_FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{
			DSN:            stringWithDefault(lookup, "PICKLIST_POSTGRES_DSN", ""),
			MaxConns:       intWithDefault(lookup, "PICKLIST_POSTGRES_MAX_CONNS", defaultPostgresConns),
			MigrateOnStart: boolWithDefault(lookup, "PICKLIST_POSTGRES_MIGRATE", true),
		},
		Transactions: TransactionConfig{
			MaxAttempts:    intWithDefault(lookup, "PICKLIST_TX_MAX_ATTEMPTS", defaultTxAttempts),
			InitialBackoff: durationWithDefault(lookup, "PICKLIST_TX_INITIAL_BACKOFF", defaultTxInitial),
			MaxBackoff:     durationWithDefault(lookup, "PICKLIST_TX_MAX_BACKOFF", defaultTxMax),
			Multiplier:     floatWithDefault(lookup, "PICKLIST_TX_BACKOFF_MULTIPLIER", defaultTxMultiplier),
			Timeout:        durationWithDefault(lookup, "PICKLIST_TX_TIMEOUT", defaultTxTimeout),
		},
		Ingestion: IngestionConfig{
			BatchSize: intWithDefault(lookup, "PICKLIST_INGEST_BATCH_SIZE", defaultIngestBatch),
		},
		Orders: OrdersConfig{
			RecentWindow: durationWithDefault(lookup, "PICKLIST_ORDERS_RECENT_WINDOW", defaultRecentWindow),
			SnapshotTTL:  durationWithDefault(lookup, "PICKLIST_ORDERS_SNAPSHOT_TTL", defaultSnapshotTTL),
		},
		Events: EventsConfig{
			Backend:      strings.ToLower(stringWithDefault(lookup, "PICKLIST_EVENTS_BACKEND", defaultEventsBackend)),
			ProjectID:    stringWithDefault(lookup, "PICKLIST_EVENTS_PROJECT_ID", ""),
			Topic:        stringWithDefault(lookup, "PICKLIST_EVENTS_TOPIC", defaultEventsTopic),
			KafkaBrokers: csvWithDefault(lookup, "PICKLIST_EVENTS_KAFKA_BROKERS"),
		},
		Feed: FeedConfig{
			URL:      stringWithDefault(lookup, "PICKLIST_FEED_AMQP_URL", ""),
			Queue:    stringWithDefault(lookup, "PICKLIST_FEED_QUEUE", defaultFeedQueue),
			Prefetch: intWithDefault(lookup, "PICKLIST_FEED_PREFETCH", defaultFeedPrefetch),
		},
		Storage: StorageConfig{
			ExportsBucket:     stringWithDefault(lookup, "PICKLIST_STORAGE_EXPORTS_BUCKET", ""),
			SignerCredentials: stringWithDefault(lookup, "PICKLIST_STORAGE_SIGNER_CREDENTIALS", ""),
			DownloadURLExpiry: durationWithDefault(lookup, "PICKLIST_STORAGE_DOWNLOAD_URL_EXPIRY", defaultDownloadExpiry),
		},
		Metrics: MetricsConfig{
			Enabled: boolWithDefault(lookup, "PICKLIST_METRICS_ENABLED", defaultMetricsEnabled),
		},
		Build: BuildConfig{
			Version:     stringWithDefault(lookup, "PICKLIST_BUILD_VERSION", "dev"),
			CommitSHA:   stringWithDefault(lookup, "PICKLIST_BUILD_COMMIT_SHA", "unknown"),
			Environment: stringWithDefault(lookup, "PICKLIST_ENVIRONMENT", defaultEnvironment),
		},
	}

	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}

	// Connection strings and keys may carry credentials and are allowed to reference Secret Manager.
	secretFields := []*string{&cfg.Postgres.DSN, &cfg.Feed.URL, &cfg.Storage.SignerCredentials, &cfg.Server.IngestSigningSecret}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Server.ActorHeader) == "" {
		missing = append(missing, "Server.ActorHeader")
	}
	switch cfg.Store.Backend {
	case StoreBackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case StoreBackendPostgres:
		if cfg.Postgres.DSN == "" {
			missing = append(missing, "Postgres.DSN")
		}
		if cfg.Postgres.MaxConns <= 0 {
			missing = append(missing, "Postgres.MaxConns")
		}
	case StoreBackendMemory:
	default:
		missing = append(missing, "Store.Backend")
	}
	if cfg.Transactions.MaxAttempts <= 0 {
		missing = append(missing, "Transactions.MaxAttempts")
	}
	if cfg.Transactions.Multiplier < 1 {
		missing = append(missing, "Transactions.Multiplier")
	}
	if cfg.Ingestion.BatchSize <= 0 {
		missing = append(missing, "Ingestion.BatchSize")
	}
	if cfg.Orders.RecentWindow <= 0 {
		missing = append(missing, "Orders.RecentWindow")
	}
	switch cfg.Events.Backend {
	case EventsBackendNone:
	case EventsBackendPubSub:
		if cfg.Events.ProjectID == "" {
			missing = append(missing, "Events.ProjectID")
		}
		if cfg.Events.Topic == "" {
			missing = append(missing, "Events.Topic")
		}
	case EventsBackendKafka:
		if len(cfg.Events.KafkaBrokers) == 0 {
			missing = append(missing, "Events.KafkaBrokers")
		}
		if cfg.Events.Topic == "" {
			missing = append(missing, "Events.Topic")
		}
	default:
		missing = append(missing, "Events.Backend")
	}
	if cfg.Feed.URL != "" && strings.TrimSpace(cfg.Feed.Queue) == "" {
		missing = append(missing, "Feed.Queue")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
