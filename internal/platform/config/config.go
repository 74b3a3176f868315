package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile           = ".env"
	defaultPort              = "8080"
	defaultEnvironment       = "local"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultShutdownTimeout   = 20 * time.Second
	defaultCounterCollection = "serialNumbers"
	defaultCounterDocument   = "orderNumber"
	defaultTxAttempts        = 5
	defaultTxTimeout         = 15 * time.Second
	defaultMaxLineItems      = 200
	defaultNotifyTopic       = "order-events"
	defaultPublishTimeout    = 10 * time.Second
	defaultIdempotencyHeader = "Idempotency-Key"
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultCleanupInterval   = 15 * time.Minute
	defaultCleanupBatchSize  = 200

	// Firestore rejects commits with more than 500 writes. An order writes the counter,
	// the header and two documents per line (detail + SKU increment).
	maxCommitWrites = 500
	maxLineItems    = (maxCommitWrites - 2) / 2
)

// StoreDriver selects the document store implementation.
type StoreDriver string

const (
	StoreDriverFirestore StoreDriver = "firestore"
	StoreDriverMemory    StoreDriver = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Store         StoreConfig
	Orders        OrdersConfig
	Notifications NotificationConfig
	Idempotency   IdempotencyConfig
	Secrets       SecretsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	Environment     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	// CredentialsJSON holds a service account key. It may be a secret:// reference.
	CredentialsJSON string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StoreConfig picks the backing document store.
type StoreConfig struct {
	Driver StoreDriver
}

// OrdersConfig tunes the order creation transaction.
type OrdersConfig struct {
	CounterCollection string
	CounterDocument   string
	TxMaxAttempts     int
	TxTimeout         time.Duration
	MaxLineItems      int
}

// NotificationConfig controls the post-commit order event channel.
type NotificationConfig struct {
	Enabled     bool
	PubSubTopic string
	ProjectID   string

	// PublishTimeout bounds the background delivery of one order event.
	PublishTimeout time.Duration
}

// IdempotencyConfig controls replay protection for order submissions.
type IdempotencyConfig struct {
	Header     string
	TTL        time.Duration
	Collection string
	// CleanupInterval schedules expired key purges. Zero disables the sweeper.
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretsConfig configures Secret Manager lookups.
type SecretsConfig struct {
	ProjectID string
}

// SecretResolver resolves references to external secrets (secret:// URIs).
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

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over
// system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles configuration from defaults, the .env file, the process environment and
// explicit overrides, in increasing order of precedence.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	dotEnv, err := readDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	env := &reader{
		lookup: func(key string) (string, bool) {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
			if options.useSystemEnv {
				if value, ok := os.LookupEnv(key); ok {
					return value, true
				}
			}
			value, ok := dotEnv[key]
			return value, ok
		},
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            env.string("API_SERVER_PORT", defaultPort),
			Environment:     env.string("API_ENVIRONMENT", defaultEnvironment),
			ReadTimeout:     env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: env.duration("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.string("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.string("API_FIREBASE_CREDENTIALS_FILE", ""),
			CredentialsJSON: env.string("API_FIREBASE_CREDENTIALS_JSON", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.string("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.string("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Store: StoreConfig{
			Driver: StoreDriver(strings.ToLower(env.string("API_STORE_DRIVER", string(StoreDriverFirestore)))),
		},
		Orders: OrdersConfig{
			CounterCollection: env.string("ORDERS_COUNTER_COLLECTION", defaultCounterCollection),
			CounterDocument:   env.string("ORDERS_COUNTER_DOCUMENT", defaultCounterDocument),
			TxMaxAttempts:     env.int("ORDERS_TX_MAX_ATTEMPTS", defaultTxAttempts),
			TxTimeout:         env.duration("ORDERS_TX_TIMEOUT", defaultTxTimeout),
			MaxLineItems:      env.int("ORDERS_MAX_LINE_ITEMS", defaultMaxLineItems),
		},
		Notifications: NotificationConfig{
			Enabled:        env.bool("API_NOTIFY_ENABLED", false),
			PubSubTopic:    env.string("API_NOTIFY_PUBSUB_TOPIC", defaultNotifyTopic),
			ProjectID:      env.string("API_NOTIFY_PROJECT_ID", ""),
			PublishTimeout: env.duration("API_NOTIFY_PUBLISH_TIMEOUT", defaultPublishTimeout),
		},
		Idempotency: IdempotencyConfig{
			Header:     env.string("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:        env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			Collection: env.string("API_IDEMPOTENCY_COLLECTION", "submissionKeys"),

			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultCleanupInterval),
			CleanupBatchSize: env.int("API_IDEMPOTENCY_CLEANUP_BATCH", defaultCleanupBatchSize),
		},
		Secrets: SecretsConfig{
			ProjectID: env.string("API_SECRETS_PROJECT_ID", ""),
		},
	}

	// Project ids cascade from Firebase unless set explicitly.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Notifications.ProjectID == "" {
		cfg.Notifications.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Secrets.ProjectID == "" {
		cfg.Secrets.ProjectID = cfg.Firebase.ProjectID
	}

	resolved, err := resolveSecret(ctx, cfg.Firebase.CredentialsJSON, options.secret)
	if err != nil {
		return Config{}, err
	}
	cfg.Firebase.CredentialsJSON = resolved

	if err := validate(cfg, env.invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config, invalid []string) error {
	fields := append([]string(nil), invalid...)

	if strings.TrimSpace(cfg.Server.Port) == "" {
		fields = append(fields, "Server.Port")
	}
	switch cfg.Store.Driver {
	case StoreDriverFirestore:
		if cfg.Firebase.ProjectID == "" {
			fields = append(fields, "Firebase.ProjectID")
		}
		if cfg.Firestore.ProjectID == "" {
			fields = append(fields, "Firestore.ProjectID")
		}
	case StoreDriverMemory:
	default:
		fields = append(fields, "Store.Driver")
	}
	if strings.TrimSpace(cfg.Orders.CounterCollection) == "" || strings.Contains(cfg.Orders.CounterCollection, "/") {
		fields = append(fields, "Orders.CounterCollection")
	}
	if strings.TrimSpace(cfg.Orders.CounterDocument) == "" || strings.Contains(cfg.Orders.CounterDocument, "/") {
		fields = append(fields, "Orders.CounterDocument")
	}
	if cfg.Orders.TxMaxAttempts <= 0 {
		fields = append(fields, "Orders.TxMaxAttempts")
	}
	if cfg.Orders.TxTimeout <= 0 {
		fields = append(fields, "Orders.TxTimeout")
	}
	if cfg.Orders.MaxLineItems <= 0 || cfg.Orders.MaxLineItems > maxLineItems {
		fields = append(fields, "Orders.MaxLineItems")
	}
	if cfg.Idempotency.TTL <= 0 {
		fields = append(fields, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval < 0 {
		fields = append(fields, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		fields = append(fields, "Idempotency.CleanupBatchSize")
	}
	if strings.Contains(cfg.Idempotency.Collection, "/") {
		fields = append(fields, "Idempotency.Collection")
	}
	if cfg.Notifications.Enabled {
		if strings.TrimSpace(cfg.Notifications.PubSubTopic) == "" {
			fields = append(fields, "Notifications.PubSubTopic")
		}
		if cfg.Notifications.ProjectID == "" {
			fields = append(fields, "Notifications.ProjectID")
		}
		if cfg.Notifications.PublishTimeout <= 0 {
			fields = append(fields, "Notifications.PublishTimeout")
		}
	}

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !IsSecretReference(trimmed) {
		return value, nil
	}
	ref := normalizeSecretReference(trimmed)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

// IsSecretReference reports whether value points at Secret Manager instead of holding a literal.
func IsSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	if strings.HasPrefix(value, "sm://") {
		return "secret://" + strings.TrimPrefix(value, "sm://")
	}
	return value
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

// reader looks up typed values and remembers keys whose values failed to parse.
type reader struct {
	lookup  func(string) (string, bool)
	invalid []string
}

func (r *reader) raw(key string) (string, bool) {
	value, ok := r.lookup(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (r *reader) string(key, fallback string) string {
	if value, ok := r.raw(key); ok {
		return value
	}
	return fallback
}

func (r *reader) duration(key string, fallback time.Duration) time.Duration {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return fallback
	}
	return d
}

func (r *reader) int(key string, fallback int) int {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return fallback
	}
	return parsed
}

func (r *reader) bool(key string, fallback bool) bool {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	r.invalid = append(r.invalid, key)
	return fallback
}
