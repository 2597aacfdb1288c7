package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 2 * time.Minute
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 20 * time.Second
	defaultVerifyTimeout       = 5 * time.Second
	defaultSignedURLTTL        = 15 * time.Minute
	defaultMaxUploadBytes      = 25 << 20
	defaultWorkflowTopic       = "portal-workflow-events"
	defaultEncryptSteps        = 10
	defaultEncryptStepInterval = 80 * time.Millisecond
	defaultAttemptRetention    = 10 * time.Minute
	defaultActivationAttempts  = 10
	defaultActivationWindow    = time.Minute
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyPurge    = 15 * time.Minute
	defaultIdempotencyBatch    = 200
	defaultEnvironment         = "local"
	defaultLogLevel            = "info"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Storage       StorageConfig
	PubSub        PubSubConfig
	Workflow      WorkflowConfig
	Idempotency   IdempotencyConfig
	Observability ObservabilityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings used for ID token verification.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	VerifyTimeout   time.Duration
}

// FirestoreConfig stores document store parameters. An empty DatabaseID selects the project's
// default database.
type FirestoreConfig struct {
	ProjectID    string
	DatabaseID   string
	EmulatorHost string
}

// StorageConfig describes the bucket holding nominee documents and how download URLs are signed.
type StorageConfig struct {
	DocumentsBucket  string
	SignedURLTTL     time.Duration
	MaxUploadBytes   int64
	SignerEmail      string
	SignerPrivateKey string
}

// PubSubConfig configures workflow event publishing. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID     string
	WorkflowTopic string
	EmulatorHost  string
}

// WorkflowConfig holds the deployment-specific knobs of the submission workflow.
type WorkflowConfig struct {
	// EvaluatorUnlockStages lists the stages the evaluator role may unlock.
	EvaluatorUnlockStages []int
	// SubmissionMinProgress maps a stage to the minimum progress required to submit it.
	SubmissionMinProgress map[int]int
	EncryptSteps          int
	EncryptStepInterval   time.Duration
	AttemptRetention      time.Duration
	// ActivationAttempts caps registration code attempts per client within ActivationWindow. Zero
	// disables the limit.
	ActivationAttempts int
	ActivationWindow   time.Duration
}

// IdempotencyConfig controls the replay guard on mutating portal and evaluator routes.
type IdempotencyConfig struct {
	Collection     string
	TTL            time.Duration
	RequireKey     bool
	PurgeInterval  time.Duration
	PurgeBatchSize int
}

// ObservabilityConfig controls logging.
type ObservabilityConfig struct {
	Environment string
	LogLevel    string
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

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map that takes precedence over the process environment.
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

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles configuration from defaults, the .env file, the process environment and the explicit
// env map (later sources win), then resolves secret references.
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
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "PORTAL_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "PORTAL_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "PORTAL_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "PORTAL_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "PORTAL_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "PORTAL_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "PORTAL_FIREBASE_CREDENTIALS_FILE", ""),
			VerifyTimeout:   durationWithDefault(lookup, "PORTAL_FIREBASE_VERIFY_TIMEOUT", defaultVerifyTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "PORTAL_FIRESTORE_PROJECT_ID", ""),
			DatabaseID:   stringWithDefault(lookup, "PORTAL_FIRESTORE_DATABASE_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "PORTAL_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			DocumentsBucket:  stringWithDefault(lookup, "PORTAL_STORAGE_DOCUMENTS_BUCKET", ""),
			SignedURLTTL:     durationWithDefault(lookup, "PORTAL_STORAGE_SIGNED_URL_TTL", defaultSignedURLTTL),
			MaxUploadBytes:   int64(intWithDefault(lookup, "PORTAL_STORAGE_MAX_UPLOAD_BYTES", defaultMaxUploadBytes)),
			SignerEmail:      stringWithDefault(lookup, "PORTAL_STORAGE_SIGNER_EMAIL", ""),
			SignerPrivateKey: stringWithDefault(lookup, "PORTAL_STORAGE_SIGNER_PRIVATE_KEY", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:     stringWithDefault(lookup, "PORTAL_PUBSUB_PROJECT_ID", ""),
			WorkflowTopic: stringWithDefault(lookup, "PORTAL_PUBSUB_WORKFLOW_TOPIC", defaultWorkflowTopic),
			EmulatorHost:  stringWithDefault(lookup, "PORTAL_PUBSUB_EMULATOR_HOST", ""),
		},
		Workflow: WorkflowConfig{
			EvaluatorUnlockStages: intsWithDefault(lookup, "PORTAL_WORKFLOW_EVALUATOR_UNLOCK_STAGES"),
			SubmissionMinProgress: intMapWithDefault(lookup, "PORTAL_WORKFLOW_SUBMISSION_MIN_PROGRESS"),
			EncryptSteps:          intWithDefault(lookup, "PORTAL_WORKFLOW_ENCRYPT_STEPS", defaultEncryptSteps),
			EncryptStepInterval:   durationWithDefault(lookup, "PORTAL_WORKFLOW_ENCRYPT_STEP_INTERVAL", defaultEncryptStepInterval),
			AttemptRetention:      durationWithDefault(lookup, "PORTAL_WORKFLOW_ATTEMPT_RETENTION", defaultAttemptRetention),
			ActivationAttempts:    intWithDefault(lookup, "PORTAL_WORKFLOW_ACTIVATION_ATTEMPTS", defaultActivationAttempts),
			ActivationWindow:      durationWithDefault(lookup, "PORTAL_WORKFLOW_ACTIVATION_WINDOW", defaultActivationWindow),
		},
		Idempotency: IdempotencyConfig{
			Collection:     stringWithDefault(lookup, "PORTAL_IDEMPOTENCY_COLLECTION", ""),
			TTL:            durationWithDefault(lookup, "PORTAL_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			RequireKey:     boolWithDefault(lookup, "PORTAL_IDEMPOTENCY_REQUIRE_KEY", false),
			PurgeInterval:  durationWithDefault(lookup, "PORTAL_IDEMPOTENCY_PURGE_INTERVAL", defaultIdempotencyPurge),
			PurgeBatchSize: intWithDefault(lookup, "PORTAL_IDEMPOTENCY_PURGE_BATCH_SIZE", defaultIdempotencyBatch),
		},
		Observability: ObservabilityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "PORTAL_ENVIRONMENT", defaultEnvironment)),
			LogLevel:    stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel),
		},
	}

	// Firestore and Pub/Sub default to the Firebase project.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}

	signerKey, err := resolveSecret(ctx, cfg.Storage.SignerPrivateKey, options.secret)
	if err != nil {
		return Config{}, err
	}
	cfg.Storage.SignerPrivateKey = signerKey

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") && !strings.HasPrefix(trimmed, "sm://") {
		return value, nil
	}
	ref := "secret://" + strings.TrimPrefix(strings.TrimPrefix(trimmed, "sm://"), "secret://")
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Storage.DocumentsBucket == "" {
		missing = append(missing, "Storage.DocumentsBucket")
	}
	if cfg.Storage.MaxUploadBytes <= 0 {
		missing = append(missing, "Storage.MaxUploadBytes")
	}
	if (cfg.Storage.SignerEmail == "") != (cfg.Storage.SignerPrivateKey == "") {
		missing = append(missing, "Storage.SignerEmail/SignerPrivateKey")
	}
	for _, stage := range cfg.Workflow.EvaluatorUnlockStages {
		if stage != 2 && stage != 3 {
			missing = append(missing, "Workflow.EvaluatorUnlockStages")
			break
		}
	}
	stages := make([]int, 0, len(cfg.Workflow.SubmissionMinProgress))
	for stage := range cfg.Workflow.SubmissionMinProgress {
		stages = append(stages, stage)
	}
	sort.Ints(stages)
	for _, stage := range stages {
		value := cfg.Workflow.SubmissionMinProgress[stage]
		if stage < 1 || stage > 3 || value < 1 || value > 100 {
			missing = append(missing, fmt.Sprintf("Workflow.SubmissionMinProgress[%d]", stage))
		}
	}
	if cfg.Workflow.EncryptSteps <= 0 {
		missing = append(missing, "Workflow.EncryptSteps")
	}
	if cfg.Workflow.EncryptStepInterval < 0 {
		missing = append(missing, "Workflow.EncryptStepInterval")
	}
	if cfg.Workflow.ActivationAttempts < 0 || (cfg.Workflow.ActivationAttempts > 0 && cfg.Workflow.ActivationWindow <= 0) {
		missing = append(missing, "Workflow.ActivationAttempts/ActivationWindow")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.PurgeInterval < 0 {
		missing = append(missing, "Idempotency.PurgeInterval")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
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

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
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

// intsWithDefault parses a comma separated integer list, e.g. "2,3". Invalid entries are kept as -1
// so validation reports them.
func intsWithDefault(lookup func(string) (string, bool), key string) []int {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []int{}
	}
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value, err := strconv.Atoi(part)
		if err != nil {
			value = -1
		}
		out = append(out, value)
	}
	return out
}

// intMapWithDefault parses "1=1,3=100" style maps.
func intMapWithDefault(lookup func(string) (string, bool), key string) map[int]int {
	values := make(map[int]int)
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return values
	}
	for _, entry := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		k, errK := strconv.Atoi(strings.TrimSpace(name))
		v, errV := strconv.Atoi(strings.TrimSpace(value))
		if errK != nil || errV != nil {
			values[-1] = -1
			continue
		}
		values[k] = v
	}
	return values
}
