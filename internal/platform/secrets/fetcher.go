// Package secrets resolves secret:// references found in configuration against Secret Manager.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/secrets"
)

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references with an in-process cache. When Secret Manager is unreachable
// (no credentials on a developer machine, emulator setups) values are read from a local
// KEY=VALUE file instead.
type Fetcher struct {
	client     accessClient
	ownsClient bool
	projectID  string
	logger     *zap.Logger

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.RWMutex
	cache map[string]string

	fetches metric.Int64Counter
}

type fetcherOptions struct {
	client       accessClient
	clientOpts   []option.ClientOption
	projectID    string
	logger       *zap.Logger
	fallbackPath string
	meter        metric.Meter
}

// Option customises NewFetcher.
type Option func(*fetcherOptions)

// WithProject sets the project used for short references such as secret://signer-key.
func WithProject(projectID string) Option {
	return func(o *fetcherOptions) { o.projectID = strings.TrimSpace(projectID) }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *fetcherOptions) { o.logger = logger }
}

// WithFallbackFile overrides the local fallback file. An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(o *fetcherOptions) { o.fallbackPath = strings.TrimSpace(path) }
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *fetcherOptions) { o.clientOpts = append(o.clientOpts, opts...) }
}

// WithMeter overrides the OpenTelemetry meter.
func WithMeter(meter metric.Meter) Option {
	return func(o *fetcherOptions) { o.meter = meter }
}

func withClient(client accessClient) Option {
	return func(o *fetcherOptions) { o.client = client }
}

// NewFetcher constructs a Fetcher. Failing to create the Secret Manager client is not fatal: the
// fetcher then serves the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	o := fetcherOptions{fallbackPath: defaultFallbackPath}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.meter == nil {
		o.meter = otel.GetMeterProvider().Meter(meterName)
	}

	fetches, err := o.meter.Int64Counter("portal.secrets.fetches",
		metric.WithDescription("Secret resolutions by source"))
	if err != nil {
		return nil, fmt.Errorf("secrets: register counter: %w", err)
	}

	f := &Fetcher{
		client:       o.client,
		projectID:    o.projectID,
		logger:       o.logger,
		fallbackPath: o.fallbackPath,
		cache:        make(map[string]string),
		fetches:      fetches,
	}
	if f.client == nil {
		client, err := secretmanager.NewClient(ctx, o.clientOpts...)
		if err != nil {
			o.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret returns the payload for ref. Accepted forms:
//
//	secret://name                                   latest version in the configured project
//	secret://name?version=3&project=other
//	secret://projects/p/secrets/name[/versions/v]
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	resource, err := f.resourceName(ref)
	if err != nil {
		return "", err
	}

	f.mu.RLock()
	value, ok := f.cache[resource]
	f.mu.RUnlock()
	if ok {
		f.count(ctx, "cache")
		return value, nil
	}

	if f.client != nil {
		value, err := f.access(ctx, resource)
		if err == nil {
			f.store(resource, value)
			f.count(ctx, "remote")
			return value, nil
		}
		if !fallbackAllowed(err) {
			f.count(ctx, "error")
			return "", fmt.Errorf("secrets: access %s: %w", resource, err)
		}
		f.logger.Debug("secrets: falling back to local file", zap.String("resource", resource), zap.Error(err))
	}

	value, ok = f.lookupFallback(ref, resource)
	if !ok {
		f.count(ctx, "error")
		return "", fmt.Errorf("secrets: %s not available", resource)
	}
	f.store(resource, value)
	f.count(ctx, "fallback")
	return value, nil
}

func (f *Fetcher) access(ctx context.Context, resource string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", errors.New("empty payload")
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) resourceName(ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || u.Scheme != "secret" {
		return "", fmt.Errorf("secrets: invalid reference %q", ref)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return "", fmt.Errorf("secrets: missing secret name in %q", ref)
	}

	if strings.HasPrefix(name, "projects/") {
		if !strings.Contains(name, "/versions/") {
			name += "/versions/latest"
		}
		return name, nil
	}

	query := u.Query()
	project := strings.TrimSpace(query.Get("project"))
	if project == "" {
		project = f.projectID
	}
	if project == "" {
		return "", fmt.Errorf("secrets: no project for %q", ref)
	}
	version := strings.TrimSpace(query.Get("version"))
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version), nil
}

func (f *Fetcher) store(resource, value string) {
	f.mu.Lock()
	f.cache[resource] = value
	f.mu.Unlock()
}

// lookupFallback matches either the reference exactly as written in config or its full resource name.
func (f *Fetcher) lookupFallback(ref, resource string) (string, bool) {
	f.fallbackOnce.Do(f.loadFallback)
	if value, ok := f.fallback[strings.TrimSpace(ref)]; ok {
		return value, true
	}
	value, ok := f.fallback[resource]
	return value, ok
}

func (f *Fetcher) loadFallback() {
	f.fallback = map[string]string{}
	if f.fallbackPath == "" {
		return
	}
	file, err := os.Open(f.fallbackPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("secrets: cannot open fallback file", zap.String("path", f.fallbackPath), zap.Error(err))
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if rest, found := strings.CutPrefix(key, "sm://"); found {
			key = "secret://" + rest
		}
		f.fallback[key] = strings.TrimSpace(value)
		if resource, err := f.resourceName(key); err == nil {
			f.fallback[resource] = strings.TrimSpace(value)
		}
	}
	if err := scanner.Err(); err != nil {
		f.logger.Warn("secrets: failed reading fallback file", zap.Error(err))
	}
}

func (f *Fetcher) count(ctx context.Context, source string) {
	f.fetches.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func fallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
