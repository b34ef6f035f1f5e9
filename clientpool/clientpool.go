// Package clientpool caches object-store clients per tenant, refreshing
// credentials within a margin of expiration and bounding the cache with
// earliest-expiration eviction. Grounded on how the rest of this codebase
// constructs a *minio.Client from static credentials, generalized to one
// client per tenant instead of one client per process.
package clientpool

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"uploadengine/config"
	"uploadengine/credsource"
	"uploadengine/enginerrors"
)

// entry is one cached client plus the credential it was built from.
type entry struct {
	client     *minio.Client
	credential credsource.Credential
}

// Pool is the refreshing, bounded cache of per-tenant object-store clients.
type Pool struct {
	cfg    *config.Config
	source credsource.Source
	logger *slog.Logger

	// Endpoint overrides the region-derived S3 endpoint and is reached over
	// plain HTTP. Tests point it at a local MinIO container; production
	// leaves it empty.
	Endpoint string

	mu      sync.Mutex
	entries map[string]*entry
}

func New(cfg *config.Config, source credsource.Source, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:     cfg,
		source:  source,
		logger:  logger.With(slog.String("component", "clientpool")),
		entries: make(map[string]*entry),
	}
}

// GetClient returns a live *minio.Client for tenantID, refreshing
// credentials first if none are cached or the cached ones are within
// RefreshMargin of expiring.
func (p *Pool) GetClient(ctx context.Context, tenantID string) (*minio.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[tenantID]; ok && !p.needsRefresh(e) {
		return e.client, nil
	}

	return p.refreshLocked(ctx, tenantID)
}

func (p *Pool) needsRefresh(e *entry) bool {
	return time.Now().Add(p.cfg.RefreshMargin).After(e.credential.ExpirationEpoch)
}

// refreshLocked fetches a fresh credential, builds a new client bound to
// it, and performs cache maintenance. Caller must hold p.mu. Credential
// fetches deliberately happen under the pool mutex per spec §9 — a
// concurrent burst of first-time tenants serializes here; sharding the
// lock by tenant hash is a noted future evolution, not an observable
// contract this pool may break silently.
func (p *Pool) refreshLocked(ctx context.Context, tenantID string) (*minio.Client, error) {
	cred, err := p.source.Fetch(ctx, tenantID)
	if err != nil {
		return nil, enginerrors.New(enginerrors.CredentialError, "failed to fetch credentials").
			WithContext("tenant_id", tenantID).
			WithCause(err).
			WithOperation("refresh")
	}

	client, err := p.newClient(cred)
	if err != nil {
		return nil, enginerrors.New(enginerrors.Internal, "failed to build object-store client").
			WithContext("tenant_id", tenantID).
			WithCause(err).
			WithOperation("refresh")
	}

	p.entries[tenantID] = &entry{client: client, credential: cred}
	p.evictLocked()

	p.logger.Info("refreshed client",
		slog.String("tenant_id", tenantID),
		slog.Time("expiration", cred.ExpirationEpoch))

	return client, nil
}

func (p *Pool) newClient(cred credsource.Credential) (*minio.Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: p.cfg.ConnectTimeout,
		}).DialContext,
		TLSClientConfig:       &tls.Config{},
		MaxIdleConnsPerHost:   p.cfg.MaxPoolConnections,
		ResponseHeaderTimeout: p.cfg.RequestTimeout,
	}

	return minio.New(p.endpoint(), &minio.Options{
		Creds:     credentials.NewStaticV4(cred.AccessKey, cred.SecretKey, cred.SessionToken),
		Secure:    p.Endpoint == "", // an Endpoint override is reached over plain HTTP
		Region:    p.cfg.Region,
		Transport: transport,
	})
}

// endpoint is overridable in tests via Pool.Endpoint; production callers
// are expected to configure the region-derived S3 endpoint externally and
// set it once at construction. Kept as a method (not a field read
// directly) so a future per-tenant endpoint scheme has a single seam.
func (p *Pool) endpoint() string {
	if p.Endpoint != "" {
		return p.Endpoint
	}
	return fmt.Sprintf("s3.%s.amazonaws.com", p.cfg.Region)
}

// evictLocked removes expired entries first, then — if the cache still
// exceeds MaxCacheSize — removes entries with the earliest expiration
// until it does not. Caller must hold p.mu.
func (p *Pool) evictLocked() {
	now := time.Now()
	for tenantID, e := range p.entries {
		if now.After(e.credential.ExpirationEpoch) {
			delete(p.entries, tenantID)
		}
	}

	for len(p.entries) > p.cfg.MaxCacheSize {
		var oldestTenant string
		var oldestExpiration time.Time
		first := true
		for tenantID, e := range p.entries {
			if first || e.credential.ExpirationEpoch.Before(oldestExpiration) {
				oldestTenant = tenantID
				oldestExpiration = e.credential.ExpirationEpoch
				first = false
			}
		}
		delete(p.entries, oldestTenant)
	}
}

// Size reports the current number of cached tenant entries.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// RefreshingHandle is a small proxy holding a reference to the pool and a
// tenant id; WithAutoRefresh fetches a live client for each invocation so
// callers transparently retry against fresh credentials after a
// credential-related failure, per spec §4.5/§9 — a value with one method,
// not a class hierarchy.
type RefreshingHandle struct {
	pool     *Pool
	tenantID string
}

func (p *Pool) RefreshingHandle(tenantID string) RefreshingHandle {
	return RefreshingHandle{pool: p, tenantID: tenantID}
}

// WithAutoRefresh retrieves a fresh client for this invocation and invokes
// op with it.
func (h RefreshingHandle) WithAutoRefresh(ctx context.Context, op func(*minio.Client) error) error {
	client, err := h.pool.GetClient(ctx, h.tenantID)
	if err != nil {
		return err
	}
	return op(client)
}
