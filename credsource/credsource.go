// Package credsource declares the pluggable interface the client pool uses
// to obtain short-lived per-tenant object-store credentials. Real
// implementations (talking to the clinical backend's auth service) live
// outside this module; this package only ships the interface and a fixed
// test double.
package credsource

import (
	"context"
	"time"

	"uploadengine/enginerrors"
)

// Credential is a short-lived set of object-store credentials scoped to one
// tenant.
type Credential struct {
	AccessKey       string
	SecretKey       string
	SessionToken    string
	ExpirationEpoch time.Time
}

// Source fetches temporary object-store credentials for a tenant. Any
// transport or authorization problem is reported as a
// *enginerrors.Error with Kind == enginerrors.CredentialError.
type Source interface {
	Fetch(ctx context.Context, tenantID string) (Credential, error)
}

// StaticSource is a fixed-credential test double: for any non-empty
// tenantID it returns the same Credential with an expiration pushed
// ValidFor (one hour when unset) into the future; an empty tenantID yields
// a CredentialError.
type StaticSource struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
	ValidFor     time.Duration
}

func (s StaticSource) Fetch(_ context.Context, tenantID string) (Credential, error) {
	if tenantID == "" {
		return Credential{}, enginerrors.New(enginerrors.CredentialError, "empty tenant id").WithOperation("fetch")
	}
	validFor := s.ValidFor
	if validFor <= 0 {
		validFor = time.Hour
	}
	return Credential{
		AccessKey:       s.AccessKey,
		SecretKey:       s.SecretKey,
		SessionToken:    s.SessionToken,
		ExpirationEpoch: time.Now().Add(validFor),
	}, nil
}
