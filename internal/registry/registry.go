// Package registry owns the persistent mapping from real-world IBANs to
// provisioned sandbox identities.
//
// # Idempotent provisioning
//
// ResolveOrProvision is safe to call any number of times, across process
// restarts, without creating duplicate identities:
//
//  1. The pair store is flushed after every successful provisioning, so a
//     committed identity is never re-created.
//  2. Calls for the same IBAN are serialized (at most one provisioning in
//     flight per identifier); calls for distinct IBANs run independently.
//  3. A record whose credentials were committed but whose synthetic IBAN
//     was never derived (crash between the two writes) is repaired on the
//     next call by re-deriving the IBAN from the stored credentials.
//
// The registry is the only component that writes the pair store; the
// replay scheduler reads resolved records through Resolve.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nevolodia/bunq-sandman/internal/bunq"
	"github.com/nevolodia/bunq-sandman/internal/pairstore"
	"github.com/nevolodia/bunq-sandman/internal/retry"
)

// Record is one provisioned synthetic identity, keyed in the pair store
// by the original counterparty IBAN it stands in for.
type Record struct {
	OriginalIBAN  string    `json:"original_iban"`
	APIKey        string    `json:"api_key"`
	UserID        int64     `json:"user_id"`
	AccountID     int64     `json:"account_id"`
	SyntheticIBAN string    `json:"synthetic_iban"`
	IsPrimaryUser bool      `json:"is_primary_user"`
	ProvisionedAt time.Time `json:"provisioned_at"`
}

// Resolvable reports whether the record can act in a replay: it has
// credentials and a derived synthetic IBAN.
func (r Record) Resolvable() bool {
	return r.APIKey != "" && r.SyntheticIBAN != ""
}

// UserCreator provisions brand-new sandbox identities. Implemented by an
// unauthenticated *bunq.Client.
type UserCreator interface {
	CreateSandboxUser(ctx context.Context) (bunq.SandboxUser, error)
}

// AccountReader reads monetary accounts as one identity.
type AccountReader interface {
	PrimaryAccount(ctx context.Context) (bunq.MonetaryAccount, error)
}

// Dialer returns a client authenticated as the identity owning apiKey.
type Dialer func(apiKey string) AccountReader

// Registry resolves original IBANs to synthetic identities, provisioning
// them on first use.
type Registry struct {
	store       *pairstore.Store[Record]
	creator     UserCreator
	dial        Dialer
	retry       retry.Policy
	primaryIBAN string
	log         *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-IBAN provisioning serialization
}

// New creates a registry over the given pair store.
//
// primaryIBAN identifies the primary user's own identifier; its record is
// tagged IsPrimaryUser when provisioned.
func New(store *pairstore.Store[Record], creator UserCreator, dial Dialer, primaryIBAN string, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		store:       store,
		creator:     creator,
		dial:        dial,
		retry:       retry.DefaultPolicy,
		primaryIBAN: primaryIBAN,
		log:         log,
		locks:       make(map[string]*sync.Mutex),
	}
}

// SetRetryPolicy overrides the provisioning retry policy.
func (r *Registry) SetRetryPolicy(p retry.Policy) { r.retry = p }

// Resolve returns the committed record for an IBAN without provisioning.
func (r *Registry) Resolve(iban string) (Record, bool) {
	return r.store.Get(iban)
}

// All returns every committed record keyed by original IBAN.
func (r *Registry) All() map[string]Record {
	return r.store.All()
}

// Snapshot delegates to the pair store's one-per-run backup.
func (r *Registry) Snapshot() error {
	return r.store.Snapshot()
}

// SeedPrimary commits the primary user's own record, so replay can
// resolve transactions that reference the primary identifier directly.
// An existing resolvable record is left untouched.
func (r *Registry) SeedPrimary(rec Record) error {
	if rec.OriginalIBAN == "" {
		return fmt.Errorf("seed primary: empty IBAN")
	}

	unlock := r.lockIBAN(rec.OriginalIBAN)
	defer unlock()

	if existing, ok := r.store.Get(rec.OriginalIBAN); ok && existing.Resolvable() {
		return nil
	}
	rec.IsPrimaryUser = true
	if rec.ProvisionedAt.IsZero() {
		rec.ProvisionedAt = time.Now().UTC()
	}
	if err := r.store.Put(rec.OriginalIBAN, rec); err != nil {
		return fmt.Errorf("seed primary: %w", err)
	}
	return nil
}

// ResolveOrProvision returns the synthetic identity for an original IBAN,
// provisioning one on first call. Concurrent calls for the same IBAN are
// serialized; the loser of the race observes the winner's committed
// record and returns it without a second remote call.
func (r *Registry) ResolveOrProvision(ctx context.Context, iban string) (Record, error) {
	if iban == "" {
		return Record{}, fmt.Errorf("resolve identity: empty IBAN")
	}

	unlock := r.lockIBAN(iban)
	defer unlock()

	rec, ok := r.store.Get(iban)
	if ok && rec.Resolvable() {
		return rec, nil
	}

	if ok {
		// Credentials exist but the synthetic IBAN was never derived
		// (a prior run stopped between the two commits). Repair in place.
		return r.repair(ctx, rec)
	}
	return r.provision(ctx, iban)
}

// provision creates a new sandbox identity for iban and commits it.
//
// The record is committed immediately after user creation, before account
// derivation, so a crash between the two leaves a repairable record
// instead of a lost (and later duplicated) identity.
func (r *Registry) provision(ctx context.Context, iban string) (Record, error) {
	r.log.Info("provisioning synthetic identity", "iban", iban)

	var user bunq.SandboxUser
	err := r.retry.Do(ctx, bunq.IsTransient, func(ctx context.Context) error {
		var err error
		user, err = r.creator.CreateSandboxUser(ctx)
		return err
	})
	if err != nil {
		return Record{}, fmt.Errorf("provision identity for %s: %w", iban, err)
	}

	rec := Record{
		OriginalIBAN:  iban,
		APIKey:        user.APIKey,
		UserID:        user.UserID,
		IsPrimaryUser: iban == r.primaryIBAN,
		ProvisionedAt: time.Now().UTC(),
	}
	if err := r.store.Put(iban, rec); err != nil {
		return Record{}, fmt.Errorf("commit credentials for %s: %w", iban, err)
	}

	repaired, err := r.repair(ctx, rec)
	if err != nil {
		// Credentials are committed; the synthetic IBAN will be derived
		// on the next run. Report the failure for this identity only.
		return Record{}, err
	}
	return repaired, nil
}

// repair derives the missing account id and synthetic IBAN from the
// record's committed credentials and re-persists it.
func (r *Registry) repair(ctx context.Context, rec Record) (Record, error) {
	client := r.dial(rec.APIKey)

	var acct bunq.MonetaryAccount
	err := r.retry.Do(ctx, bunq.IsTransient, func(ctx context.Context) error {
		var err error
		acct, err = client.PrimaryAccount(ctx)
		return err
	})
	if err != nil {
		return Record{}, fmt.Errorf("derive account for %s: %w", rec.OriginalIBAN, err)
	}

	syntheticIBAN, ok := acct.IBAN()
	if !ok {
		return Record{}, fmt.Errorf("derive account for %s: account %d has no IBAN alias", rec.OriginalIBAN, acct.ID)
	}

	rec.AccountID = acct.ID
	rec.SyntheticIBAN = syntheticIBAN
	if err := r.store.Put(rec.OriginalIBAN, rec); err != nil {
		return Record{}, fmt.Errorf("commit identity for %s: %w", rec.OriginalIBAN, err)
	}

	r.log.Info("synthetic identity ready",
		"iban", rec.OriginalIBAN,
		"synthetic_iban", syntheticIBAN,
		"user_id", rec.UserID,
		"is_primary", rec.IsPrimaryUser,
	)
	return rec, nil
}

// lockIBAN acquires the per-identifier mutex, creating it on first use.
func (r *Registry) lockIBAN(iban string) (unlock func()) {
	r.mu.Lock()
	lock, ok := r.locks[iban]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[iban] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
