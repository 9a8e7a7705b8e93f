package passkeystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/authcore/internal/domain"
	"github.com/aelexs/authcore/internal/postgres"
)

// Store is the Postgres-backed passkey credential store, satisfying
// authreducer.PasskeyCredentialLookup.
type Store struct {
	pool postgres.Pool
}

// NewStore creates a Store backed by pool.
func NewStore(pool postgres.Pool) *Store {
	return &Store{pool: pool}
}

// GetCredential returns the stored credential for id.
func (s *Store) GetCredential(ctx context.Context, id domain.CredentialID) (domain.PasskeyCredential, error) {
	ctx, span := tracer.Start(ctx, "passkeystore.get_credential")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"))

	var cred domain.PasskeyCredential
	var credentialID, userID, deviceID string
	var counter int64
	var lastUsed *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT credential_id, user_id, device_id, public_key, counter, created_at, last_used
		FROM passkey_credentials WHERE credential_id = $1
	`, id.String()).Scan(&credentialID, &userID, &deviceID, &cred.PublicKey, &counter, &cred.CreatedAt, &lastUsed)
	if err != nil {
		if errors.Is(err, postgres.ErrNoRows) {
			return domain.PasskeyCredential{}, fmt.Errorf("%w: credential %s", domain.ErrNotFound, id.String())
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.PasskeyCredential{}, fmt.Errorf("%w: get credential: %v", domain.ErrStorageError, err)
	}

	cred.CredentialID, err = domain.NewCredentialID(credentialID)
	if err != nil {
		return domain.PasskeyCredential{}, fmt.Errorf("%w: stored credential id: %v", domain.ErrStorageError, err)
	}
	cred.UserID, err = domain.NewUserID(userID)
	if err != nil {
		return domain.PasskeyCredential{}, fmt.Errorf("%w: stored user id: %v", domain.ErrStorageError, err)
	}
	cred.DeviceID, err = domain.NewDeviceID(deviceID)
	if err != nil {
		return domain.PasskeyCredential{}, fmt.Errorf("%w: stored device id: %v", domain.ErrStorageError, err)
	}
	cred.Counter = uint32(counter)
	if lastUsed != nil {
		cred.LastUsed = *lastUsed
	}

	return cred, nil
}

// RegisterCredential persists a newly attested credential.
func (s *Store) RegisterCredential(ctx context.Context, cred domain.PasskeyCredential) error {
	ctx, span := tracer.Start(ctx, "passkeystore.register_credential")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"))

	_, err := s.pool.Exec(ctx, `
		INSERT INTO passkey_credentials (credential_id, user_id, device_id, public_key, counter, created_at, last_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (credential_id) DO NOTHING
	`, cred.CredentialID.String(), cred.UserID.String(), cred.DeviceID.String(), cred.PublicKey, int64(cred.Counter), cred.CreatedAt, cred.LastUsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: register credential: %v", domain.ErrStorageError, err)
	}
	return nil
}

// CompareAndSwapCounter applies the counter CAS decision (domain.ClassifyCounter)
// under a row lock: the row is read with FOR UPDATE, classified against
// newCounter, and only on domain.CounterAccepted is the stored counter
// advanced — all inside one transaction, so two concurrent assertions
// against the same credential serialize instead of racing.
func (s *Store) CompareAndSwapCounter(ctx context.Context, id domain.CredentialID, newCounter uint32) (domain.CounterOutcome, error) {
	ctx, span := tracer.Start(ctx, "passkeystore.compare_and_swap_counter")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.CounterRollback, fmt.Errorf("%w: begin cas tx: %v", domain.ErrStorageError, err)
	}
	defer tx.Rollback(ctx)

	var stored int64
	err = tx.QueryRow(ctx, `
		SELECT counter FROM passkey_credentials WHERE credential_id = $1 FOR UPDATE
	`, id.String()).Scan(&stored)
	if err != nil {
		if errors.Is(err, postgres.ErrNoRows) {
			return domain.CounterRollback, fmt.Errorf("%w: credential %s", domain.ErrNotFound, id.String())
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.CounterRollback, fmt.Errorf("%w: lock credential row: %v", domain.ErrStorageError, err)
	}

	outcome := domain.ClassifyCounter(uint32(stored), newCounter)
	if outcome != domain.CounterAccepted {
		return outcome, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE passkey_credentials SET counter = $1, last_used = now() WHERE credential_id = $2
	`, int64(newCounter), id.String()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.CounterRollback, fmt.Errorf("%w: advance counter: %v", domain.ErrStorageError, err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.CounterRollback, fmt.Errorf("%w: commit cas tx: %v", domain.ErrStorageError, err)
	}

	return domain.CounterAccepted, nil
}
