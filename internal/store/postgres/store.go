package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Sonni4154/opsflow/internal/actions"
	"github.com/Sonni4154/opsflow/internal/domain"
	"github.com/Sonni4154/opsflow/internal/token"
	"github.com/Sonni4154/opsflow/internal/workflow"
)

// Store implements the persistence seams of the workflow, token, and actions
// packages using PostgreSQL. Trigger conditions and actions are stored as
// JSONB documents; everything else is flat columns.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL store on the given connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row rowScanner) (domain.Trigger, error) {
	var (
		t          domain.Trigger
		condJSON   []byte
		actionJSON []byte
	)

	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Description,
		&t.Event,
		&condJSON,
		&actionJSON,
		&t.Priority,
		&t.Active,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return domain.Trigger{}, err
	}

	if len(condJSON) > 0 {
		var cs domain.ConditionSet
		if err := json.Unmarshal(condJSON, &cs); err != nil {
			return domain.Trigger{}, fmt.Errorf("decode conditions for trigger %s: %w", t.ID, err)
		}
		t.Conditions = &cs
	}
	if err := json.Unmarshal(actionJSON, &t.Actions); err != nil {
		return domain.Trigger{}, fmt.Errorf("decode actions for trigger %s: %w", t.ID, err)
	}
	return t, nil
}

// InsertTrigger stores a new trigger definition.
// Returns domain.ErrTriggerExists if the name is already taken.
func (s *Store) InsertTrigger(ctx context.Context, t domain.Trigger) error {
	var condJSON []byte
	if t.Conditions != nil {
		b, err := json.Marshal(t.Conditions)
		if err != nil {
			return fmt.Errorf("encode conditions: %w", err)
		}
		condJSON = b
	}
	actionJSON, err := json.Marshal(t.Actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryInsertTrigger,
		t.ID,
		t.Name,
		t.Description,
		t.Event,
		condJSON,
		actionJSON,
		t.Priority,
		t.Active,
		t.CreatedBy,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrTriggerExists
		}
		return err
	}
	return nil
}

// GetTrigger returns a trigger by ID.
func (s *Store) GetTrigger(ctx context.Context, id uuid.UUID) (domain.Trigger, error) {
	t, err := scanTrigger(s.db.QueryRowContext(ctx, queryGetTrigger, id))
	if err == sql.ErrNoRows {
		return domain.Trigger{}, domain.ErrTriggerNotFound
	}
	return t, err
}

// GetTriggerByName returns a trigger by its unique name.
func (s *Store) GetTriggerByName(ctx context.Context, name string) (domain.Trigger, error) {
	t, err := scanTrigger(s.db.QueryRowContext(ctx, queryGetTriggerByName, name))
	if err == sql.ErrNoRows {
		return domain.Trigger{}, domain.ErrTriggerNotFound
	}
	return t, err
}

// ListTriggers returns all triggers, active and inactive.
func (s *Store) ListTriggers(ctx context.Context) ([]domain.Trigger, error) {
	return s.queryTriggers(ctx, queryListTriggers)
}

// ListActiveTriggersFor returns active triggers for an event, ordered by
// priority then creation time.
func (s *Store) ListActiveTriggersFor(ctx context.Context, event string) ([]domain.Trigger, error) {
	return s.queryTriggers(ctx, queryListActiveTriggersForEvent, event)
}

func (s *Store) queryTriggers(ctx context.Context, query string, args ...any) ([]domain.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeactivateTrigger marks a trigger inactive, keeping its execution history.
// Deactivating an already inactive trigger is a no-op. Returns
// domain.ErrTriggerNotFound if the ID does not exist.
func (s *Store) DeactivateTrigger(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, queryDeactivateTrigger, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		// Either the trigger does not exist or it is already inactive.
		var active bool
		err := s.db.QueryRowContext(ctx, queryGetTriggerActive, id).Scan(&active)
		if err == sql.ErrNoRows {
			return domain.ErrTriggerNotFound
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertExecution appends one execution record. Records are never updated.
func (s *Store) InsertExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	actionJSON, err := json.Marshal(rec.Actions)
	if err != nil {
		return fmt.Errorf("encode action outcomes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, queryInsertExecutionRecord,
		rec.ID,
		rec.TriggerID,
		rec.TriggerName,
		rec.Event,
		rec.ActorID,
		actionJSON,
		rec.StartedAt,
		rec.FinishedAt,
	)
	return err
}

// InsertActionAttempt appends one per-attempt audit row.
func (s *Store) InsertActionAttempt(ctx context.Context, att domain.ActionAttempt) error {
	_, err := s.db.ExecContext(ctx, queryInsertActionAttempt,
		att.ID,
		att.ExecutionID,
		att.ActionIndex,
		string(att.Type),
		att.Attempt,
		string(att.Status),
		att.Error,
		att.StartedAt,
		att.FinishedAt,
	)
	return err
}

func scanCredential(row rowScanner) (domain.Credential, error) {
	var (
		c        domain.Credential
		provider string
	)
	err := row.Scan(
		&c.UserID,
		&provider,
		&c.AccessToken,
		&c.RefreshToken,
		&c.RealmID,
		&c.ExpiresAt,
		&c.Active,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return domain.Credential{}, err
	}
	c.Provider = domain.Provider(provider)
	return c, nil
}

// GetCredential returns the credential for (userID, provider).
// Returns domain.ErrNotConnected when no row exists.
func (s *Store) GetCredential(ctx context.Context, userID string, provider domain.Provider) (domain.Credential, error) {
	c, err := scanCredential(s.db.QueryRowContext(ctx, queryGetCredential, userID, string(provider)))
	if err == sql.ErrNoRows {
		return domain.Credential{}, domain.ErrNotConnected
	}
	return c, err
}

// UpsertCredential inserts or replaces the credential for (userID, provider).
func (s *Store) UpsertCredential(ctx context.Context, cred domain.Credential) error {
	_, err := s.db.ExecContext(ctx, queryUpsertCredential,
		cred.UserID,
		string(cred.Provider),
		cred.AccessToken,
		cred.RefreshToken,
		cred.RealmID,
		cred.ExpiresAt,
		cred.Active,
		cred.CreatedAt,
		cred.UpdatedAt,
	)
	return err
}

// DeactivateCredential marks a credential inactive.
// Returns domain.ErrNotConnected when no row exists.
func (s *Store) DeactivateCredential(ctx context.Context, userID string, provider domain.Provider) error {
	result, err := s.db.ExecContext(ctx, queryDeactivateCredential, userID, string(provider))
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrNotConnected
	}
	return nil
}

// ListExpiringCredentials returns active credentials expiring before the
// given time, oldest expiry first, up to limit.
func (s *Store) ListExpiringCredentials(ctx context.Context, before time.Time, limit int) ([]domain.Credential, error) {
	return s.queryCredentials(ctx, queryListExpiringCredentials, before, limit)
}

// ListCredentials returns every stored credential.
func (s *Store) ListCredentials(ctx context.Context) ([]domain.Credential, error) {
	return s.queryCredentials(ctx, queryListCredentials)
}

func (s *Store) queryCredentials(ctx context.Context, query string, args ...any) ([]domain.Credential, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// InsertActivity appends one activity log entry.
func (s *Store) InsertActivity(ctx context.Context, entry domain.ActivityEntry) error {
	_, err := s.db.ExecContext(ctx, queryInsertActivity,
		entry.ID,
		entry.Category,
		entry.Message,
		entry.Event,
		entry.ActorID,
		entry.CreatedAt,
	)
	return err
}

// UpdateEntityStatus upserts the current status of a business entity.
func (s *Store) UpdateEntityStatus(ctx context.Context, entityType, entityID, status string) error {
	_, err := s.db.ExecContext(ctx, queryUpsertEntityStatus, entityType, entityID, status)
	return err
}

// isDuplicateKeyError checks if the error is a PostgreSQL unique violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	// lib/pq reports unique violations as code 23505.
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

// Compile-time interface assertions
var (
	_ workflow.Store         = (*Store)(nil)
	_ workflow.RegistryStore = (*Store)(nil)
	_ token.Store            = (*Store)(nil)
	_ actions.ActivityStore  = (*Store)(nil)
	_ actions.StatusStore    = (*Store)(nil)
)
