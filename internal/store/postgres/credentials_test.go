package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/Sonni4154/opsflow/internal/domain"
)

func credentialRows(creds ...domain.Credential) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"user_id", "provider", "access_token", "refresh_token", "realm_id",
		"expires_at", "active", "created_at", "updated_at",
	})
	for _, c := range creds {
		rows.AddRow(c.UserID, string(c.Provider), c.AccessToken, c.RefreshToken,
			c.RealmID, c.ExpiresAt, c.Active, c.CreatedAt, c.UpdatedAt)
	}
	return rows
}

func sampleCredential() domain.Credential {
	return domain.Credential{
		UserID:       "admin",
		Provider:     domain.ProviderQuickBooks,
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		RealmID:      "realm-9",
		ExpiresAt:    time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
		Active:       true,
		CreatedAt:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestGetCredential_Success(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	cred := sampleCredential()
	mock.ExpectQuery(`SELECT .+ FROM credentials WHERE user_id = \$1 AND provider = \$2`).
		WithArgs("admin", "quickbooks").
		WillReturnRows(credentialRows(cred))

	got, err := store.GetCredential(context.Background(), "admin", domain.ProviderQuickBooks)
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if got.Provider != domain.ProviderQuickBooks {
		t.Errorf("got provider %q, want quickbooks", got.Provider)
	}
	if got.RefreshToken != "rt-1" {
		t.Errorf("got refresh token %q, want rt-1", got.RefreshToken)
	}
	if got.RealmID != "realm-9" {
		t.Errorf("got realm %q, want realm-9", got.RealmID)
	}
}

func TestGetCredential_NotConnected(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectQuery(`SELECT .+ FROM credentials WHERE user_id = \$1 AND provider = \$2`).
		WithArgs("admin", "google").
		WillReturnRows(credentialRows())

	_, err := store.GetCredential(context.Background(), "admin", domain.ProviderGoogle)
	if !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("got %v, want domain.ErrNotConnected", err)
	}
}

func TestUpsertCredential(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	cred := sampleCredential()
	mock.ExpectExec(`INSERT INTO credentials .+ ON CONFLICT \(user_id, provider\) DO UPDATE`).
		WithArgs(cred.UserID, "quickbooks", cred.AccessToken, cred.RefreshToken,
			cred.RealmID, cred.ExpiresAt, cred.Active, cred.CreatedAt, cred.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.UpsertCredential(context.Background(), cred); err != nil {
		t.Fatalf("UpsertCredential failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDeactivateCredential_Success(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectExec(`UPDATE credentials SET active = false`).
		WithArgs("admin", "quickbooks").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.DeactivateCredential(context.Background(), "admin", domain.ProviderQuickBooks)
	if err != nil {
		t.Fatalf("DeactivateCredential failed: %v", err)
	}
}

func TestDeactivateCredential_NotConnected(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectExec(`UPDATE credentials SET active = false`).
		WithArgs("ghost", "google").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeactivateCredential(context.Background(), "ghost", domain.ProviderGoogle)
	if !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("got %v, want domain.ErrNotConnected", err)
	}
}

func TestListExpiringCredentials(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	before := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	soon := sampleCredential()
	later := sampleCredential()
	later.UserID = "tech-2"
	later.ExpiresAt = soon.ExpiresAt.Add(5 * time.Minute)

	mock.ExpectQuery(`SELECT .+ FROM credentials WHERE active = true AND expires_at < \$1 ORDER BY expires_at ASC LIMIT \$2`).
		WithArgs(before, 50).
		WillReturnRows(credentialRows(soon, later))

	got, err := store.ListExpiringCredentials(context.Background(), before, 50)
	if err != nil {
		t.Fatalf("ListExpiringCredentials failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d credentials, want 2", len(got))
	}
	if got[0].UserID != "admin" || got[1].UserID != "tech-2" {
		t.Errorf("unexpected order: %q, %q", got[0].UserID, got[1].UserID)
	}
}

func TestListCredentials(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectQuery(`SELECT .+ FROM credentials ORDER BY user_id, provider`).
		WillReturnRows(credentialRows(sampleCredential()))

	got, err := store.ListCredentials(context.Background())
	if err != nil {
		t.Fatalf("ListCredentials failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d credentials, want 1", len(got))
	}
}

func TestInsertActivity(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	entry := domain.ActivityEntry{
		ID:        uuid.New(),
		Category:  "workflow",
		Message:   "Invoice paid.",
		Event:     "invoice_paid",
		ActorID:   "office-1",
		CreatedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(`INSERT INTO activity_log`).
		WithArgs(entry.ID, entry.Category, entry.Message, entry.Event, entry.ActorID, entry.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.InsertActivity(context.Background(), entry); err != nil {
		t.Fatalf("InsertActivity failed: %v", err)
	}
}

func TestUpdateEntityStatus(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectExec(`INSERT INTO entity_status .+ ON CONFLICT \(entity_type, entity_id\) DO UPDATE`).
		WithArgs("job", "j-1", "completed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.UpdateEntityStatus(context.Background(), "job", "j-1", "completed"); err != nil {
		t.Fatalf("UpdateEntityStatus failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
