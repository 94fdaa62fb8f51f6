package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when no matching account row exists.
var ErrNotFound = errors.New("account not found")

// Store is the repository surface consumed by the session and delegated
// auth packages. Archived rows are returned only when includeArchived is
// true; callers decide how to treat them.
type Store interface {
	GetResearcherByID(ctx context.Context, id int64, includeArchived bool) (*ResearcherAccount, error)
	GetResearcherByEmail(ctx context.Context, email string, includeArchived bool) (*ResearcherAccount, error)
	GetParticipantByID(ctx context.Context, id int64, includeArchived bool) (*ParticipantSubject, error)
	GetParticipantByExternalID(ctx context.Context, externalID string, includeArchived bool) (*ParticipantSubject, error)
	CreateParticipant(ctx context.Context, externalID string) (*ParticipantSubject, error)
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQL-backed account store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// GetResearcherByID fetches a researcher account by primary key
func (s *SQLStore) GetResearcherByID(ctx context.Context, id int64, includeArchived bool) (*ResearcherAccount, error) {
	query := `
		SELECT id, email, password_hash, confirmed, archived, created_at, updated_at
		FROM researcher_accounts
		WHERE id = $1
	`
	if !includeArchived {
		query += ` AND archived = FALSE`
	}
	return s.scanResearcher(s.db.QueryRowContext(ctx, query, id))
}

// GetResearcherByEmail fetches a researcher account by email
func (s *SQLStore) GetResearcherByEmail(ctx context.Context, email string, includeArchived bool) (*ResearcherAccount, error) {
	query := `
		SELECT id, email, password_hash, confirmed, archived, created_at, updated_at
		FROM researcher_accounts
		WHERE email = $1
	`
	if !includeArchived {
		query += ` AND archived = FALSE`
	}
	return s.scanResearcher(s.db.QueryRowContext(ctx, query, email))
}

// GetParticipantByID fetches a participant subject by primary key
func (s *SQLStore) GetParticipantByID(ctx context.Context, id int64, includeArchived bool) (*ParticipantSubject, error) {
	query := `
		SELECT id, external_id, archived, created_at
		FROM participant_subjects
		WHERE id = $1
	`
	if !includeArchived {
		query += ` AND archived = FALSE`
	}
	return s.scanParticipant(s.db.QueryRowContext(ctx, query, id))
}

// GetParticipantByExternalID fetches a participant subject by the identity
// provider's stable id.
func (s *SQLStore) GetParticipantByExternalID(ctx context.Context, externalID string, includeArchived bool) (*ParticipantSubject, error) {
	query := `
		SELECT id, external_id, archived, created_at
		FROM participant_subjects
		WHERE external_id = $1
	`
	if !includeArchived {
		query += ` AND archived = FALSE`
	}
	return s.scanParticipant(s.db.QueryRowContext(ctx, query, externalID))
}

// CreateParticipant inserts a new participant subject for an external id
// seen for the first time.
func (s *SQLStore) CreateParticipant(ctx context.Context, externalID string) (*ParticipantSubject, error) {
	query := `
		INSERT INTO participant_subjects (external_id, archived, created_at)
		VALUES ($1, FALSE, CURRENT_TIMESTAMP)
		RETURNING id, external_id, archived, created_at
	`
	subject, err := s.scanParticipant(s.db.QueryRowContext(ctx, query, externalID))
	if err != nil {
		return nil, fmt.Errorf("create participant: %w", err)
	}
	return subject, nil
}

func (s *SQLStore) scanResearcher(row *sql.Row) (*ResearcherAccount, error) {
	var a ResearcherAccount
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Confirmed, &a.Archived, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan researcher account: %w", err)
	}
	return &a, nil
}

func (s *SQLStore) scanParticipant(row *sql.Row) (*ParticipantSubject, error) {
	var p ParticipantSubject
	err := row.Scan(&p.ID, &p.ExternalID, &p.Archived, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan participant subject: %w", err)
	}
	return &p, nil
}

// ResolvePrincipal looks up the live principal for a parsed token subject.
// Archived principals are not returned; the caller maps ErrNotFound to the
// appropriate denial.
func ResolvePrincipal(ctx context.Context, store Store, kind PrincipalKind, id int64) (Principal, error) {
	switch kind {
	case KindResearcher:
		account, err := store.GetResearcherByID(ctx, id, false)
		if err != nil {
			return Principal{}, err
		}
		return PrincipalForResearcher(account), nil
	case KindParticipant:
		subject, err := store.GetParticipantByID(ctx, id, false)
		if err != nil {
			return Principal{}, err
		}
		return PrincipalForParticipant(subject), nil
	default:
		return Principal{}, fmt.Errorf("unknown principal kind %q", kind)
	}
}
