package accounts

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PrincipalKind distinguishes researcher accounts from participant subjects
type PrincipalKind string

const (
	KindResearcher  PrincipalKind = "researcher"
	KindParticipant PrincipalKind = "participant"
)

// ResearcherAccount represents a researcher login identity
type ResearcherAccount struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never expose hash
	Confirmed    bool      `json:"confirmed"`
	Archived     bool      `json:"archived"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ParticipantSubject represents a study participant identified only by the
// external id assigned by the identity provider.
type ParticipantSubject struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	Archived   bool      `json:"archived"`
	CreatedAt  time.Time `json:"created_at"`
}

// Principal is the resolved identity attached to an authenticated request.
// It carries only what downstream checks need; profile claims from tokens
// are never copied in.
type Principal struct {
	ID         int64         `json:"id"`
	Kind       PrincipalKind `json:"kind"`
	Email      string        `json:"email,omitempty"`
	ExternalID string        `json:"external_id,omitempty"`
}

// Subject returns the stable identity string embedded in session tokens.
func (p Principal) Subject() string {
	return fmt.Sprintf("%s:%d", p.Kind, p.ID)
}

// LogFields returns the identity fields recorded on every denial log line.
func (p Principal) LogFields() map[string]interface{} {
	return map[string]interface{}{
		"principal_id":   p.ID,
		"principal_kind": string(p.Kind),
	}
}

// ParseSubject splits a token subject back into kind and id. It rejects
// anything that does not look like a subject this service minted.
func ParseSubject(subject string) (PrincipalKind, int64, error) {
	kindPart, idPart, ok := strings.Cut(subject, ":")
	if !ok {
		return "", 0, fmt.Errorf("malformed subject %q", subject)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("malformed subject %q", subject)
	}
	switch kind := PrincipalKind(kindPart); kind {
	case KindResearcher, KindParticipant:
		return kind, id, nil
	default:
		return "", 0, fmt.Errorf("unknown principal kind %q", kindPart)
	}
}

// PrincipalForResearcher builds a Principal from a researcher account
func PrincipalForResearcher(a *ResearcherAccount) Principal {
	return Principal{ID: a.ID, Kind: KindResearcher, Email: a.Email}
}

// PrincipalForParticipant builds a Principal from a participant subject
func PrincipalForParticipant(s *ParticipantSubject) Principal {
	return Principal{ID: s.ID, Kind: KindParticipant, ExternalID: s.ExternalID}
}
