package delegated

import (
	"context"
	"errors"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/openwearlab/studygate/pkg/accounts"
	"github.com/openwearlab/studygate/pkg/autherr"
)

// PrincipalMapper turns verified identity claims into a local principal.
// Implementations decide whether an unknown identity is rejected or
// provisioned.
type PrincipalMapper interface {
	MapClaims(ctx context.Context, token *oidc.IDToken) (accounts.Principal, error)
}

// ResearcherMapper matches the email claim against existing researcher
// accounts. Unknown and archived researchers are both rejected; the two
// cases stay distinct internally for logging but collapse to one
// user-facing error.
type ResearcherMapper struct {
	Store accounts.Store
}

func (m *ResearcherMapper) MapClaims(ctx context.Context, token *oidc.IDToken) (accounts.Principal, error) {
	var claims struct {
		Email string `json:"email"`
	}
	if err := token.Claims(&claims); err != nil {
		return accounts.Principal{}, autherr.Wrap(autherr.KindInvalidToken, "malformed claims", err)
	}
	if claims.Email == "" {
		return accounts.Principal{}, autherr.New(autherr.KindInvalidToken, "token carries no email claim")
	}
	researcher, err := m.Store.GetResearcherByEmail(ctx, claims.Email, true)
	if errors.Is(err, accounts.ErrNotFound) {
		return accounts.Principal{}, autherr.New(autherr.KindAccountNotFound, "no researcher account for identity")
	}
	if err != nil {
		return accounts.Principal{}, err
	}
	if researcher.Archived {
		return accounts.Principal{}, autherr.New(autherr.KindAccountArchived, "researcher account archived")
	}
	return accounts.PrincipalForResearcher(researcher), nil
}

// ParticipantMapper resolves participants by their pool username,
// creating a subject record on first login. Archived participants are
// rejected rather than resurrected.
type ParticipantMapper struct {
	Store accounts.Store
	// UsernameClaim names the claim carrying the external identity,
	// "cognito:username" for Cognito user pools.
	UsernameClaim string
}

func (m *ParticipantMapper) MapClaims(ctx context.Context, token *oidc.IDToken) (accounts.Principal, error) {
	claim := m.UsernameClaim
	if claim == "" {
		claim = "cognito:username"
	}
	var raw map[string]any
	if err := token.Claims(&raw); err != nil {
		return accounts.Principal{}, autherr.Wrap(autherr.KindInvalidToken, "malformed claims", err)
	}
	username, _ := raw[claim].(string)
	if username == "" {
		return accounts.Principal{}, autherr.New(autherr.KindInvalidToken, "token carries no username claim")
	}
	participant, err := m.Store.GetParticipantByExternalID(ctx, username, true)
	if errors.Is(err, accounts.ErrNotFound) {
		participant, err = m.Store.CreateParticipant(ctx, username)
		if err != nil {
			return accounts.Principal{}, err
		}
		return accounts.PrincipalForParticipant(participant), nil
	}
	if err != nil {
		return accounts.Principal{}, err
	}
	if participant.Archived {
		return accounts.Principal{}, autherr.New(autherr.KindAccountArchived, "participant account archived")
	}
	return accounts.PrincipalForParticipant(participant), nil
}
