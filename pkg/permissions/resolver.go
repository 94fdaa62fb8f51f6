package permissions

import (
	"context"
	"fmt"

	"github.com/openwearlab/studygate/pkg/accounts"
	"github.com/openwearlab/studygate/pkg/autherr"
	"github.com/openwearlab/studygate/pkg/observability"
)

// Ask is a single authorization question: may this principal perform the
// action on the resource within the given scopes.
type Ask struct {
	Principal  accounts.Principal
	Action     string
	Resource   string
	AppScope   string
	StudyScope *int64
}

// Resolver computes effective permission sets and evaluates asks. It holds
// no mutable state; safe for unlimited concurrent use.
type Resolver struct {
	store   Store
	metrics *observability.Metrics
}

// NewResolver creates a new permission resolver
func NewResolver(store Store, metrics *observability.Metrics) *Resolver {
	return &Resolver{store: store, metrics: metrics}
}

// ResolveEffectivePermissions unions the permissions reachable from the
// principal's non-archived access groups in appScope with the permissions
// of the principal's role for studyScope, when given and not archived.
// Unknown scopes contribute nothing rather than erroring.
func (r *Resolver) ResolveEffectivePermissions(ctx context.Context, principal accounts.Principal, appScope string, studyScope *int64) (PermissionSet, error) {
	set := make(PermissionSet)

	groups, err := r.store.LookupAccessGroupsFor(ctx, principal.ID, appScope, false)
	if err != nil {
		return nil, fmt.Errorf("lookup access groups: %w", err)
	}
	for _, g := range groups {
		set.Add(g.Permissions...)
	}

	if studyScope != nil {
		role, err := r.store.LookupRoleFor(ctx, principal.ID, *studyScope, false)
		if err != nil {
			return nil, fmt.Errorf("lookup study role: %w", err)
		}
		if role != nil {
			set.Add(role.Permissions...)
		}
	}

	return set, nil
}

// Authorize evaluates the ask against the resolved set. Denials log the
// principal identity, the ask, and the scopes at warning level, and return
// an Unauthorized error; a principal with no permissions is denied every
// ask.
func (r *Resolver) Authorize(ctx context.Context, set PermissionSet, ask Ask) error {
	if set.Allows(ask.Action, ask.Resource) {
		if r.metrics != nil {
			r.metrics.PermissionChecksTotal.WithLabelValues("allowed").Inc()
		}
		return nil
	}

	if r.metrics != nil {
		r.metrics.PermissionChecksTotal.WithLabelValues("denied").Inc()
		r.metrics.PermissionDenials.WithLabelValues(ask.Action, ask.Resource).Inc()
	}

	fields := ask.Principal.LogFields()
	fields["action"] = ask.Action
	fields["resource"] = ask.Resource
	fields["app_scope"] = ask.AppScope
	if ask.StudyScope != nil {
		fields["study_scope"] = *ask.StudyScope
	}
	fields["error_kind"] = string(autherr.KindUnauthorized)
	observability.FromContext(ctx).WithFields(fields).Warn("permission denied")

	return autherr.Newf(autherr.KindUnauthorized, "principal %s may not %s %s", ask.Principal.Subject(), ask.Action, ask.Resource)
}

// Check resolves and evaluates in one call.
func (r *Resolver) Check(ctx context.Context, ask Ask) error {
	set, err := r.ResolveEffectivePermissions(ctx, ask.Principal, ask.AppScope, ask.StudyScope)
	if err != nil {
		return err
	}
	return r.Authorize(ctx, set, ask)
}
