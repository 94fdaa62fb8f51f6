// Package permissions implements the authorization core: the read-only
// catalog of (action, resource) permissions grouped into access groups and
// study roles, and the resolver that computes a principal's effective
// permission set and evaluates asks against it.
//
// Resolution unions two sources: non-archived access groups scoped to the
// requested application, and the single role the principal holds for the
// requested study (omitted silently when no study scope is given or the
// study is archived). Matching honors the "*" wildcard on either side of a
// permission. Resolution is pure over a snapshot of the backing store, so
// concurrent calls need no locking.
package permissions
