// Package autherr defines the error taxonomy shared by the authentication,
// authorization, and delegated-auth packages.
//
// Every denial path in the service maps to exactly one Kind. Kinds carry a
// machine-readable error code surfaced to API clients and a fixed HTTP
// status. AccountArchived and AccountNotFound are deliberately collapsed to
// one user-facing code so API responses cannot be used to enumerate
// accounts; only log lines distinguish them.
package autherr
