// Package accounts models the two principal kinds the service
// authenticates: researcher accounts (email + password, confirmed flag) and
// participant subjects (external id only, provisioned on first delegated
// sign-in). The Store owns persistence; archived filtering is always an
// explicit includeArchived parameter, never a silent default.
package accounts
