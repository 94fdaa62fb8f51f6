// Package middleware assembles the request pipeline for protected
// endpoints: authentication resolves a principal from either a
// first-party session cookie or delegated provider cookies, the CSRF
// step enforces the double-submit token on mutating session requests,
// and the authorization step checks the resolved principal's effective
// permissions for the route's action and resource.
package middleware
