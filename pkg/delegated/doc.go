// Package delegated drives the authorization-code + PKCE flow against a
// Cognito-style OIDC issuer and maps verified identity claims to a local
// principal.
//
// Two controller instances run side by side, "participant" and
// "researcher", sharing one state machine but differing in issuer
// configuration and claim mapping: researchers must already hold a
// non-archived account matched by email, participants are provisioned on
// first sight of their external username.
//
// Per-browser flow state (nonce, state, code_verifier) lives in a
// FlowStore keyed by a short-lived flow cookie. State and nonce are single
// use: both are consumed on read, and the nonce additionally expires 300
// seconds after issuance. Remote key sets are verified through an
// injectable VerifierCache with an explicit Clear for deterministic tests.
package delegated
