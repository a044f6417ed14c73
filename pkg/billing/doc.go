// Package billing abstracts the remote billing/subscription service behind
// a minimal EntitlementSource interface.
//
// Only the subscription manager's sync path consumes this package, and only
// best-effort: a failed fetch degrades the app to its last known-good local
// state instead of revoking anything. That policy lives in the manager; the
// source's single job is to report the billing provider's current view of
// an account's tier and trial.
//
// PaddleSource is the production implementation, built on the official
// Paddle SDK with a price-ID to tier mapping table. StaticSource backs
// tests and local development.
package billing
