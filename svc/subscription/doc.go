// Package subscription provides the Manager orchestrating feature gating
// for the companion app: it owns the subscription state snapshot, mediates
// the trial lifecycle and billing sync, and is the only caller of the
// crisis override controller's mutators.
//
// The app shell talks exclusively to the Manager. Feature checks are
// in-process and lock-free over an immutable snapshot, with a short-lived
// decision cache; the network appears only on the sync path, always behind
// a bounded timeout, and a failed sync degrades to last-known-good state
// instead of revoking anything. Crisis-mode toggles pass through to the
// controller and invalidate the cache so the next check reflects them.
package subscription
