// Package crisis implements the crisis override controller: a two-state
// machine (inactive/active) that forces all crisis-critical features open
// regardless of subscription standing.
//
// The design constraints are safety-driven:
//
//   - IsActive never performs I/O. The in-memory flag is the session source
//     of truth, so the check works fully offline and cannot be blocked by a
//     failing dependency.
//   - Enable and Disable persist synchronously within a hard latency budget
//     before returning; a failed write surfaces ErrPersistence while the
//     in-memory override stays honored for the session.
//   - On startup, an absent or corrupted record defaults to inactive. A
//     stuck-active override is the more dangerous failure mode.
//
// Only the subscription manager calls the mutators; UI code reaches the
// controller exclusively through it.
package crisis
