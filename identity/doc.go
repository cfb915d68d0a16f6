// Package identity carries the payload attached to an approved challenge
// and the enrichment around it.
//
// A Ref wraps the approver's numeric messenger account ID. Its public form
// is a deterministic seal of that ID: stable across approvals so relying
// parties can recognize a returning user, yet meaningless without the key.
// Profile photo re-hosting is orthogonal best-effort I/O; its failures are
// reported but never block an approval.
package identity
