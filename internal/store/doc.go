// Package store provides SQLite-backed persisted state for the op pipeline.
//
// Logical tables:
//   - action, entry: content-addressed payloads. Ingestion stages them so
//     dependent reads can find them before integration.
//   - operation: every op the node has seen, keyed by op hash. Validation
//     limbo and the integrated index are the same rows; integration sets
//     when_integrated.
//   - receipt: signed validation receipts, one per (op, validator).
//   - link, link_delete, record_update, record_delete, agent_activity:
//     metadata derived from integrated ops.
//   - op_dependency, action_rejection: bookkeeping for de-integration.
//
// # Reversible integration
//
// Rows are never deleted. Withdrawing an op clears when_integrated, flags the
// op and its metadata rows withdrawn, and returns it to pending. A later
// integration clears the flag again.
//
// # Ordering
//
// Limbo scans are ORDER BY op_order, hash so every stage sees ops in the
// same total order. op_order is a fixed-width string (see ir.OpOrder).
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
