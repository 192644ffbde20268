// Package engine runs the op validation and integration pipeline.
//
// Ingestion runs on the caller's goroutine; every later stage is owned by
// one worker:
//
//	ingest → sys validation → app validation → integration → receipts
//
// Stages talk only through persisted op status and wake-up triggers. A
// trigger is a single-slot signal: signalling an already-signalled trigger
// is a no-op, so a burst of work causes one pass, and every pass rescans
// its whole input set from the store. Nothing is lost if a signal coalesces
// and nothing is held in memory between passes, which makes a restart
// equivalent to a Kick.
//
// Each pass processes ops in processing order (op type rank, then action
// timestamp, then op hash). Per-op writes are single transactions guarded
// on the op's current status, and the integrator is the only stage that
// writes the integrated index.
//
// Verdicts on dependencies can change after the fact (a chain fork or an
// explicit rejection). The integrator never deletes history: affected
// ops are flagged withdrawn and returned to Pending, and the next pass
// decides them again.
//
// Error handling:
//   - Adversarial input is dropped at ingestion with a Warn log and a metric.
//   - Invalid ops are validation outcomes, never errors.
//   - Storage and collaborator failures are StageErrors; the op stays put.
//   - Invariant violations stop Pipeline.Run.
package engine
