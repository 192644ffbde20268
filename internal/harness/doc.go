// Package harness runs scripted histories against a validating node.
//
// A scenario names some agents, has them author chains, and delivers the
// resulting ops to a single node in any order. The node is the full
// pipeline over an in-memory store and a loopback network that serves every
// authored commit back when the node fetches a missing dependency. After the
// last step the node is drained and every op's final status is reported as
// a trace keyed by commit label.
//
// # Scenario Format
//
//	name: update_then_delete
//	description: "An update and a delete reach the node before the create"
//	agents: [alice]
//	node:
//	  fetch_missing: true
//	steps:
//	  - commit: { agent: alice, action: genesis, label: g }
//	  - commit: { agent: alice, action: create, label: post, entry: "hello" }
//	  - commit: { agent: alice, action: delete, label: del, of: post }
//	  - deliver: [del, "*"]
//	expect:
//	  - { label: del, stage: integrated, validation: valid, receipts: 1 }
//	views:
//	  - { kind: record, basis: post, canonical: post, deletes: [del] }
//
// Steps are one of commit, deliver, drain, reject or reinstate. A commit
// may be withheld from the loopback network or tampered with after signing.
// A local commit is authored on the node itself and never delivered.
// "*" in a deliver list stands for every commit not delivered yet.
//
// # Determinism
//
// Keys derive from agent names, the node clock is a testutil
// DeterministicClock and drains are synchronous, so a scenario yields the
// same trace on every run. RunWithGolden compares it with
// testdata/golden/{name}.golden.
package harness
