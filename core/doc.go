// Package core provides the foundational domain types used by statemesh. It
// defines the core abstractions for:
//
//   - Events (named signals with optional payloads, external and internal)
//   - Configurations (the structured set of active root-to-leaf state paths)
//   - Context (the per-instance key/value store read by guards, mutated by actions)
//   - Callback contracts for actions, guards and invoked services
//   - OrchestratedRequest / Outcome (the inter-instance messaging surface)
//   - Error types crossing package boundaries (definition, loop, delivery)
//
// The package intentionally keeps implementation concerns (definition parsing,
// the transition engine, orchestration) out of scope so that higher layers can
// depend on a small, stable vocabulary.
package core
