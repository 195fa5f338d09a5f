// Package agent provides the business boundary for Warden's bounded-autonomy
// triage workflow. It defines the Service (run lifecycle, suspend/resume),
// Engine (staged LLM orchestration under governance), store interfaces
// (run history and checkpoints), and domain models.
package agent
