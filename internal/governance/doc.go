// Package governance provides the bounded-autonomy primitives shared by
// Warden's agents: budget tracking, input/output security screening, the
// escalation funnel, and the human approval gate. The components are
// stateless collaborators consulted by the workflow engine; they read
// state and return verdicts, never mutate it.
package governance
