package governance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// ApprovalStatus tracks the state of human approval for a proposed action.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalSkipped  ApprovalStatus = "skipped"
)

// ProposedAction describes a side-effecting write awaiting human review.
// It is consumed by the approval gate and, if approved, by the writeback
// collaborator.
type ProposedAction struct {
	Type          string            `json:"action_type"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Severity      string            `json:"severity,omitempty"`
	EvidenceLinks []string          `json:"evidence_links,omitempty"`
	Hypotheses    []string          `json:"hypotheses,omitempty"`
	NextSteps     []string          `json:"next_steps,omitempty"`
	Context       map[string]string `json:"context,omitempty"`
}

// Decision records the outcome of one approval gate pass.
type Decision struct {
	Status  ApprovalStatus
	RawText string
	Latency time.Duration
}

// ApprovalGate formats proposed actions for human review and classifies
// the free-text reply. The suspension itself is the workflow engine's
// concern; the gate only brackets it with Request and Resolve.
type ApprovalGate struct {
	hooks  Hooks
	logger log.Logger
}

// NewApprovalGate creates an approval gate. A nil logger is replaced with
// a no-op logger.
func NewApprovalGate(hooks Hooks, logger log.Logger) *ApprovalGate {
	if logger == nil {
		logger = log.Nop()
	}
	return &ApprovalGate{hooks: hooks, logger: logger}
}

// Required reports whether an action needs human approval: always when
// forced, when write intent is present, or when confidence is known and
// below threshold. Pure predicate.
func (g *ApprovalGate) Required(force, writeIntent bool, confidence *float64, threshold float64) bool {
	if force {
		return true
	}
	if writeIntent {
		return true
	}
	if confidence != nil && *confidence < threshold {
		return true
	}
	return false
}

// FormatRequest renders the fixed approval-request structure. This layout
// is the contract every human-facing channel renders; context keys are
// sorted for a stable rendering.
func (g *ApprovalGate) FormatRequest(action ProposedAction) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Approval Required: %s\n\n", strings.ToUpper(action.Type))
	fmt.Fprintf(&b, "**Title**: %s\n", action.Title)

	severity := action.Severity
	if severity == "" {
		severity = "Not specified"
	}
	fmt.Fprintf(&b, "**Severity**: %s\n\n", severity)

	b.WriteString("### Description\n")
	b.WriteString(action.Description)
	b.WriteString("\n\n")

	if len(action.EvidenceLinks) > 0 {
		b.WriteString("### Evidence\n")
		for _, link := range action.EvidenceLinks {
			fmt.Fprintf(&b, "- %s\n", link)
		}
		b.WriteString("\n")
	}

	if len(action.Context) > 0 {
		b.WriteString("### Context\n")
		keys := make([]string, 0, len(action.Context))
		for k := range action.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- **%s**: %s\n", k, action.Context[k])
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n")
	b.WriteString("Please respond with: **approve**, **reject**, or **edit**")

	return b.String()
}

// Request marks an action as awaiting human review and returns the
// timestamp that anchors decision latency across the suspension.
func (g *ApprovalGate) Request(ctx context.Context, action ProposedAction) time.Time {
	if g.hooks.OnApprovalRequest != nil {
		g.hooks.OnApprovalRequest(action.Type)
	}
	g.logger.Info(ctx, "approval requested",
		"action_type", action.Type,
		"title", action.Title,
	)
	return time.Now()
}

// Resolve classifies the human reply received after a suspension.
// Classification is exact after trimming and lowercasing: approve,
// approved, yes and y approve; edit and modify also approve, leaving the
// action unchanged; anything else, including an empty reply, rejects.
// The gate fails closed.
func (g *ApprovalGate) Resolve(ctx context.Context, action ProposedAction, reply string, requestedAt time.Time) Decision {
	var latency time.Duration
	if !requestedAt.IsZero() {
		latency = time.Since(requestedAt)
	}

	status := ApprovalRejected
	switch strings.ToLower(strings.TrimSpace(reply)) {
	case "approve", "approved", "yes", "y":
		status = ApprovalApproved
	case "edit", "modify":
		status = ApprovalApproved
	}

	if g.hooks.OnApprovalDecision != nil {
		g.hooks.OnApprovalDecision(action.Type, status, latency)
	}
	g.logger.Info(ctx, "approval decision received",
		"action_type", action.Type,
		"status", string(status),
		"latency_seconds", latency.Seconds(),
	)

	return Decision{Status: status, RawText: reply, Latency: latency}
}

// Skip produces a SKIPPED decision with zero latency, used when approval
// is not required but the audit trail still needs a decision record.
func (g *ApprovalGate) Skip(ctx context.Context, reason string) Decision {
	g.logger.Info(ctx, "approval skipped", "reason", reason)
	return Decision{Status: ApprovalSkipped, RawText: reason}
}
