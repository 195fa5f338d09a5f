package governance

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

// Defaults for the security validator. MaxInputLength bounds untrusted
// input before it reaches the model; SanitizeLength bounds log previews.
const (
	DefaultMaxInputLength = 10000
	DefaultSanitizeLength = 200
)

// injectionPatterns screen for prompt-injection attempts. Matching is
// best-effort; false positives and negatives are accepted.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?prior\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?previous`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?previous`),
	regexp.MustCompile(`(?i)act\s+as\s+if\s+you\s+are`),
	regexp.MustCompile(`(?i)pretend\s+you\s+are`),
	regexp.MustCompile(`(?i)you\s+are\s+now`),
	regexp.MustCompile(`(?i)new\s+instructions:`),
	regexp.MustCompile(`(?i)system\s+prompt:`),
	regexp.MustCompile(`(?i)<\s*system\s*>`),
	regexp.MustCompile(`(?i)\[\s*system\s*\]`),
	regexp.MustCompile(`(?i)jailbreak`),
	regexp.MustCompile(`(?i)DAN\s+mode`),
	regexp.MustCompile(`(?i)developer\s+mode`),
	regexp.MustCompile(`(?i)override\s+(system|previous)`),
	regexp.MustCompile(`(?i)do\s+anything\s+now`),
}

// piiPatterns pair a stable type label with a matcher. The slice order is
// fixed so detection lists and redaction are deterministic.
var piiPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"email", regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"phone", regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}[-.\s]?\d{2}[-.\s]?\d{4}\b`)},
	{"credit_card", regexp.MustCompile(`\b(?:\d{4}[-.\s]?){3}\d{4}\b`)},
	{"api_key_openai", regexp.MustCompile(`\bsk-[a-zA-Z0-9]{48}\b`)},
	{"api_key_datadog", regexp.MustCompile(`\bdd[a-z]{1,2}_[a-zA-Z0-9]{32,}\b`)},
}

var controlChars = regexp.MustCompile(`[\x00-\x1f\x7f-\x9f]`)

// Verdict is the outcome of one validation pass. Detected may be
// populated even when OK is true, when non-blocking PII was found.
type Verdict struct {
	OK       bool
	Reason   Reason
	Message  string
	Detected []string
}

// SecurityConfig controls the security validator.
type SecurityConfig struct {
	// MaxInputLength is the maximum accepted input size in bytes.
	// Zero selects DefaultMaxInputLength.
	MaxInputLength int

	// BlockOnPII rejects inputs containing PII instead of logging and
	// continuing. Output PII is always reported regardless.
	BlockOnPII bool
}

// SecurityValidator screens untrusted input before it reaches the model
// and spot-checks model output before it reaches the user.
type SecurityValidator struct {
	maxInputLength int
	blockOnPII     bool
	hooks          Hooks
	logger         log.Logger
}

// NewSecurityValidator creates a validator. A nil logger is replaced with
// a no-op logger.
func NewSecurityValidator(cfg SecurityConfig, hooks Hooks, logger log.Logger) *SecurityValidator {
	if cfg.MaxInputLength <= 0 {
		cfg.MaxInputLength = DefaultMaxInputLength
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &SecurityValidator{
		maxInputLength: cfg.MaxInputLength,
		blockOnPII:     cfg.BlockOnPII,
		hooks:          hooks,
		logger:         logger,
	}
}

// ValidateInput screens user input. Checks run in fixed order and
// short-circuit: length, emptiness, prompt injection, PII. With
// BlockOnPII unset, PII findings are reported in Detected but do not
// fail the verdict.
func (v *SecurityValidator) ValidateInput(ctx context.Context, text string) Verdict {
	if len(text) > v.maxInputLength {
		v.emitCheck("length", false)
		return Verdict{
			Reason:  ReasonSecurityViolation,
			Message: fmt.Sprintf("Input exceeds maximum length of %d characters", v.maxInputLength),
		}
	}

	if strings.TrimSpace(text) == "" {
		v.emitCheck("empty", false)
		return Verdict{
			Reason:  ReasonSecurityViolation,
			Message: "Input cannot be empty",
		}
	}

	if matched := matchInjection(text); len(matched) > 0 {
		v.emitCheck("prompt_injection", false)
		v.logger.Warn(ctx, "prompt injection detected",
			"patterns", matched,
			"input_preview", v.Sanitize(text, 100),
		)
		return Verdict{
			Reason:   ReasonPromptInjection,
			Message:  "Potential prompt injection detected",
			Detected: matched,
		}
	}

	if types := matchPII(text); len(types) > 0 {
		v.emitCheck("pii", false)
		v.emitPII(types, "input")
		v.logger.Warn(ctx, "PII detected in input", "pii_types", types)

		if v.blockOnPII {
			return Verdict{
				Reason:   ReasonPIIDetected,
				Message:  fmt.Sprintf("PII detected: %s", strings.Join(types, ", ")),
				Detected: types,
			}
		}

		v.emitCheck("input", true)
		return Verdict{OK: true, Detected: types}
	}

	v.emitCheck("input", true)
	return Verdict{OK: true}
}

// ValidateOutput spot-checks model output for PII leakage. Any match
// fails the verdict; there is no warn-only mode on output.
func (v *SecurityValidator) ValidateOutput(ctx context.Context, text string) Verdict {
	types := matchPII(text)
	if len(types) == 0 {
		v.emitCheck("output", true)
		return Verdict{OK: true}
	}

	v.emitCheck("output_pii", false)
	v.emitPII(types, "output")
	v.logger.Warn(ctx, "PII detected in output", "pii_types", types)

	return Verdict{
		Reason:   ReasonPIIDetected,
		Message:  fmt.Sprintf("PII detected in output: %s", strings.Join(types, ", ")),
		Detected: types,
	}
}

// Redact replaces every PII match with a type-tagged placeholder, for
// safe logging and storage.
func (v *SecurityValidator) Redact(text string) string {
	for _, p := range piiPatterns {
		text = p.re.ReplaceAllString(text, fmt.Sprintf("[%s_REDACTED]", strings.ToUpper(p.name)))
	}
	return text
}

// Sanitize truncates text and strips control characters for log safety.
// A non-positive max selects DefaultSanitizeLength.
func (v *SecurityValidator) Sanitize(text string, max int) string {
	if max <= 0 {
		max = DefaultSanitizeLength
	}
	if len(text) > max {
		text = text[:max] + "..."
	}
	return controlChars.ReplaceAllString(text, "")
}

func matchInjection(text string) []string {
	var matched []string
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			matched = append(matched, re.String())
		}
	}
	return matched
}

// matchPII returns every matching PII type, not just the first.
func matchPII(text string) []string {
	var types []string
	for _, p := range piiPatterns {
		if p.re.MatchString(text) {
			types = append(types, p.name)
		}
	}
	return types
}

func (v *SecurityValidator) emitCheck(check string, passed bool) {
	if v.hooks.OnSecurityCheck != nil {
		v.hooks.OnSecurityCheck(check, passed)
	}
}

func (v *SecurityValidator) emitPII(types []string, direction string) {
	if v.hooks.OnPIIDetected == nil {
		return
	}
	for _, t := range types {
		v.hooks.OnPIIDetected(t, direction)
	}
}
