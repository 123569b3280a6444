// Package greeting derives the per-call session configuration for the voice
// agent: a personalized first utterance and a system-prompt override built
// from the resolved caller context. [Build] is a pure function so the full
// branch matrix is testable without any I/O.
package greeting

import (
	"fmt"
	"strings"
	"time"

	"github.com/rentline/voicebridge/internal/directory"
)

// SessionConfig is the immutable per-call agent configuration, computed once
// before the upstream agent session opens.
type SessionConfig struct {
	// Greeting is the agent's first utterance.
	Greeting string

	// InstructionOverride replaces the agent's default system prompt for
	// this call.
	InstructionOverride string
}

// personaPreamble opens every instruction override.
const personaPreamble = `You are Riley, the friendly voice assistant for Rentline Property Management. You help property owners and prospective sellers with their questions, qualify new leads, and schedule follow-up calls. Keep responses short and conversational; you are on a phone call.`

// policySuffix closes every instruction override with the escalation and
// scope rules. Fixed text, never personalized.
const policySuffix = `Escalation policy: if the caller asks for a human, becomes upset, or raises a legal, billing-dispute, or emergency-maintenance matter, offer to transfer them to a team member right away. Do not attempt to negotiate final sale prices, give legal or tax advice, or make binding commitments; treat those topics as out of scope and offer a callback from the team instead.`

// Build turns a resolved caller context into the session configuration.
// now supplies the wall clock for the time-of-day salutation.
func Build(cc directory.CallerContext, now time.Time) SessionConfig {
	return SessionConfig{
		Greeting:            buildGreeting(cc, now),
		InstructionOverride: buildInstructions(cc),
	}
}

// buildGreeting selects the first utterance. Branches are ordered by
// priority; the first matching rule wins.
func buildGreeting(cc directory.CallerContext, now time.Time) string {
	sal := salutation(now)
	first := firstName(cc.Name)

	switch {
	case cc.HasScheduledCall && first != "":
		return fmt.Sprintf("%s %s! Thanks for calling right on time for our scheduled chat. How are you doing today?", sal, first)
	case first != "" && cc.Stage == directory.StageOwner:
		return fmt.Sprintf("%s %s! Great to hear from you. How are things going with your property?", sal, first)
	case first != "" && cc.CallCount() > 0:
		return fmt.Sprintf("%s %s, welcome back! What can I help you with today?", sal, first)
	case first != "" && cc.PropertyAddress != "":
		return fmt.Sprintf("%s %s! Are you calling about the property at %s?", sal, first, cc.PropertyAddress)
	case first != "":
		return fmt.Sprintf("%s %s! Thanks for calling Rentline. How can I help you today?", sal, first)
	default:
		return fmt.Sprintf("%s, thanks for calling Rentline Property Management! May I ask who I'm speaking with?", sal)
	}
}

// buildInstructions assembles the system-prompt override: persona preamble,
// one line per known context field, then the fixed policy suffix.
func buildInstructions(cc directory.CallerContext) string {
	var b strings.Builder
	b.WriteString(personaPreamble)
	b.WriteString("\n\n")

	if cc.IsNewCaller {
		b.WriteString("The caller is not in our directory. Politely collect their name and the reason for their call.\n")
	}
	if cc.Name != "" {
		fmt.Fprintf(&b, "The caller's name is %s.\n", cc.Name)
	}
	if cc.PropertyAddress != "" {
		fmt.Fprintf(&b, "They are associated with the property at %s.\n", cc.PropertyAddress)
	}
	switch {
	case cc.Stage == directory.StageOwner:
		b.WriteString("They are an existing property owner we manage for; treat this as an owner-service call, not a sales call.\n")
	case cc.Stage != "":
		fmt.Fprintf(&b, "They are a lead currently in the %q stage of our pipeline.\n", cc.Stage)
	}
	if cc.HasScheduledCall {
		b.WriteString("This call was scheduled in advance; acknowledge the appointment.\n")
	}
	if n := cc.CallCount(); n > 0 {
		fmt.Fprintf(&b, "We have spoken with them %d time(s) before by phone.\n", n)
	}
	if !cc.LastContactAt.IsZero() {
		fmt.Fprintf(&b, "Last contact was on %s.\n", cc.LastContactAt.Format("January 2, 2006"))
	}
	if cc.Notes != "" {
		fmt.Fprintf(&b, "Notes on file: %s\n", cc.Notes)
	}

	b.WriteString("\n")
	b.WriteString(policySuffix)
	return b.String()
}

// salutation returns the time-of-day greeting opener for the given wall
// clock: morning before noon, afternoon until 6pm, evening after.
func salutation(now time.Time) string {
	switch h := now.Hour(); {
	case h < 12:
		return "Good morning"
	case h < 18:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}

// firstName extracts the leading word of a display name.
func firstName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i]
	}
	return name
}
