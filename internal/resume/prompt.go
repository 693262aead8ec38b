package resume

import "strings"

// Prompt template sections. The template is fixed: assembled once per
// request, never per fragment.
const (
	promptFraming = "You are continuing a conversation the user previously had with an AI assistant. " +
		"The record of that exchange is given below. Treat it as established shared context rather " +
		"than new information to summarize back."

	promptInstructions = "## Instructions\n\n" +
		"- Respect the previous content and the user's notes; do not contradict or re-litigate what was already settled.\n" +
		"- Recap key points from the previous content when it helps the user re-orient.\n" +
		"- If the user takes the conversation in a new direction, follow without resistance."
)

// BuildSystemInstruction renders the system instruction for a resumed
// session. Pure function, no I/O.
func BuildSystemInstruction(rc *ResumeContext) string {
	var sb strings.Builder

	sb.WriteString(promptFraming)
	sb.WriteString("\n\n## Previous content\n\n")
	sb.WriteString(rc.Summary)

	if rc.Title != "" {
		sb.WriteString("\n\n## Theme\n\n")
		sb.WriteString(rc.Title)
	}
	if rc.Note != "" {
		sb.WriteString("\n\n## User notes\n\n")
		sb.WriteString(rc.Note)
	}

	sb.WriteString("\n\n")
	sb.WriteString(promptInstructions)
	return sb.String()
}
