package classifier

import (
	"strings"

	"emailagent/internal/model"
)

// Fixed input bounds. Together they cap the prompt at MaxPromptBytes.
const (
	MaxBodyPreviewRunes    = 300
	MaxSenderRunes         = 320
	MaxSubjectRunes        = 500
	MaxAttachmentNames     = 20
	MaxAttachmentNameRunes = 200

	// MaxPromptBytes is an upper bound on len(BuildPrompt(s)) for any s.
	MaxPromptBytes = 24 * 1024
)

// BuildPrompt renders the classification instruction for one email.
// The output depends only on s.
func BuildPrompt(s model.EmailSummary) string {
	var b strings.Builder
	b.Grow(2048)

	b.WriteString("You are an email classification assistant. Classify the email below into exactly ONE category.\n\n")
	b.WriteString("Available categories:\n")
	for _, c := range model.AllCategories() {
		b.WriteString("- ")
		b.WriteString(string(c))
		b.WriteString(": ")
		b.WriteString(c.Description())
		b.WriteByte('\n')
	}

	b.WriteString("\nAnalyse the email and reply ONLY with a JSON object of this form:\n")
	b.WriteString(`{"category": "<one category from the list>", "confidence": <integer between 0 and 100>, "reason": "<short explanation>"}`)
	b.WriteString("\n\nEMAIL TO CLASSIFY:\n---\n")

	b.WriteString("Sender: ")
	b.WriteString(clip(s.Sender, MaxSenderRunes))
	b.WriteString("\nSubject: ")
	b.WriteString(clip(s.Subject, MaxSubjectRunes))
	b.WriteString("\nBody (preview): ")
	b.WriteString(clip(s.BodyPreview, MaxBodyPreviewRunes))
	b.WriteString("\nAttachments: ")
	if s.HasAttachments {
		b.WriteString("yes")
	} else {
		b.WriteString("no")
	}
	b.WriteByte('\n')

	if names := attachmentNames(s.AttachmentNames); len(names) > 0 {
		b.WriteString("Attachment names: ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteByte('\n')
	}

	b.WriteString("---\n\nREPLY WITH THE JSON ONLY, NOTHING ELSE:")
	return b.String()
}

func attachmentNames(names []string) []string {
	out := make([]string, 0, min(len(names), MaxAttachmentNames))
	for _, n := range names {
		if len(out) == MaxAttachmentNames {
			break
		}
		if n = clip(n, MaxAttachmentNameRunes); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// clip collapses whitespace runs to single spaces and keeps at most n runes.
func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
