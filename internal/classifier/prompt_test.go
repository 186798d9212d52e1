package classifier

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"emailagent/internal/model"
)

func TestBuildPrompt(t *testing.T) {
	t.Run("lists every category and the email fields", func(t *testing.T) {
		p := BuildPrompt(model.EmailSummary{
			Sender:          "billing@acme.com",
			Subject:         "Invoice #42",
			BodyPreview:     "Please find attached",
			HasAttachments:  true,
			AttachmentNames: []string{"invoice-42.pdf"},
		})

		for _, c := range model.AllCategories() {
			assert.Contains(t, p, "- "+string(c)+": ")
		}
		assert.Contains(t, p, "Sender: billing@acme.com\n")
		assert.Contains(t, p, "Subject: Invoice #42\n")
		assert.Contains(t, p, "Body (preview): Please find attached\n")
		assert.Contains(t, p, "Attachments: yes\n")
		assert.Contains(t, p, "Attachment names: invoice-42.pdf\n")
		assert.True(t, strings.HasSuffix(p, "REPLY WITH THE JSON ONLY, NOTHING ELSE:"))
	})

	t.Run("omits attachment names when there are none", func(t *testing.T) {
		p := BuildPrompt(model.EmailSummary{Sender: "a@b.c", Subject: "hi"})
		assert.Contains(t, p, "Attachments: no\n")
		assert.NotContains(t, p, "Attachment names:")
	})

	t.Run("is deterministic", func(t *testing.T) {
		s := model.EmailSummary{Sender: "x@y.z", Subject: "s", BodyPreview: "b", AttachmentNames: []string{"a", "b"}}
		assert.Equal(t, BuildPrompt(s), BuildPrompt(s))
	})

	t.Run("stays under the size bound for huge inputs", func(t *testing.T) {
		// 4 字节字符，最坏情况
		huge := strings.Repeat("😀", 100000)
		names := make([]string, 500)
		for i := range names {
			names[i] = huge
		}
		p := BuildPrompt(model.EmailSummary{
			Sender:          huge,
			Subject:         huge,
			BodyPreview:     huge,
			HasAttachments:  true,
			AttachmentNames: names,
		})

		assert.LessOrEqual(t, len(p), MaxPromptBytes)
		assert.True(t, utf8.ValidString(p))
		assert.Equal(t, MaxAttachmentNames-1, strings.Count(lineWith(p, "Attachment names: "), ", "))
	})

	t.Run("body preview is clipped", func(t *testing.T) {
		body := strings.Repeat("a", MaxBodyPreviewRunes+50)
		p := BuildPrompt(model.EmailSummary{BodyPreview: body})
		assert.Contains(t, p, "Body (preview): "+strings.Repeat("a", MaxBodyPreviewRunes)+"\n")
	})

	t.Run("blank attachment names are skipped", func(t *testing.T) {
		p := BuildPrompt(model.EmailSummary{HasAttachments: true, AttachmentNames: []string{"  ", "report.pdf"}})
		assert.Contains(t, p, "Attachment names: report.pdf\n")
	})
}

func TestClip(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"cut", "hello world", 5, "hello"},
		{"whitespace collapsed", "  a\n\tb   c ", 10, "a b c"},
		{"multibyte", "héllo", 2, "hé"},
		{"empty", "   ", 3, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clip(tt.in, tt.n))
		})
	}
}

func lineWith(s, prefix string) string {
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
	return ""
}
