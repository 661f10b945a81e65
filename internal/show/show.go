// Package show renders decoded mail in a human-readable form.
package show

import (
	"fmt"
	"io"
	"strings"

	"github.com/zhangyunhao116/zmail/internal/mail"
)

const separator = "========================================\n"

// DateLayout is used for the Date line.
const DateLayout = "2006-01-02 15:04:05 -0700"

// Format renders one mail: its primary headers, text and html bodies, and
// a list of attachments with their sizes.
func Format(m *mail.ParsedMail) string {
	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "Subject: %s\n", m.Subject)
	if m.ID != 0 {
		fmt.Fprintf(&b, "Id: %d\n", m.ID)
	}
	fmt.Fprintf(&b, "From: %s\n", m.From)
	fmt.Fprintf(&b, "To: %s\n", m.To)
	if m.Date != nil {
		fmt.Fprintf(&b, "Date: %s\n", m.Date.Format(DateLayout))
	} else {
		b.WriteString("Date: -\n")
	}

	for _, text := range m.ContentText {
		b.WriteString("Content text:\n")
		b.WriteString(normalizeNewlines(text) + "\n")
	}
	for _, html := range m.ContentHTML {
		b.WriteString("Content html:\n")
		b.WriteString(normalizeNewlines(html) + "\n")
	}

	if len(m.Attachments) > 0 {
		attachments := make([]string, 0, len(m.Attachments))
		for _, att := range m.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s, %s)", att.Filename, att.ContentType, FormatSize(len(att.Data))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}
	if len(m.Warnings) > 0 {
		fmt.Fprintf(&b, "Warnings: %d\n", len(m.Warnings))
		for _, w := range m.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}

	b.WriteString(separator)
	return b.String()
}

// Fprint writes every mail to w.
func Fprint(w io.Writer, mails ...*mail.ParsedMail) error {
	for _, m := range mails {
		if _, err := io.WriteString(w, Format(m)); err != nil {
			return fmt.Errorf("writing mail: %w", err)
		}
	}
	return nil
}

// FormatSize formats a byte count into a human-readable string.
func FormatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func normalizeNewlines(s string) string {
	return strings.TrimRight(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}
