// Package render formats documents and chat messages for the terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/docchat/internal/types"
)

const summaryWidth = 60

// Text converts backend text to markdown when it contains HTML and returns
// it unchanged otherwise.
func Text(s string) string {
	if !looksLikeHTML(s) {
		return s
	}
	md, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(md)
}

func looksLikeHTML(s string) bool {
	i := strings.IndexByte(s, '<')
	if i < 0 || i+1 >= len(s) {
		return false
	}
	next := s[i+1]
	return next == '/' || next == '!' || (next >= 'a' && next <= 'z') || (next >= 'A' && next <= 'Z')
}

// Documents writes a table of records.
func Documents(w io.Writer, records []types.DocumentRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tSUMMARY")
	for _, rec := range records {
		detail := rec.Summary
		if rec.Status == types.StatusFailed && rec.Error != "" {
			detail = rec.Error
		}
		name := rec.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.Key(), name, rec.Status, oneLine(Text(detail), summaryWidth))
	}
	return tw.Flush()
}

// Message formats a chat message as "[15:04] you: text".
func Message(m types.ChatMessage) string {
	who := "you"
	if m.Sender == types.SenderAI {
		who = "ai"
	}
	return fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format(time.Kitchen), who, Text(m.Content))
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
