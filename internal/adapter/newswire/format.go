package newswire

import (
	"html"
	"regexp"
	"strings"
)

var orderPattern = regexp.MustCompile(`/orders?/([A-Za-z0-9_-]+)`)

// bodyHTML turns blank-line separated paragraphs into escaped <p> blocks.
func bodyHTML(body string) string {
	var b strings.Builder
	for _, para := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		lines := strings.Split(para, "\n")
		for i, l := range lines {
			lines[i] = html.EscapeString(strings.TrimSpace(l))
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br>"))
		b.WriteString("</p>")
	}
	return b.String()
}
