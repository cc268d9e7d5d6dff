package message

import (
	"regexp"
	"strings"
)

var (
	htmlTagRe     = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)
	brRe          = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockCloseRe  = regexp.MustCompile(`(?i)</(p|div)\s*>`)
	listItemRe    = regexp.MustCompile(`(?i)<li(\s[^>]*)?>`)
	anyTagRe      = regexp.MustCompile(`<[^>]*>`)
	extraBreaksRe = regexp.MustCompile(`\n{3,}`)

	entityReplacer = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
)

// IsHTML reports whether body contains at least one markup tag
func IsHTML(body string) bool {
	return htmlTagRe.MatchString(body)
}

// PlainText converts an HTML body into the plain-text form that is sent.
// Line and paragraph breaks and list bullets survive; all other markup is
// dropped.
func PlainText(html string) string {
	s := strings.ReplaceAll(html, "\r\n", "\n")
	s = brRe.ReplaceAllString(s, "\n")
	s = blockCloseRe.ReplaceAllString(s, "\n\n")
	s = listItemRe.ReplaceAllString(s, "• ")
	s = anyTagRe.ReplaceAllString(s, "")
	s = entityReplacer.Replace(s)
	s = extraBreaksRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
