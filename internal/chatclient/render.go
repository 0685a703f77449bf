package chatclient

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	htmlTag    = regexp.MustCompile(`(?i)<[a-z][\s\S]*>`)
	lineBreaks = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</li>|</h[1-4]>|</div>`)
	blankRuns  = regexp.MustCompile(`\n{3,}`)

	assistantPolicy = newAssistantPolicy()
	stripPolicy     = bluemonday.StrictPolicy()
)

func newAssistantPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "em", "strong", "a", "p", "h1", "h2", "h3", "h4",
		"ul", "ol", "li", "br", "span", "div", "code", "pre")
	p.AllowStandardURLs()
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("target").Matching(regexp.MustCompile(`^_(blank|self)$`)).OnElements("a")
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).Globally()
	p.RequireNoReferrerOnFullyQualifiedLinks(true)
	return p
}

// RenderHTML returns assistant content safe to inject into a page. Content
// without markup is escaped as plain text.
func RenderHTML(content string) string {
	if !htmlTag.MatchString(content) {
		return html.EscapeString(content)
	}
	return assistantPolicy.Sanitize(content)
}

// RenderText strips all markup for terminal output, keeping block breaks.
func RenderText(content string) string {
	if !htmlTag.MatchString(content) {
		return content
	}
	s := lineBreaks.ReplaceAllStringFunc(content, func(m string) string { return m + "\n" })
	s = html.UnescapeString(stripPolicy.Sanitize(s))
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
