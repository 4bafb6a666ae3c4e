// Package htmltext flattens the backend's rendered markdown into plain
// terminal text.
package htmltext

import (
	"strings"

	"golang.org/x/net/html"
)

// ToText converts an HTML fragment to plain text. Block elements start new
// lines, list items get a bullet and headings are kept on their own line.
// Input that is not HTML comes back trimmed but otherwise unchanged.
func ToText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return strings.TrimSpace(html.UnescapeString(fragment))
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a malformed tail; either way keep what was read
			return tidy(b.String())
		case html.TextToken:
			b.WriteString(collapse(string(z.Text())))
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br":
				b.WriteString("\n")
			case "li":
				b.WriteString("\n• ")
			case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "pre", "blockquote", "tr":
				b.WriteString("\n")
			case "td", "th":
				b.WriteString("  ")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "pre", "blockquote":
				b.WriteString("\n")
			}
		}
	}
}

// Lines converts each fragment with ToText.
func Lines(fragments []string) []string {
	out := make([]string, len(fragments))
	for i, f := range fragments {
		out[i] = ToText(f)
	}
	return out
}

// collapse squeezes runs of whitespace inside a text node
func collapse(s string) string {
	if strings.TrimSpace(s) == "" {
		if strings.ContainsAny(s, "\n") {
			return ""
		}
		return s
	}
	lead := strings.HasPrefix(s, " ")
	trail := strings.HasSuffix(s, " ")
	out := strings.Join(strings.Fields(s), " ")
	if lead {
		out = " " + out
	}
	if trail {
		out += " "
	}
	return out
}

// tidy trims each line and folds blank line runs to a single blank line
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
