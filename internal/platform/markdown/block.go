package markdown

import "strings"

// Block is a generated region of a note delimited by HTML comments, so it is
// invisible when rendered and can be rewritten without touching the rest.
type Block struct {
	Name string
}

func (b Block) start() string { return "<!-- " + b.Name + ":start -->" }
func (b Block) end() string   { return "<!-- " + b.Name + ":end -->" }

// Replace swaps the block's content, appending the block when body has none.
func (b Block) Replace(body, generated string) string {
	startMarker, endMarker := b.start(), b.end()
	block := startMarker + "\n" + generated + "\n" + endMarker

	start := strings.Index(body, startMarker)
	end := strings.Index(body, endMarker)
	if start >= 0 && end > start {
		return body[:start] + block + body[end+len(endMarker):]
	}

	switch {
	case strings.TrimSpace(body) == "":
		return block + "\n"
	case strings.HasSuffix(body, "\n"):
		return body + "\n" + block + "\n"
	default:
		return body + "\n\n" + block + "\n"
	}
}

// Extract returns the block's current content.
func (b Block) Extract(body string) (string, bool) {
	startMarker, endMarker := b.start(), b.end()
	start := strings.Index(body, startMarker)
	end := strings.Index(body, endMarker)
	if start < 0 || end <= start {
		return "", false
	}
	return strings.Trim(body[start+len(startMarker):end], "\n"), true
}
