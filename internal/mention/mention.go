// Package mention detects "@role" tags while an admin types a message and
// inserts a chosen tag at the cursor. A message may carry one mention,
// which marks it as private to that role. Cursor positions are rune
// offsets into the text.
package mention

import (
	"strings"
	"unicode"

	"github.com/odlemon/khaya-portal-sub001/internal/domain"
)

// Option is an entry of the role dropdown.
type Option struct {
	Role  domain.Role `json:"role"`
	Label string      `json:"label"`
}

// Options lists the roles that can be mentioned, in dropdown order.
var Options = []Option{
	{Role: domain.RoleLandlord, Label: "Landlord"},
	{Role: domain.RoleTenant, Label: "Tenant"},
}

// Result describes the mention state of a text at a cursor position.
type Result struct {
	// HasMention is set when the text already carries a complete mention.
	HasMention bool        `json:"has_mention"`
	Tagged     domain.Role `json:"tagged,omitempty"`

	// Open is set when the dropdown should be shown for an in-progress tag.
	Open    bool     `json:"open"`
	Term    string   `json:"term"`
	Start   int      `json:"start"` // rune offset of the in-progress '@', -1 if none
	Options []Option `json:"options"`
}

// Analyze inspects text with the cursor at rune offset cursor.
func Analyze(text string, cursor int) Result {
	runes := []rune(text)
	cursor = clamp(cursor, len(runes))

	res := Result{Start: -1, Options: []Option{}}

	if role, ok := complete(text, runes, cursor); ok {
		res.HasMention = true
		res.Tagged = role
		return res
	}

	start := lastAt(runes, cursor)
	if start < 0 {
		return res
	}
	term := runes[start+1 : cursor]
	for _, r := range term {
		if unicode.IsSpace(r) {
			return res
		}
	}

	res.Start = start
	res.Term = strings.ToLower(string(term))
	res.Options = Filter(res.Term)
	res.Open = len(res.Options) > 0
	return res
}

// Filter returns the options whose role name or label contains term.
func Filter(term string) []Option {
	term = strings.ToLower(term)
	out := make([]Option, 0, len(Options))
	for _, o := range Options {
		if strings.Contains(string(o.Role), term) || strings.Contains(strings.ToLower(o.Label), term) {
			out = append(out, o)
		}
	}
	return out
}

// Insert places "@role " at the cursor, replacing an in-progress tag that
// ends at the cursor. It returns the new text and cursor and false when the
// insertion was refused: the role is not mentionable or the text already
// has a mention.
func Insert(text string, cursor int, role domain.Role) (string, int, bool) {
	runes := []rune(text)
	cursor = clamp(cursor, len(runes))

	if !mentionable(role) {
		return text, cursor, false
	}

	res := Analyze(text, cursor)
	if res.HasMention {
		return text, cursor, false
	}

	start := cursor
	if res.Start >= 0 {
		start = res.Start
	}

	tag := []rune("@" + string(role) + " ")
	out := make([]rune, 0, len(runes)-(cursor-start)+len(tag))
	out = append(out, runes[:start]...)
	out = append(out, tag...)
	out = append(out, runes[cursor:]...)

	return string(out), start + len(tag), true
}

// Tagged returns the role mentioned in a finished message, if any. A tag
// counts when it is followed by whitespace or ends the text.
func Tagged(content string) (domain.Role, bool) {
	best, bestAt := domain.Role(""), -1
	for _, o := range Options {
		token := "@" + string(o.Role)
		from := 0
		for {
			i := strings.Index(content[from:], token)
			if i < 0 {
				break
			}
			i += from
			end := i + len(token)
			if end == len(content) || unicode.IsSpace(rune(content[end])) {
				if bestAt < 0 || i < bestAt {
					best, bestAt = o.Role, i
				}
				break
			}
			from = end
		}
	}
	return best, bestAt >= 0
}

// complete reports an already finished mention: "@role " anywhere, or
// "@role" ending the text at or after the cursor.
func complete(text string, runes []rune, cursor int) (domain.Role, bool) {
	best, bestAt := domain.Role(""), -1
	for _, o := range Options {
		if i := strings.Index(text, "@"+string(o.Role)+" "); i >= 0 && (bestAt < 0 || i < bestAt) {
			best, bestAt = o.Role, i
		}
	}
	if bestAt >= 0 {
		return best, true
	}

	for _, o := range Options {
		token := []rune("@" + string(o.Role))
		start := len(runes) - len(token)
		if start >= cursor && strings.HasSuffix(text, string(token)) {
			return o.Role, true
		}
	}
	return "", false
}

func lastAt(runes []rune, cursor int) int {
	for i := cursor - 1; i >= 0; i-- {
		if runes[i] == '@' {
			return i
		}
	}
	return -1
}

func mentionable(role domain.Role) bool {
	for _, o := range Options {
		if o.Role == role {
			return true
		}
	}
	return false
}

func clamp(cursor, n int) int {
	if cursor < 0 {
		return 0
	}
	if cursor > n {
		return n
	}
	return cursor
}
