// Package chatexport renders conversations as markdown documents for
// local mirroring and ad hoc export.
package chatexport

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/alexjbarnes/workspace-sync/internal/remote"
	"github.com/alexjbarnes/workspace-sync/internal/workspace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const (
	// maxTitleRunes bounds the title part of an exported file name.
	maxTitleRunes = 80

	// Extension is appended to every exported file name.
	Extension = ".md"

	separator = "---"

	idLinePrefix = "- Conversation ID: "
)

// Options controls document rendering.
type Options struct {
	// Frontmatter prepends a YAML block with the conversation identity.
	Frontmatter bool
}

// Frontmatter is the YAML header of an exported conversation.
type Frontmatter struct {
	Title          string `yaml:"title"`
	ConversationID string `yaml:"conversation_id"`
	ProjectID      string `yaml:"project_id,omitempty"`
	Created        string `yaml:"created,omitempty"`
	Updated        string `yaml:"updated,omitempty"`
}

var roleTitle = cases.Title(language.English)

// Format renders conv as a markdown document: a title with timestamps
// and the conversation id, then one section per message separated by
// horizontal rules. Message text is copied verbatim.
func Format(conv *remote.Conversation, opts Options) (string, error) {
	var b strings.Builder

	title := displayTitle(conv.Name)

	if opts.Frontmatter {
		fm := Frontmatter{
			Title:          title,
			ConversationID: conv.ID,
			ProjectID:      conv.ProjectID,
			Created:        formatTime(conv.CreatedAt, ""),
			Updated:        formatTime(conv.UpdatedAt, ""),
		}

		block, err := yaml.Marshal(fm)
		if err != nil {
			return "", fmt.Errorf("encoding frontmatter: %w", err)
		}

		b.WriteString(separator + "\n")
		b.Write(block)
		b.WriteString(separator + "\n\n")
	}

	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- Created: %s\n", formatTime(conv.CreatedAt, "unknown"))
	fmt.Fprintf(&b, "- Updated: %s\n", formatTime(conv.UpdatedAt, "unknown"))
	fmt.Fprintf(&b, "%s%s\n", idLinePrefix, conv.ID)

	for _, m := range conv.Messages {
		b.WriteString("\n" + separator + "\n\n")

		heading := roleLabel(m.Sender)
		if !m.CreatedAt.IsZero() {
			heading += " (" + formatTime(m.CreatedAt, "") + ")"
		}

		fmt.Fprintf(&b, "## %s\n\n", heading)
		b.WriteString(m.Text)

		if !strings.HasSuffix(m.Text, "\n") {
			b.WriteString("\n")
		}
	}

	return b.String(), nil
}

// ParseFrontmatter extracts the YAML header from an exported document.
// Returns nil if the document has none or it does not parse.
func ParseFrontmatter(content string) *Frontmatter {
	data := []byte(content)
	if !bytes.HasPrefix(data, []byte(separator)) {
		return nil
	}

	rest := data[len(separator):]

	idx := bytes.IndexByte(rest, '\n')
	if idx < 0 {
		return nil
	}

	rest = rest[idx+1:]

	end := bytes.Index(rest, []byte("\n"+separator))
	if end < 0 {
		return nil
	}

	var fm Frontmatter
	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return nil
	}

	return &fm
}

// FileName returns the sanitized, length-bounded file name for a
// conversation title.
func FileName(title string) string {
	return workspace.SanitizeName(displayTitle(title), maxTitleRunes) + Extension
}

// Namer hands out file names for a batch of conversations in one
// folder. Two conversations with the same sanitized title get distinct
// names by appending a short id suffix to the later one, then the full
// id, then the full id with a counter.
type Namer struct {
	used map[string]string
}

// NewNamer returns an empty Namer.
func NewNamer() *Namer {
	return &Namer{used: make(map[string]string)}
}

// Name returns the file name for conversation c. Repeated calls for the
// same conversation return the same name.
func (n *Namer) Name(c remote.ConversationSummary) string {
	name := FileName(c.Name)
	if n.claim(name, c.ID) {
		return name
	}

	short := c.ID
	if len(short) > 8 {
		short = short[:8]
	}

	base := strings.TrimSuffix(name, Extension)

	for i := 0; ; i++ {
		suffix := short
		switch {
		case i == 1:
			suffix = c.ID
		case i > 1:
			suffix = fmt.Sprintf("%s-%d", c.ID, i)
		}

		name = fmt.Sprintf("%s (%s)%s", base, suffix, Extension)
		if n.claim(name, c.ID) {
			return name
		}
	}
}

// claim records name for id unless another conversation holds it.
func (n *Namer) claim(name, id string) bool {
	key := strings.ToLower(name)

	if owner, taken := n.used[key]; taken && owner != id {
		return false
	}

	n.used[key] = id

	return true
}

// ConversationID returns the conversation id recorded in an exported
// document, from the frontmatter or the header line. Returns "" when the
// document carries none.
func ConversationID(content string) string {
	if fm := ParseFrontmatter(content); fm != nil && fm.ConversationID != "" {
		return fm.ConversationID
	}

	for _, line := range strings.Split(content, "\n") {
		// Message sections start with a level two heading.
		if strings.HasPrefix(line, "## ") {
			break
		}

		if id, ok := strings.CutPrefix(line, idLinePrefix); ok {
			return strings.TrimSpace(id)
		}
	}

	return ""
}

func displayTitle(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Untitled"
	}

	return strings.TrimSpace(name)
}

func roleLabel(sender string) string {
	switch strings.ToLower(sender) {
	case "human", "user":
		return "User"
	case "assistant":
		return "Assistant"
	case "":
		return "Unknown"
	default:
		return roleTitle.String(sender)
	}
}

func formatTime(t time.Time, zero string) string {
	if t.IsZero() {
		return zero
	}

	return t.UTC().Format(time.RFC3339)
}
