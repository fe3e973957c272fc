package workspace

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	// maxNameRunes bounds sanitized folder and file names. Most
	// filesystems allow 255 bytes; 100 runes leaves room for suffixes
	// and multi-byte characters.
	maxNameRunes = 100

	untitled = "Untitled"
)

// illegalNameChars are rejected on at least one mainstream filesystem.
const illegalNameChars = `<>:"/\|?*`

// SanitizeFolderName derives a project folder name from a project title.
func SanitizeFolderName(name string) string {
	return SanitizeName(name, maxNameRunes)
}

// SanitizeName makes name safe to use as a single path component: it
// applies NFC normalization, drops control and illegal characters,
// collapses runs of whitespace and separators into one, trims leading
// dots and trailing dots or spaces, and bounds the length to maxRunes.
// An empty result becomes "Untitled".
func SanitizeName(name string, maxRunes int) string {
	name = norm.NFC.String(name)

	var b strings.Builder

	lastSep := false

	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
			r = ' '
		case unicode.IsControl(r):
			continue
		case strings.ContainsRune(illegalNameChars, r):
			r = '_'
		}

		if r == ' ' || r == '_' || r == '-' {
			if lastSep {
				continue
			}

			lastSep = true
		} else {
			lastSep = false
		}

		b.WriteRune(r)
	}

	out := strings.TrimLeft(strings.TrimSpace(b.String()), ".")
	out = strings.TrimSpace(out)

	if maxRunes > 0 {
		if runes := []rune(out); len(runes) > maxRunes {
			out = string(runes[:maxRunes])
		}
	}

	out = strings.TrimRight(out, ". _-")
	if out == "" {
		return untitled
	}

	return out
}

// LocalFileName maps a remote knowledge file name to its local name.
// With autoAdd enabled an extensionless name gets NormalizedExtension.
func LocalFileName(remoteName string, autoAdd bool) string {
	if autoAdd && filepath.Ext(remoteName) == "" {
		return remoteName + NormalizedExtension
	}

	return remoteName
}

// CandidateRemoteNames returns the remote names a local file may have
// been stored under: the exact name first, then the name without the
// normalized extension.
func CandidateRemoteNames(localName string) []string {
	names := []string{localName}
	if stripped, ok := strings.CutSuffix(localName, NormalizedExtension); ok && stripped != "" {
		names = append(names, stripped)
	}

	return names
}

// IsReservedFolder reports whether a top-level workspace folder is not a
// project folder: hidden folders and the standalone conversations folder.
func IsReservedFolder(name string) bool {
	return strings.HasPrefix(name, ".") || name == StandaloneDir
}
