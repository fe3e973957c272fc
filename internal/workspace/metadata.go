package workspace

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProjectMetadata is the identity record written into each project
// folder's hidden metadata directory at the end of a project sync.
type ProjectMetadata struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	OrganizationID string    `json:"organizationId"`
	LastSynced     time.Time `json:"lastSynced"`

	// Files maps each knowledge file name (and the instructions sentinel)
	// to its content hash as of LastSynced.
	Files map[string]string `json:"files,omitempty"`
}

// Encode renders the metadata as indented JSON.
func (m *ProjectMetadata) Encode() (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding project metadata: %w", err)
	}

	return string(data) + "\n", nil
}

// DecodeMetadata parses a metadata document.
func DecodeMetadata(content string) (*ProjectMetadata, error) {
	var m ProjectMetadata
	if err := json.Unmarshal([]byte(content), &m); err != nil {
		return nil, fmt.Errorf("decoding project metadata: %w", err)
	}

	return &m, nil
}

// Known reports whether name was present at the last sync.
func (m *ProjectMetadata) Known(name string) bool {
	if m == nil {
		return false
	}

	_, ok := m.Files[name]

	return ok
}
