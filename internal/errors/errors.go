package errors

import "errors"

// Workspace errors.
var (
	ErrPermission     = errors.New("workspace permission denied")
	ErrSyncInProgress = errors.New("a sync is already in progress for this workspace")
	ErrNoOrganization = errors.New("no organization configured")
	ErrNoProjects     = errors.New("no projects found")
)

// Server/transport errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
)
