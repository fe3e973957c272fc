// Package mcpserver registers MCP tools that expose workspace sync
// operations. It adapts the syncer package to the MCP SDK's tool
// handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alexjbarnes/workspace-sync/internal/chatexport"
	"github.com/alexjbarnes/workspace-sync/internal/syncer"
	"github.com/alexjbarnes/workspace-sync/internal/workspace"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Workspace binds the engine to the one workspace and organization the
// server manages.
type Workspace struct {
	Engine  *syncer.Engine
	Store   syncer.LocalStore
	Configs syncer.ConfigStore
	OrgID   string
}

// RegisterTools adds all workspace tools to the given MCP server.
func RegisterTools(server *mcp.Server, w *Workspace) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "workspace_diff",
		Description: "Compare every remote project with its local folder. Reports remote-only, local-only, modified and renamed files per project plus projects and folders present on one side only. Read only.",
	}, diffHandler(w))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "workspace_compare_project",
		Description: "Compare one project with its local folder. Read only.",
	}, compareHandler(w))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "workspace_download",
		Description: "Mirror every remote project into the workspace. Remote content wins; nothing is uploaded. Set dry_run to report what would change without writing.",
	}, downloadHandler(w))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "workspace_sync_chats",
		Description: "Export new or updated conversations as markdown. Knowledge files are not touched.",
	}, chatsHandler(w))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "workspace_sync",
		Description: "Two-way sync of every project. Modified files are resolved by the conflict strategy (local, remote, newer or prompt); prompt leaves them as reported conflicts. Defaults to the workspace setting.",
	}, syncHandler(w))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "workspace_sync_file",
		Description: "Resolve one file in an explicit direction: push makes the remote copy match the local one, pull the reverse. Use after workspace_sync reports a conflict.",
	}, syncFileHandler(w))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "workspace_preview_file",
		Description: "Show a patch from the remote copy of a file to the local copy. Read only.",
	}, previewHandler(w))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "workspace_export_conversation",
		Description: "Render one conversation as a markdown document without writing it to the workspace.",
	}, exportHandler(w))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "workspace_settings",
		Description: "Show the workspace sync settings and the project to folder mapping.",
	}, settingsHandler(w))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// EmptyInput has no parameters.
type EmptyInput struct{}

// ProjectInput selects one project.
type ProjectInput struct {
	ProjectID string `json:"project_id" jsonschema:"required,remote project id"`
}

// RunInput holds parameters for download and chat sync.
type RunInput struct {
	DryRun bool `json:"dry_run,omitempty" jsonschema:"report changes without applying them"`
}

// SyncInput holds parameters for workspace_sync.
type SyncInput struct {
	Strategy string `json:"strategy,omitempty" jsonschema:"conflict strategy: local, remote, newer or prompt; defaults to the workspace setting"`
	DryRun   bool   `json:"dry_run,omitempty" jsonschema:"report changes without applying them"`
}

// SyncFileInput holds parameters for workspace_sync_file.
type SyncFileInput struct {
	ProjectID string `json:"project_id" jsonschema:"required,remote project id"`
	File      string `json:"file" jsonschema:"required,local file name, e.g. notes.md or _instructions.md"`
	Direction string `json:"direction" jsonschema:"required,push or pull"`
	DryRun    bool   `json:"dry_run,omitempty" jsonschema:"report changes without applying them"`
}

// FileInput holds parameters for workspace_preview_file.
type FileInput struct {
	ProjectID string `json:"project_id" jsonschema:"required,remote project id"`
	File      string `json:"file" jsonschema:"required,local file name"`
}

// ExportInput holds parameters for workspace_export_conversation.
type ExportInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"required,conversation id"`
	Frontmatter    *bool  `json:"frontmatter,omitempty" jsonschema:"prepend YAML frontmatter, defaults to the workspace setting"`
}

// SettingsResult is the output of workspace_settings.
type SettingsResult struct {
	Settings   workspace.Settings `json:"settings"`
	ProjectMap map[string]string  `json:"projectMap"`
}

// --- Handlers ---

func diffHandler(w *Workspace) mcp.ToolHandlerFor[EmptyInput, *syncer.WorkspaceDiff] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *syncer.WorkspaceDiff, error) {
		result, err := w.Engine.WorkspaceDiff(ctx, w.Store, w.OrgID)
		if err != nil {
			return nil, nil, err
		}
		return textResult(result), result, nil
	}
}

func compareHandler(w *Workspace) mcp.ToolHandlerFor[ProjectInput, *syncer.ProjectDiff] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ProjectInput) (*mcp.CallToolResult, *syncer.ProjectDiff, error) {
		result, err := w.Engine.CompareProject(ctx, w.Store, w.OrgID, input.ProjectID)
		if err != nil {
			return nil, nil, err
		}
		return textResult(result), result, nil
	}
}

func downloadHandler(w *Workspace) mcp.ToolHandlerFor[RunInput, *syncer.Result] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input RunInput) (*mcp.CallToolResult, *syncer.Result, error) {
		return runResult(w.Engine.DownloadSync(ctx, w.Store, w.OrgID, input.DryRun))
	}
}

func chatsHandler(w *Workspace) mcp.ToolHandlerFor[RunInput, *syncer.Result] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input RunInput) (*mcp.CallToolResult, *syncer.Result, error) {
		return runResult(w.Engine.ChatsOnlySync(ctx, w.Store, w.OrgID, input.DryRun))
	}
}

func syncHandler(w *Workspace) mcp.ToolHandlerFor[SyncInput, *syncer.Result] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SyncInput) (*mcp.CallToolResult, *syncer.Result, error) {
		strategy := workspace.ConflictStrategy(input.Strategy)
		return runResult(w.Engine.BidirectionalSync(ctx, w.Store, w.OrgID, strategy, input.DryRun))
	}
}

func syncFileHandler(w *Workspace) mcp.ToolHandlerFor[SyncFileInput, *syncer.Result] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SyncFileInput) (*mcp.CallToolResult, *syncer.Result, error) {
		return runResult(w.Engine.SyncFile(ctx, w.Store, w.OrgID, syncer.FileRequest{
			ProjectID: input.ProjectID,
			Name:      input.File,
			Direction: syncer.Direction(input.Direction),
			DryRun:    input.DryRun,
		}))
	}
}

func previewHandler(w *Workspace) mcp.ToolHandlerFor[FileInput, *syncer.Preview] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input FileInput) (*mcp.CallToolResult, *syncer.Preview, error) {
		result, err := w.Engine.PreviewFile(ctx, w.Store, w.OrgID, input.ProjectID, input.File)
		if err != nil {
			return nil, nil, err
		}
		return textResult(result), result, nil
	}
}

func exportHandler(w *Workspace) mcp.ToolHandlerFor[ExportInput, *syncer.Export] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ExportInput) (*mcp.CallToolResult, *syncer.Export, error) {
		var frontmatter bool

		if input.Frontmatter != nil {
			frontmatter = *input.Frontmatter
		} else {
			cfg, err := w.Configs.LoadWorkspace(w.Store.RootPath())
			if err != nil {
				return nil, nil, err
			}
			frontmatter = cfg.Settings.EnsureFrontmatter
		}

		result, err := w.Engine.ExportConversation(ctx, w.OrgID, input.ConversationID, chatexport.Options{Frontmatter: frontmatter})
		if err != nil {
			return nil, nil, err
		}
		return textResult(result), result, nil
	}
}

func settingsHandler(w *Workspace) mcp.ToolHandlerFor[EmptyInput, *SettingsResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *SettingsResult, error) {
		cfg, err := w.Configs.LoadWorkspace(w.Store.RootPath())
		if err != nil {
			return nil, nil, err
		}
		result := &SettingsResult{Settings: cfg.Settings, ProjectMap: cfg.ProjectMap}
		return textResult(result), result, nil
	}
}

// runResult turns an orchestrator outcome into a tool result. Fatal
// errors fail the call; per-project errors are part of the result.
func runResult(result *syncer.Result, err error) (*mcp.CallToolResult, *syncer.Result, error) {
	if err != nil {
		return nil, nil, err
	}
	return textResult(result), result, nil
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
