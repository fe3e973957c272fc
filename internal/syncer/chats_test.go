package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alexjbarnes/workspace-sync/internal/chatexport"
	"github.com/alexjbarnes/workspace-sync/internal/remote"
	"github.com/alexjbarnes/workspace-sync/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func seedChats() *fakeRemote {
	rs := newFakeRemote()
	rs.addProject("p1", "Alpha")
	rs.addFile("p1", "a.md", "A")
	rs.addConversation("c1", "p1", "Plan", baseTime, remote.Message{Sender: "human", Text: "first"})
	rs.addConversation("c3", "p1", "Plan", baseTime, remote.Message{Sender: "assistant", Text: "second"})
	rs.addConversation("c2", "", "Loose", baseTime, remote.Message{Sender: "human", Text: "alone"})

	return rs
}

func TestChatsOnlySync_ExportsConversations(t *testing.T) {
	rs := seedChats()
	ws, fs := newTestWorkspace(t)
	e, _ := newTestEngine(rs)

	res, err := e.ChatsOnlySync(context.Background(), ws, testOrg, false)
	require.NoError(t, err)
	assert.True(t, res.Success, res.Errors)
	assert.Equal(t, 3, res.Stats.ChatsSynced)

	first, ok := readLocal(t, fs, "Alpha/conversations/Plan.md")
	require.True(t, ok)
	assert.Contains(t, first, "first")

	second, ok := readLocal(t, fs, "Alpha/conversations/Plan (c3).md")
	require.True(t, ok)
	assert.Contains(t, second, "second")

	loose, ok := readLocal(t, fs, workspace.StandaloneDir+"/Loose.md")
	require.True(t, ok)
	assert.Contains(t, loose, "alone")

	// Knowledge files are left alone.
	_, ok = readLocal(t, fs, "Alpha/knowledge/a.md")
	assert.False(t, ok)
}

func TestChatsOnlySync_SkipsCurrentExports(t *testing.T) {
	rs := seedChats()
	ws, _ := newTestWorkspace(t)
	e, _ := newTestEngine(rs)
	ctx := context.Background()

	_, err := e.ChatsOnlySync(ctx, ws, testOrg, false)
	require.NoError(t, err)
	require.Equal(t, 3, rs.convFetches)

	again, err := e.ChatsOnlySync(ctx, ws, testOrg, false)
	require.NoError(t, err)
	assert.Zero(t, again.Stats.ChatsSynced)
	assert.Equal(t, 3, rs.convFetches)
}

func TestChatsOnlySync_RefetchesUpdatedConversation(t *testing.T) {
	rs := seedChats()
	ws, fs := newTestWorkspace(t)
	e, _ := newTestEngine(rs)
	ctx := context.Background()

	_, err := e.ChatsOnlySync(ctx, ws, testOrg, false)
	require.NoError(t, err)

	rs.convs[0].UpdatedAt = baseTime.Add(time.Hour)
	rs.messages["c1"] = append(rs.messages["c1"], remote.Message{Sender: "assistant", Text: "follow-up"})

	again, err := e.ChatsOnlySync(ctx, ws, testOrg, false)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Stats.ChatsSynced)
	assert.Equal(t, 4, rs.convFetches)

	got, _ := readLocal(t, fs, "Alpha/conversations/Plan.md")
	assert.Contains(t, got, "follow-up")
}

func TestChatsOnlySync_RenamedConversationReplacesOldExport(t *testing.T) {
	rs := newFakeRemote()
	rs.addProject("p1", "Alpha")
	rs.addConversation("c1", "p1", "Plan", baseTime, remote.Message{Sender: "human", Text: "first"})

	ws, fs := newTestWorkspace(t)
	writeLocal(t, fs, "Alpha/conversations/Notes.md", "# My notes\n", baseTime)
	e, _ := newTestEngine(rs)
	ctx := context.Background()

	_, err := e.ChatsOnlySync(ctx, ws, testOrg, false)
	require.NoError(t, err)

	rs.convs[0].Name = "Roadmap"
	rs.convs[0].UpdatedAt = baseTime.Add(time.Hour)

	res, err := e.ChatsOnlySync(ctx, ws, testOrg, false)
	require.NoError(t, err)
	assert.True(t, res.Success, res.Errors)
	assert.Equal(t, 1, res.Stats.ChatsSynced)

	got, ok := readLocal(t, fs, "Alpha/conversations/Roadmap.md")
	require.True(t, ok)
	assert.Contains(t, got, "first")

	_, ok = readLocal(t, fs, "Alpha/conversations/Plan.md")
	assert.False(t, ok)

	_, ok = readLocal(t, fs, "Alpha/conversations/Notes.md")
	assert.True(t, ok, "files that are not exports stay")
}

func TestChatsOnlySync_NameHandedOverAfterRename(t *testing.T) {
	rs := seedChats()
	ws, fs := newTestWorkspace(t)
	e, _ := newTestEngine(rs)
	ctx := context.Background()

	_, err := e.ChatsOnlySync(ctx, ws, testOrg, false)
	require.NoError(t, err)

	// c1 gives up "Plan" so c3 now owns the plain name.
	rs.convs[0].Name = "Roadmap"
	rs.convs[0].UpdatedAt = baseTime.Add(time.Hour)

	res, err := e.ChatsOnlySync(ctx, ws, testOrg, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.ChatsSynced)

	roadmap, _ := readLocal(t, fs, "Alpha/conversations/Roadmap.md")
	assert.Contains(t, roadmap, "first")

	plan, _ := readLocal(t, fs, "Alpha/conversations/Plan.md")
	assert.Contains(t, plan, "second")
	assert.Equal(t, "c3", chatexport.ConversationID(plan))

	_, ok := readLocal(t, fs, "Alpha/conversations/Plan (c3).md")
	assert.False(t, ok)

	again, err := e.ChatsOnlySync(ctx, ws, testOrg, false)
	require.NoError(t, err)
	assert.Zero(t, again.Stats.ChatsSynced)
}

func TestChatsOnlySync_Frontmatter(t *testing.T) {
	rs := seedChats()
	ws, fs := newTestWorkspace(t)
	e, configs := newTestEngine(rs)
	configs.withSettings(func(s *workspace.Settings) { s.EnsureFrontmatter = true })

	_, err := e.ChatsOnlySync(context.Background(), ws, testOrg, false)
	require.NoError(t, err)

	got, _ := readLocal(t, fs, "Alpha/conversations/Plan.md")
	assert.True(t, strings.HasPrefix(got, "---\n"))

	fm := chatexport.ParseFrontmatter(got)
	require.NotNil(t, fm)
	assert.Equal(t, "c1", fm.ConversationID)
	assert.Equal(t, "p1", fm.ProjectID)
}

func TestChatsOnlySync_DryRun(t *testing.T) {
	rs := seedChats()
	ws, fs := newTestWorkspace(t)
	e, configs := newTestEngine(rs)

	before := snapshotFS(t, fs)

	res, err := e.ChatsOnlySync(context.Background(), ws, testOrg, true)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.ChatsSynced)
	assert.True(t, res.DryRun)
	assert.Zero(t, rs.convFetches)
	assert.Zero(t, configs.saves)
	assert.Equal(t, before, snapshotFS(t, fs))
}

func TestChatsOnlySync_NoProjects(t *testing.T) {
	rs := newFakeRemote()
	rs.addConversation("c2", "", "Loose", baseTime)

	ws, fs := newTestWorkspace(t)
	e, _ := newTestEngine(rs)

	res, err := e.ChatsOnlySync(context.Background(), ws, testOrg, false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Stats.ChatsSynced)

	_, ok := readLocal(t, fs, workspace.StandaloneDir+"/Loose.md")
	assert.True(t, ok)
}

func TestChatsOnlySync_ListingFailureIsRecorded(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := NewMockRemoteStore(ctrl)

	m.EXPECT().ListProjects(gomock.Any(), testOrg).Return([]remote.Project{{ID: "p1", Name: "Alpha"}}, nil)
	m.EXPECT().ListConversations(gomock.Any(), testOrg).Return(nil, errors.New("upstream down"))

	ws, _ := newTestWorkspace(t)
	e, _ := newTestEngine(m)

	res, err := e.ChatsOnlySync(context.Background(), ws, testOrg, false)
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "upstream down")
}

func TestChatsOnlySync_FetchFailureContinues(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := NewMockRemoteStore(ctrl)

	summaries := []remote.ConversationSummary{
		{ID: "c1", Name: "Broken", CreatedAt: baseTime, UpdatedAt: baseTime},
		{ID: "c2", Name: "Fine", CreatedAt: baseTime.Add(time.Minute), UpdatedAt: baseTime},
	}

	m.EXPECT().ListProjects(gomock.Any(), testOrg).Return(nil, nil)
	m.EXPECT().ListConversations(gomock.Any(), testOrg).Return(summaries, nil)
	m.EXPECT().GetConversation(gomock.Any(), testOrg, "c1").Return(nil, errors.New("boom"))
	m.EXPECT().GetConversation(gomock.Any(), testOrg, "c2").Return(&remote.Conversation{ConversationSummary: summaries[1]}, nil)

	ws, fs := newTestWorkspace(t)
	e, _ := newTestEngine(m)

	res, err := e.ChatsOnlySync(context.Background(), ws, testOrg, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.ChatsSynced)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Broken")

	_, ok := readLocal(t, fs, workspace.StandaloneDir+"/Fine.md")
	assert.True(t, ok)
}

func TestIsStale(t *testing.T) {
	tests := []struct {
		name    string
		local   time.Time
		updated time.Time
		want    bool
	}{
		{"older export", baseTime, baseTime.Add(time.Minute), true},
		{"same second", baseTime.Add(900 * time.Millisecond), baseTime.Add(100 * time.Millisecond), false},
		{"newer export", baseTime.Add(time.Minute), baseTime, false},
		{"no update time", baseTime, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isStale(tt.local, tt.updated))
		})
	}
}
