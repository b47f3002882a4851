package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/dome/catalog"
	"github.com/martinemde/dome/hitl"
	"github.com/martinemde/dome/store"
	"github.com/martinemde/dome/subagent"
	"github.com/martinemde/dome/tools"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	return &cli, ctx
}

func TestChatIsDefaultCommand(t *testing.T) {
	cli, ctx := parse(t, "--thread", "abc", "-v")
	assert.Equal(t, "chat", ctx.Command())
	assert.Equal(t, "abc", cli.Chat.Thread)
	assert.True(t, cli.Verbose)
}

func TestApprovalsNeedsThread(t *testing.T) {
	cli, ctx := parse(t, "approvals", "t1")
	assert.Equal(t, "approvals <thread>", ctx.Command())
	assert.Equal(t, "t1", cli.Approvals.Thread)

	var bare CLI
	parser, err := kong.New(&bare, kongVars())
	require.NoError(t, err)
	_, err = parser.Parse([]string{"approvals"})
	assert.Error(t, err)
}

func TestSlidesDefaults(t *testing.T) {
	cli, _ := parse(t, "slides", "deck-1")
	assert.Equal(t, "deck-1", cli.Slides.Artifact)
	assert.NotEmpty(t, cli.Slides.Out)
}

func TestWriteToolTable(t *testing.T) {
	decls, err := catalog.Declarations()
	require.NoError(t, err)
	decls = append(decls, tools.Declaration{Name: "mystery", Role: "astronomer"})

	composer := subagent.NewComposer(nil)
	comp := composer.Compose(tools.Convert(decls, nil))

	var buf bytes.Buffer
	require.NoError(t, writeToolTable(&buf, comp, hitl.NewPolicy(subagent.GatedToolNames(composer.Specs())...)))
	out := buf.String()

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.True(t, strings.HasPrefix(lines[0], "AGENT"))
	assert.Regexp(t, `supervisor\s+call_writer_agent\s+ask`, out)
	assert.Regexp(t, `supervisor\s+call_library_agent\s+allow`, out)
	assert.Regexp(t, `writer\s+flashcard_create\s+allow`, out)
	assert.Regexp(t, `-\s+mystery\s+dropped`, out)
}

func TestWriteApprovals(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeApprovals(&buf, nil))
	assert.Equal(t, "no approvals recorded\n", buf.String())

	buf.Reset()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, writeApprovals(&buf, []store.ApprovalRecord{
		{Kind: store.KindRequested, Tool: "call_writer_agent", ToolCallID: "call_1", At: at},
		{Kind: store.KindDecided, Tool: "call_writer_agent", ToolCallID: "call_1", Decision: hitl.Reject, Message: "not now", At: at},
	}))
	out := buf.String()
	assert.Contains(t, out, "requested")
	assert.Regexp(t, `decided\s+call_writer_agent\s+call_1\s+reject\s+not now`, out)
}
