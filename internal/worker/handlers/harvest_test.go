package handlers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nadmax/harvq/internal/export"
	"github.com/nadmax/harvq/internal/harvest"
	"github.com/nadmax/harvq/internal/keyword"
	"github.com/nadmax/harvq/internal/record"
	"github.com/nadmax/harvq/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubParser struct {
	result *harvest.Result
	err    error
	req    harvest.Request
}

func (s *stubParser) Parse(ctx context.Context, req harvest.Request, obs harvest.Observer) (*harvest.Result, error) {
	s.req = req
	if obs != nil {
		obs.OnProgress(100, 1, 1)
	}
	return s.result, s.err
}

func TestHarvestHandler_ExportsUniqueResults(t *testing.T) {
	dir := t.TempDir()
	ann := record.Comment{IdentityID: 1, DisplayName: "Ann", Handle: "ann", Text: "first", PostID: 1, CommentID: 10, PostURL: "https://t.me/news/1"}
	annAgain := ann
	annAgain.Text, annAgain.CommentID = "second", 11

	parser := &stubParser{result: &harvest.Result{
		Channel:       "news",
		Results:       []record.Comment{ann, annAgain},
		UniqueResults: []record.Comment{ann},
		Stats:         harvest.Stats{UniqueUsers: 1},
	}}
	h := NewHarvestHandler(parser, export.NewExporter(dir), nil)

	tk := task.NewTask("alice", "https://t.me/news", 5, keyword.NewSpec([]string{"first"}, keyword.ModeAny))
	result, err := h.Handle(context.Background(), tk, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://t.me/news", parser.req.ChannelRef)
	assert.Equal(t, 5, parser.req.PostsLimit)
	assert.Equal(t, []string{"first"}, parser.req.Keywords.Terms)

	assert.Equal(t, dir, filepath.Dir(result.CSVFile))
	assert.Contains(t, filepath.Base(result.CSVFile), "news_commenters_")
	assert.Equal(t, ".json", filepath.Ext(result.JSONFile))

	f, err := os.Open(result.CSVFile)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := export.ReadCSV(f)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "first", rows[0].Text)
}

func TestHarvestHandler_ParseFailure(t *testing.T) {
	failure := &harvest.Failure{Category: harvest.FailurePrivate, Message: "Channel is private or you are not subscribed"}
	h := NewHarvestHandler(&stubParser{err: failure}, export.NewExporter(t.TempDir()), nil)

	_, err := h.Handle(context.Background(), task.NewTask("alice", "@secret", 5, keyword.Spec{}), nil)
	assert.Equal(t, failure, err)
}

func TestHarvestHandler_ExportFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	parser := &stubParser{result: &harvest.Result{Channel: "news"}}
	h := NewHarvestHandler(parser, export.NewExporter(filepath.Join(blocker, "out")), nil)

	_, err := h.Handle(context.Background(), task.NewTask("alice", "@news", 5, keyword.Spec{}), nil)

	var failure *harvest.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, harvest.FailureUnexpected, failure.Category)
	assert.Contains(t, failure.Message, "Export failed")
}
