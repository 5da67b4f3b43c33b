package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewComment(t *testing.T) {
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	post := Post{ID: 42, ReplyCount: 3}
	reply := Reply{ID: 7, PostID: 42, SenderID: 1001, Text: "hello", Date: &date}
	sender := Identity{ID: 1001, FirstName: "Anna", Username: "anna"}

	c := NewComment("okkosport", post, reply, sender)

	assert.Equal(t, int64(1001), c.IdentityID)
	assert.Equal(t, "Anna", c.DisplayName)
	assert.Equal(t, "anna", c.Handle)
	assert.Equal(t, "hello", c.Text)
	assert.Equal(t, int64(42), c.PostID)
	assert.Equal(t, int64(7), c.CommentID)
	assert.Equal(t, &date, c.Timestamp)
	assert.Equal(t, "https://t.me/okkosport/42", c.PostURL)
}

func TestNewComment_Defaults(t *testing.T) {
	c := NewComment("chan", Post{ID: 1}, Reply{ID: 2}, Identity{ID: 3})

	assert.Equal(t, UnknownFirstName, c.DisplayName)
	assert.Equal(t, NoUsername, c.Handle)
	assert.Nil(t, c.Timestamp)
}
