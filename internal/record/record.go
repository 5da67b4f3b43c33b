// Package record defines the values exchanged between the session client,
// the harvester and the export writers.
package record

import (
	"fmt"
	"time"
)

const (
	UnknownFirstName = "Unknown"
	NoUsername       = "-"
)

type Channel struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Title    string `json:"title"`
}

type Post struct {
	ID         int64 `json:"id"`
	ReplyCount int   `json:"reply_count"`
}

type Reply struct {
	ID       int64      `json:"id"`
	PostID   int64      `json:"post_id"`
	SenderID int64      `json:"sender_id"`
	Text     string     `json:"text"`
	Date     *time.Time `json:"date,omitempty"`
}

type Identity struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
	Bot       bool   `json:"bot"`
}

// Comment is one resolved human reply. It is never modified after the
// harvester creates it.
type Comment struct {
	IdentityID  int64      `json:"user_id"`
	DisplayName string     `json:"first_name"`
	Handle      string     `json:"username"`
	Text        string     `json:"comment_text"`
	PostID      int64      `json:"post_id"`
	CommentID   int64      `json:"comment_id"`
	Timestamp   *time.Time `json:"date"`
	PostURL     string     `json:"post_url"`
}

func NewComment(channelHandle string, post Post, reply Reply, sender Identity) Comment {
	name := sender.FirstName
	if name == "" {
		name = UnknownFirstName
	}
	handle := sender.Username
	if handle == "" {
		handle = NoUsername
	}

	return Comment{
		IdentityID:  sender.ID,
		DisplayName: name,
		Handle:      handle,
		Text:        reply.Text,
		PostID:      post.ID,
		CommentID:   reply.ID,
		Timestamp:   reply.Date,
		PostURL:     PostURL(channelHandle, post.ID),
	}
}

func PostURL(channelHandle string, postID int64) string {
	return fmt.Sprintf("https://t.me/%s/%d", channelHandle, postID)
}
