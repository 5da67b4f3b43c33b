package harvest

import (
	"time"

	"github.com/nadmax/harvq/internal/record"
)

type Stats struct {
	PostsChecked      int     `json:"posts_checked"`
	PostsWithComments int     `json:"posts_with_comments"`
	TotalComments     int     `json:"total_comments"`
	FilteredComments  int     `json:"filtered_comments"`
	UniqueUsers       int     `json:"unique_users"`
	SkippedBots       int     `json:"skipped_bots"`
	SkippedErrors     int     `json:"skipped_errors"`
	SkippedPosts      int     `json:"skipped_posts"`
	RateLimitWaits    int     `json:"rate_limit_waits"`
	ElapsedTime       float64 `json:"elapsed_time"`
}

func (s Stats) Elapsed() time.Duration {
	return time.Duration(s.ElapsedTime * float64(time.Second))
}

type Result struct {
	Channel       string           `json:"channel"`
	Results       []record.Comment `json:"results"`
	UniqueResults []record.Comment `json:"unique_results"`
	Stats         Stats            `json:"stats"`
	CSVFile       string           `json:"csv_file,omitempty"`
	JSONFile      string           `json:"json_file,omitempty"`
}
