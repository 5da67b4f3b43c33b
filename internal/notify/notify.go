// Package notify tells task owners that a harvest finished.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nadmax/harvq/internal/harvest"
	"github.com/nadmax/harvq/internal/task"
)

type Event struct {
	TaskID     string
	Owner      string
	ChannelRef string
	Status     task.TaskStatus
	Error      string
	Stats      *harvest.Stats
	CSVFile    string
	JSONFile   string
}

func NewEvent(t *task.Task, stats *harvest.Stats) Event {
	return Event{
		TaskID:     t.ID,
		Owner:      t.Owner,
		ChannelRef: t.ChannelRef,
		Status:     t.Status,
		Error:      t.Error,
		Stats:      stats,
		CSVFile:    t.CSVFile,
		JSONFile:   t.JSONFile,
	}
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func Subject(ev Event) string {
	if ev.Status == task.CompletedStatus {
		return fmt.Sprintf("Harvest completed: %s", ev.ChannelRef)
	}
	return fmt.Sprintf("Harvest failed: %s", ev.ChannelRef)
}

func Body(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s for %s is %s.\n", ev.TaskID, ev.ChannelRef, ev.Status)

	if ev.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", ev.Error)
	}
	if ev.Stats != nil {
		s := ev.Stats
		fmt.Fprintf(&b, "Posts checked: %d\n", s.PostsChecked)
		fmt.Fprintf(&b, "Posts with comments: %d\n", s.PostsWithComments)
		fmt.Fprintf(&b, "Comments: %d (after filter: %d)\n", s.TotalComments, s.FilteredComments)
		fmt.Fprintf(&b, "Unique users: %d\n", s.UniqueUsers)
		fmt.Fprintf(&b, "Elapsed: %.1fs\n", s.ElapsedTime)
	}
	if ev.CSVFile != "" {
		fmt.Fprintf(&b, "CSV: %s\n", ev.CSVFile)
	}
	if ev.JSONFile != "" {
		fmt.Fprintf(&b, "JSON: %s\n", ev.JSONFile)
	}

	return b.String()
}
