// Package handlers provides the task handlers the worker executes.
package handlers

import (
	"context"
	"fmt"

	"github.com/nadmax/harvq/internal/export"
	"github.com/nadmax/harvq/internal/harvest"
	"github.com/nadmax/harvq/internal/task"
	"go.uber.org/zap"
)

// Parser is satisfied by *harvest.Harvester.
type Parser interface {
	Parse(ctx context.Context, req harvest.Request, obs harvest.Observer) (*harvest.Result, error)
}

type HarvestHandler struct {
	parser   Parser
	exporter *export.Exporter
	logger   *zap.SugaredLogger
}

func NewHarvestHandler(parser Parser, exporter *export.Exporter, logger *zap.SugaredLogger) *HarvestHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HarvestHandler{parser: parser, exporter: exporter, logger: logger}
}

// Handle parses the task's channel and exports the unique commenters.
func (h *HarvestHandler) Handle(ctx context.Context, t *task.Task, obs harvest.Observer) (*harvest.Result, error) {
	result, err := h.parser.Parse(ctx, harvest.Request{
		ChannelRef: t.ChannelRef,
		PostsLimit: t.PostsLimit,
		Keywords:   t.Keywords,
	}, obs)
	if err != nil {
		return nil, err
	}

	files, err := h.exporter.Export(result.Channel, result.UniqueResults)
	if err != nil {
		return nil, &harvest.Failure{
			Category: harvest.FailureUnexpected,
			Message:  fmt.Sprintf("Export failed: %v", err),
			Err:      err,
		}
	}
	result.CSVFile = files.CSV
	result.JSONFile = files.JSON

	h.logger.Infow("harvest exported",
		"task_id", t.ID,
		"csv_file", files.CSV,
		"json_file", files.JSON,
		"unique_users", result.Stats.UniqueUsers,
	)

	return result, nil
}
