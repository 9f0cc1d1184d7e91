package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// Chain runs stages in registration order. A stage error aborts the run;
// context cancellation is checked between stages.
type Chain struct {
	stages []Stage
	logger *slog.Logger
}

// NewChain builds a chain over the given stages.
func NewChain(logger *slog.Logger, stages ...Stage) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{stages: stages, logger: logger}
}

// Run processes the state through every stage in order.
func (c *Chain) Run(ctx context.Context, st *State) error {
	for _, stage := range c.stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stage.Process(ctx, st); err != nil {
			c.logger.Debug("pipeline stage rejected request",
				"stage", stage.Name(),
				"request_id", requestID(st),
				"error", err)
			return fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
	}
	return nil
}

func requestID(st *State) string {
	if st.Request == nil {
		return ""
	}
	return st.Request.ID
}
