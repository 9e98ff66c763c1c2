package dashboard

import (
	"context"

	"github.com/aquaponics/pondwatch/pkg/checkpointer"
)

// CheckpointRecorder receives the outcome of checkpoint writes.
type CheckpointRecorder interface {
	RecordCheckpointWrite(err error)
}

type instrumentedCheckpointer struct {
	checkpointer.Checkpointer
	rec CheckpointRecorder
}

// InstrumentCheckpointer reports every Write of cp to rec.
func InstrumentCheckpointer(cp checkpointer.Checkpointer, rec CheckpointRecorder) checkpointer.Checkpointer {
	if rec == nil {
		return cp
	}
	return &instrumentedCheckpointer{Checkpointer: cp, rec: rec}
}

func (c *instrumentedCheckpointer) Write(ctx context.Context, sessionID string, cursors map[string]int) error {
	err := c.Checkpointer.Write(ctx, sessionID, cursors)
	c.rec.RecordCheckpointWrite(err)
	return err
}
