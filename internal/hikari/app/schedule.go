package app

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// newSchedule returns a stopped cron scheduler that calls fn on expr. expr
// uses the standard five-field syntax or a descriptor such as "@every 6h".
// A run still in progress when the next one is due is skipped.
func newSchedule(expr string, fn func()) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	if _, err := c.AddFunc(expr, fn); err != nil {
		return nil, fmt.Errorf("app: long-term sweep schedule %q: %w", expr, err)
	}
	return c, nil
}
