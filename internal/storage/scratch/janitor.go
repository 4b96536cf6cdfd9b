package scratch

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// StartJanitor sweeps the store on schedule (standard cron or "@every"
// descriptors). The returned stop function waits for a running sweep.
func (s *Store) StartJanitor(schedule string, maxAge time.Duration) (stop func(), err error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("scratch max age must be positive, got %s", maxAge)
	}

	c := cron.New(cron.WithChain(cron.Recover(cronLogger{s})))
	if _, err := c.AddFunc(schedule, func() { s.Sweep(maxAge) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()

	s.log.Info().Str("schedule", schedule).Dur("max_age", maxAge).Msg("scratch janitor started")
	return func() {
		<-c.Stop().Done()
	}, nil
}

// cronLogger adapts the store logger to cron.Logger.
type cronLogger struct {
	s *Store
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
