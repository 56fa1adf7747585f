/*
Package log provides structured logging for shev using zerolog.

The log package wraps zerolog to provide a single global logger with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. Output is either JSON (production)
or a human-readable console format (development).

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("dispatcher started")
	log.Error("queue send failed")

Component loggers:

	timerLog := log.WithComponent("timer")
	timerLog.Info().Str("event_type", "backup").Msg("timer fired")

Structured logging:

	log.Logger.Error().
		Err(err).
		Str("job_id", job.ID.String()).
		Msg("job execution failed")

Every long-lived loop (timer, schedule, consumer, api) holds a component
logger so log lines can be filtered by origin.
*/
package log
