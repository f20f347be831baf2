/*
Package log provides structured logging for fleetwatch using zerolog.

The package wraps zerolog with a global logger initialized once via Init,
plus helpers that attach common context fields (component, instance_id,
bot_id, runner_id) to child loggers.

Usage:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

	monitorLog := log.WithComponent("bot-monitor")
	monitorLog.Info().
		Str("bot_id", botID).
		Str("status", string(status)).
		Msg("bot status changed")

Reconcilers log state transitions rather than steady states; a bot stuck in
the same error keeps its error_message in the database but produces a single
log line at the moment of transition.
*/
package log
