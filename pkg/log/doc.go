/*
Package log provides structured logging for the guardian built on zerolog.

Init configures a process-wide logger (console or JSON output, leveled).
Components obtain child loggers via WithComponent, and episode-scoped code
attaches correlation fields with WithEpisodeID / WithTarget / WithPatternID
so every audit-relevant line can be tied back to its episode.

Usage:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("orchestrator")
	logger.Info().Str("episode_id", ep.ID).Msg("episode created")
*/
package log
