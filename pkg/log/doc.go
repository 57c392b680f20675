/*
Package log provides structured logging for the fleet manager using zerolog.

All logs include timestamps and support filtering by severity. A single
global Logger is configured once via Init and every component obtains a
child logger carrying its own "component" field via WithComponent, plus
domain-specific helpers (WithHost, WithFilesystem, WithSession) for the
identifiers that show up across nearly every log line in this codebase.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	ingestLog := log.WithComponent("ingest")
	ingestLog.Info().Str("host_fqdn", fqdn).Msg("inventory ingested")

	dispatchLog := log.WithComponent("dispatch").With().
		Str("host_fqdn", fqdn).Logger()
	dispatchLog.Warn().Msg("session replaced, replaying in-flight actions")

# Log levels

Debug is for development and noisy traces; Info is the default production
level; Warn marks recoverable anomalies (stale session, unknown OST,
malformed frame); Error marks operations that failed and need
investigation; Fatal logs and calls os.Exit(1), reserved for startup
failures (unreachable database, missing required configuration).

# Design notes

The global Logger is initialized once in main() and never mutated
afterward; every other package only ever reads it through WithComponent
or one of the domain helpers, never through a second Init call.
*/
package log
