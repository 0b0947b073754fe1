/*
Package log provides structured logging for the hive node runtime using
zerolog.

A single global Logger is configured once at startup via Init, then every
subsystem derives a child logger carrying the fields relevant to it:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	jobLog := log.WithJobID(job.ID())
	jobLog.Info().Msg("job started")

	connLog := log.WithConnection(peerID)
	connLog.Warn().Err(err).Msg("write failed")

# Contextual loggers

	WithComponent(name)   - component field, e.g. "jobsystem", "messaging"
	WithNodeID(id)        - node_id field
	WithServiceID(id)     - service_id field
	WithTaskID(id)        - task_id field
	WithJobID(id)         - job_id field, for jobsystem.Runnable executions
	WithConnection(id)    - peer_id field, for messaging.Connection activity
	WithService(name)     - service field, for services.Executor calls

Each returns a zerolog.Logger with the field attached; further chaining
adds request-scoped fields without mutating the global Logger.

# Output

Init switches between a JSON writer (for production, log aggregation) and
a zerolog.ConsoleWriter (for interactive use) based on Config.JSONOutput.
Output defaults to os.Stdout but accepts any io.Writer, so an embedder can
redirect to a file or a multi-writer.

This package does not rotate logs; pair it with an external tool such as
logrotate or let the container runtime capture stdout.
*/
package log
