package logger

import "go.uber.org/zap"

// New builds the process-wide zap logger. Components receive named
// sugared children (logger.Named("feed") etc.) so log lines carry the
// component tag the way the rest of the codebase expects.
func New(isProd bool) (*zap.Logger, func() error, error) {
	var (
		log *zap.Logger
		err error
	)

	if isProd {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() error { return log.Sync() }
	return log, cleanup, nil
}
