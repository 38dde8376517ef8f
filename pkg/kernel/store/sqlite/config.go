package sqlite

// config holds internal configuration for the SQLite event store, set via
// the functional Option values below and applied over defaultConfig.
type config struct {
	dsn          string
	maxOpenConns int
	walMode      bool
	autoMigrate  bool
}

func defaultConfig() config {
	return config{
		dsn:          "forgeerp.db",
		maxOpenConns: 1,
		walMode:      true,
		autoMigrate:  true,
	}
}

// Option configures a Store at construction time.
type Option func(*config)

// WithDSN sets the database file path, or ":memory:" for an in-process
// database that disappears when the Store is closed.
func WithDSN(dsn string) Option {
	return func(c *config) { c.dsn = dsn }
}

// WithMaxOpenConns bounds the connection pool. SQLite's single-writer
// model means values above a handful rarely help; default is 1, which
// also sidesteps ":memory:"'s per-connection isolated database problem.
func WithMaxOpenConns(n int) Option {
	return func(c *config) { c.maxOpenConns = n }
}

// WithWALMode toggles write-ahead logging. Not available for ":memory:"
// databases; the Store skips it automatically in that case regardless of
// this setting.
func WithWALMode(enabled bool) Option {
	return func(c *config) { c.walMode = enabled }
}

// WithAutoMigrate toggles running embedded migrations at Open time.
func WithAutoMigrate(enabled bool) Option {
	return func(c *config) { c.autoMigrate = enabled }
}
