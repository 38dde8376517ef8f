package postgres

// config holds internal configuration for the Postgres event store, set
// via the functional Option values below and applied over defaultConfig.
type config struct {
	dsn             string
	maxConns        int32
	autoMigrate     bool
	applicationName string
}

func defaultConfig() config {
	return config{
		dsn:             "postgres://localhost:5432/forgeerp?sslmode=disable",
		maxConns:        10,
		autoMigrate:     true,
		applicationName: "forgeerp-kernel",
	}
}

// Option configures a Store.
type Option func(*config)

// WithDSN sets the Postgres connection string.
func WithDSN(dsn string) Option {
	return func(c *config) { c.dsn = dsn }
}

// WithMaxConns sets the pgxpool maximum pool size.
func WithMaxConns(n int32) Option {
	return func(c *config) { c.maxConns = n }
}

// WithAutoMigrate enables or disables running embedded migrations on
// NewStore.
func WithAutoMigrate(enabled bool) Option {
	return func(c *config) { c.autoMigrate = enabled }
}

// WithApplicationName sets the application_name reported to Postgres, used
// to identify this process in pg_stat_activity.
func WithApplicationName(name string) Option {
	return func(c *config) { c.applicationName = name }
}
