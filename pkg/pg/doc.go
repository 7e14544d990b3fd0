// Package pg bootstraps the PostgreSQL layer: a pgx/v5 connection pool
// with startup retries, goose schema migrations, a health check probe,
// and error classification helpers shared by the billing stores.
package pg
