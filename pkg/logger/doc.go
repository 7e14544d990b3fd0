// Package logger configures structured slog loggers for the billing
// services. The New factory applies functional options for format,
// level, static attributes, and context extractors that inject
// request-scoped values at log time. Attribute constructors in attr.go
// keep key naming consistent across renewal, dunning, and queue code.
package logger
