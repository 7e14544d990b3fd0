// Package config loads typed configuration structs from environment
// variables, with optional .env file support via godotenv and parsing
// via caarlos0/env. Each struct type is parsed once per process and
// cached, so the billing service, queue worker, and scheduler can all
// call Load for the same type without re-reading the environment.
package config
