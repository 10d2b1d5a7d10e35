// Package logging provides leveled logging with environment-based
// configuration and optional per-session log file duplication.
package logging
