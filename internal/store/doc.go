// Package store persists session metadata and observation results to a
// local SQLite database with a retention window.
package store
