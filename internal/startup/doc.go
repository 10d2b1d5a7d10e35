// Package startup handles application configuration loading from
// environment variables, validation, and build information.
package startup
