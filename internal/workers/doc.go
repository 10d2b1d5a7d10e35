// Package workers calculates worker pool sizes based on available CPU
// resources, with environment variable overrides.
package workers
