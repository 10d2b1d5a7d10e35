// Package report submits observation results to the test runner's results
// API, merging repeated runs of the same test and keeping debug artifacts
// like the per-test time difference CSV.
package report
