// Package observe evaluates conformance observations over assembled test
// timelines. Each test family is a Descriptor naming the observations it
// requires; the observations themselves are pure functions from evidence
// and parameters to PASS/FAIL/NOT_RUN results.
package observe
