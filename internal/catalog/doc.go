// Package catalog loads tests.json and test-config.json from the test
// runner, resolves pre-test QR test ids to runner paths and test codes,
// and answers observation parameter lookups with the path, code, "all"
// fallback order.
package catalog
