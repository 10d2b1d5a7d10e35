package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, status := range []string{"ok", "corrupted"} {
		FramesReadTotal.WithLabelValues(status)
	}

	for _, outcome := range []string{"detected", "empty", "error"} {
		QrScansTotal.WithLabelValues(outcome)
	}

	for _, kind := range []string{"mezzanine", "status", "pre_test", "unrecognized"} {
		QrCodesDecodedTotal.WithLabelValues(kind)
	}

	for _, mode := range []string{"general", "intensive"} {
		QrScanDuration.WithLabelValues(mode)
	}

	for _, state := range []string{"completed", "aborted", "error"} {
		SessionsTotal.WithLabelValues(state)
	}

	for _, verdict := range []string{"pass", "fail", "not_run", "error"} {
		TestsObservedTotal.WithLabelValues(verdict)
	}

	for _, status := range []string{"aligned", "unaligned"} {
		AudioSegmentsAlignedTotal.WithLabelValues(status)
	}

	for _, op := range []string{"initialize_schema", "insert_session", "finish_session",
		"insert_result", "prune_sessions"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, status := range []string{"success", "error"} {
		ResultPostTotal.WithLabelValues(status)
	}
}
