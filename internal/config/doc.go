// Package config loads the optional cbox.yaml kept next to a store, and the
// process-wide file libcbox reads from CBOX_CONFIG.
//
// A store directory only takes its store section from cbox.yaml:
//
//	store:
//	  journal_mode: "WAL"
//	  busy_timeout: "${CBOX_BUSY_TIMEOUT}"
//
// Logging is configured once per process, in the file named by CBOX_CONFIG:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Go callers pass a logger with cryptobox.WithLogger instead. Values may
// reference environment variables with ${VAR_NAME}. A missing file is not an
// error; Default() is used instead.
package config
