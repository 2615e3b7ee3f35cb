package config

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
// The genconfig tool uses [FieldDoc] values to annotate the generated config.default.toml.
type FieldDoc struct {
	// Comment is shown as a header comment above the field in the example config.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps TOML field paths (dot-separated, e.g. "bus.call_timeout_ms")
// to their [FieldDoc] entries.
var ConfigDocs = map[string]FieldDoc{
	// ── Root ──────────────────────────────────────────────────────
	"version": {
		Comment: "Config schema version. Do not edit.",
	},

	// ── Bus ──────────────────────────────────────────────────────
	"bus": {
		Comment: "Connection to the Jami daemon",
	},
	"bus.address": {
		Comment: "Which bus to use: \"session\", \"system\", or an explicit D-Bus address.",
		Alternatives: []string{
			`address = "system"`,
			`address = "unix:path=/run/user/1000/bus"`,
		},
	},
	"bus.destination": {
		Comment: "Well-known name the daemon owns on the bus.",
	},
	"bus.path": {
		Comment: "Object path of the configuration manager.",
	},
	"bus.call_timeout_ms": {
		Comment: "Upper bound for every remote call, in milliseconds.",
	},

	// ── Events ───────────────────────────────────────────────────
	"events": {
		Comment: "Event channel between the bus listener and the consumer",
	},
	"events.capacity": {
		Comment: "Events buffered before delivery is deferred to a background queue.",
	},
	"events.poll_interval_ms": {
		Comment: "How often the listener checks whether it was asked to stop.",
	},

	// ── Transfers ────────────────────────────────────────────────
	"transfers": {
		Comment: "Incoming file transfers",
	},
	"transfers.download_dir": {
		Comment: "Where accepted files are written. Empty uses <data dir>/downloads.\nRelative paths resolve against the data directory.",
		Alternatives: []string{
			`# download_dir = "/home/me/Downloads/jami"`,
		},
	},
	"transfers.auto_accept": {
		Comment: "Glob patterns matched against the offered file name.\nMatching offers are accepted without asking.",
		Alternatives: []string{
			`# auto_accept = ["*.png", "*.jpg", "**/*.pdf"]`,
		},
	},
	"transfers.auto_accept_mime": {
		Comment: "Glob patterns matched against the offered MIME type.",
		Alternatives: []string{
			`# auto_accept_mime = ["image/*"]`,
		},
	},
	"transfers.max_auto_accept_mb": {
		Comment: "Largest file accepted automatically, in megabytes. 0 removes the cap.",
	},

	// ── Metrics ──────────────────────────────────────────────────
	"metrics": {
		Comment: "Prometheus endpoint serving /metrics and /healthz",
	},
	"metrics.enabled": {},
	"metrics.listen": {
		Comment: "Address the endpoint binds to.",
		Alternatives: []string{
			`listen = "0.0.0.0:9464"`,
		},
	},

	// ── Console ──────────────────────────────────────────────────
	"console": {
		Comment: "Interactive console attached when stdin is a terminal",
	},
	"console.enabled": {},
	"console.history_limit": {
		Comment: "Lines kept in the console history file.",
	},

	// ── Log ──────────────────────────────────────────────────────
	"log": {
		Comment: "Logging configuration",
	},
	"log.level": {
		Comment: "Minimum log level. Options: \"trace\", \"debug\", \"info\", \"warn\", \"error\"\nChanges are picked up without a restart.",
		Alternatives: []string{
			`level = "debug"`,
			`level = "trace"`,
		},
	},
	"log.max_size_mb": {
		Comment: "Maximum log file size in megabytes before rotation.",
	},
	"log.stderr": {
		Comment: "Also write log lines to standard error.",
	},
}
