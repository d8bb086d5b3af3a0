// Package fname contains filename constants for the daemon's persisted
// metadata and marker files.
package fname

const (
	HomeConfigsDir = ".config" // join(cos.HomeDir(), HomeConfigsDir)
	HomeBPD        = "bpd"     // join(cos.HomeDir(), HomeConfigsDir, HomeBPD)
)

const (
	// daemon bootstrap / config
	GlobalConfig   = ".bpd.conf"
	OverrideConfig = ".bpd.override_config"
	DaemonIDFile   = ".bpd.daemon_id"

	// C6 link registry: persisted link configs and stats (persistent_links)
	LinkDB = ".bpd.links"

	// C8 IMC overlay: region/group membership database
	IMCRegionDB = ".bpd.imc.regions"
	IMCGroupDB  = ".bpd.imc.groups"

	// C2 forwarding logs, when persistent_fwd_logs is set
	FwdLogDir = "fwdlogs"

	// C1 durable object store: bundle payload directory and key index
	StoreDir      = "bundles"
	StoreIndexDB  = ".bpd.store.index"
	StoreCheckLog = ".bpd.store.checklog"

	// Markers: per store-root, written before a destructive operation so a
	// crash mid-operation is detectable on the next restart.
	MarkersDir       = ".bpd.markers"
	ClearDBMarker    = "clear_db"
	DaemonRestarted  = "daemon_restarted"
)
