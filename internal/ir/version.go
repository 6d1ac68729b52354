package ir

// Protocol markers stamped on every item the simulator produces.
const (
	// DataProtocol is the Data-Protocol tag value for compute items.
	DataProtocol = "ao"

	// Variant is the Variant tag value for compute items.
	Variant = "ao.TN.1"

	// SDK identifies this simulator on the items it signs.
	SDK = "aosim"

	// WeaveDriveProtocol is the Data-Protocol of WeaveDrive availability items.
	WeaveDriveProtocol = "WeaveDrive"

	// WeaveDriveVariant is the Variant of WeaveDrive availability items.
	WeaveDriveVariant = "WeaveDrive.tn.1"

	// DefaultModuleFormat is used when a module item does not declare one.
	DefaultModuleFormat = "wasm64-unknown-emscripten-draft_2024_02_15"

	// EngineVersion is the aosim engine version.
	EngineVersion = "0.1.0"
)

// Item types carried in the Type tag.
const (
	TypeProcess           = "Process"
	TypeMessage           = "Message"
	TypeAssignment        = "Assignment"
	TypeModule            = "Module"
	TypeSchedulerLocation = "Scheduler-Location"
	TypeAttestation       = "Attestation"
	TypeAvailable         = "Available"
)
