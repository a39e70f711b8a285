package ir

// Version constants stamped onto recorded batches.
const (
	// SchemaVersion is the row schema version.
	SchemaVersion = "1"

	// EngineVersion is the stepsplit engine version.
	EngineVersion = "0.1.0"
)
