package ir

// Version constants for the persisted definition format and the engine.
const (
	// DefinitionVersion is the predicate encoding version stored with each
	// smart playlist.
	DefinitionVersion = "1"

	// EngineVersion is the smartview engine version.
	EngineVersion = "0.1.0"
)
