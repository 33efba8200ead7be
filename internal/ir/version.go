package ir

// Version constants.
const (
	// FormatVersion is the version of the compiled output (SQL layout and
	// meta_json shape). Consumers key caches on it.
	FormatVersion = "1"

	// CompilerVersion is the cobquec version.
	CompilerVersion = "0.1.0"
)
