package config

const (
	// MaxToolNameLength bounds the tool name accepted by
	// toolregistry.Registry.Resolve before it ever reaches a map lookup.
	MaxToolNameLength = 128

	// MaxRelevantFilesPerStep bounds how many file references a single
	// workflow step may attach before the request is rejected outright
	// rather than silently truncated.
	MaxRelevantFilesPerStep = 200

	// MinIDEntropyBytes is the minimum number of random bytes used to
	// mint session, connection, continuation and workflow identifiers —
	// 16 bytes = 128 bits, matching the entropy invariant in spec.md §3.
	MinIDEntropyBytes = 16
)
