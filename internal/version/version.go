package version

// Version is the current version of chkit.
// Can be overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "0.4.0"

// Name is the application name.
const Name = "chkit"

// Description is a short description of the application.
const Description = "ClickHouse table, mutation and data-copy toolkit"
