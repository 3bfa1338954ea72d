package util

// Version is the build version, overridden at link time with
// -ldflags "-X github.com/casetalink/casetalink/internal/util.Version=...".
var Version = "dev"
