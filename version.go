package anyheart

// Version is the release version, stamped at build time with
// -ldflags "-X github.com/alexhamidi/anyheart.Version=...".
var Version = "0.1.0-dev"
