package buildinfo

// Version is overridden at link time with -ldflags "-X .../buildinfo.Version=v1.2.3".
var Version = "dev"
