package realtimesync

// Version is the current version of the realtime-sync library.
const Version = "v0.3.0"
