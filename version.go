package petrel

// Version is the current release version of petrel.
const Version = "0.3.0"
