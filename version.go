package reqorch

// Version is the current module version, bumped on release.
const Version = "0.1.0"
