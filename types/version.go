package types

// Version is the canonical project version, shared by every component.
const Version = "0.1.0"
