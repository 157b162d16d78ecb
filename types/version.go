package types

// Version is the canonical project version.
// All components (CLI, agent core, dev server) share this version
// per the lockstep versioning policy.
const Version = "0.3.0"
