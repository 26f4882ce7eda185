// Package integration contains the order reconciliation bounded context.
// It models orders pulled from external marketplaces (Taobao, JD, Douyin, PDD)
// and the rules for reconciling them into one canonical record.
//
// Key concepts:
//   - PlatformConnector: Port interface implemented once per marketplace
//   - CanonicalOrder: The platform-agnostic order all payloads normalize into
//   - Credentials: Tagged union of per-platform credential structs
//   - PlatformConfig: Per-platform sync settings and bounded sync history
//   - ConflictRecord: Field-level disagreement between two duplicate candidates
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
