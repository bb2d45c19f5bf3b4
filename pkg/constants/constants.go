// Package constants defines system-wide constants for the LCT identity and trust core.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Key Status Constants
// ================================================================================

// KeyStatus represents the lifecycle status of a key version
type KeyStatus string

const (
	// KeyStatusActive marks the single version used for new signatures
	KeyStatusActive KeyStatus = "active"

	// KeyStatusOverlapping marks a superseded version still valid for verification
	KeyStatusOverlapping KeyStatus = "overlapping"

	// KeyStatusExpired marks a version whose overlap window has closed
	KeyStatusExpired KeyStatus = "expired"

	// KeyStatusRevoked marks a version that must never be trusted again
	KeyStatusRevoked KeyStatus = "revoked"
)

// ================================================================================
// Rotation Reason Constants
// ================================================================================

// RotationReason records why a key version was created or retired
type RotationReason string

const (
	RotationReasonInitial    RotationReason = "initial"
	RotationReasonNormal     RotationReason = "normal"
	RotationReasonScheduled  RotationReason = "scheduled"
	RotationReasonCompromise RotationReason = "compromise"
	RotationReasonManual     RotationReason = "manual"
)

// ================================================================================
// Witness Role Constants
// ================================================================================

// WitnessRole represents the capacity in which a witness attests
type WitnessRole string

const (
	// WitnessRoleAuthority is an authority witness (e.g. society root)
	WitnessRoleAuthority WitnessRole = "authority"

	// WitnessRolePeer is a peer agent witness
	WitnessRolePeer WitnessRole = "peer"

	// WitnessRoleObserver is a passive observer witness
	WitnessRoleObserver WitnessRole = "observer"
)

// ================================================================================
// Audit Event Type Constants
// ================================================================================

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	AuditEventIdentityCreated     AuditEventType = "identity.created"
	AuditEventIdentityImported    AuditEventType = "identity.imported"
	AuditEventAttestationAdded    AuditEventType = "identity.attestation_added"
	AuditEventVoucherAdded        AuditEventType = "identity.voucher_added"
	AuditEventKeyRegistered       AuditEventType = "key.registered"
	AuditEventKeyRotated          AuditEventType = "key.rotated"
	AuditEventKeyRevoked          AuditEventType = "key.revoked"
	AuditEventKeyExpired          AuditEventType = "key.expired"
	AuditEventKeyCleaned          AuditEventType = "key.cleaned"
	AuditEventWitnessRegistered   AuditEventType = "witness.registered"
	AuditEventWitnessVerification AuditEventType = "witness.verification"
	AuditEventTrustAssertion      AuditEventType = "trust.assertion_issued"
)

// ================================================================================
// Error Code Constants
// ================================================================================

// ErrorCode represents a machine-readable error category
type ErrorCode string

const (
	ErrCodeInvalidArgument         ErrorCode = "invalid_argument"
	ErrCodeEntityNotFound          ErrorCode = "entity_not_found"
	ErrCodeEntityAlreadyRegistered ErrorCode = "entity_already_registered"
	ErrCodeEntityNotRegistered     ErrorCode = "entity_not_registered"
	ErrCodeKeyVersionNotFound      ErrorCode = "key_version_not_found"
	ErrCodeNoActiveKey             ErrorCode = "no_active_key"
	ErrCodeMalformedSignature      ErrorCode = "malformed_signature"
	ErrCodeKeyProviderFailure      ErrorCode = "key_provider_failure"
	ErrCodePersistenceFailure      ErrorCode = "persistence_failure"
	ErrCodeInternal                ErrorCode = "internal"
)

// ================================================================================
// Trust Scoring Defaults
// ================================================================================

const (
	// TrustBase is the floor contribution every identity starts with
	TrustBase = 0.1

	// TrustInteractionCap bounds the successful-interaction contribution
	TrustInteractionCap = 0.3

	// TrustInteractionScale is the number of successes that saturate the interaction contribution
	TrustInteractionScale = 1000.0

	// TrustAttestationCap bounds the attestation contribution
	TrustAttestationCap = 0.4

	// TrustAttestationScale divides the weighted attestation sum
	TrustAttestationScale = 10.0

	// TrustAgeCap bounds the age contribution
	TrustAgeCap = 0.2

	// TrustAgeScaleDays is the age in days that saturates the age contribution
	TrustAgeScaleDays = 365.0

	// DefaultAttestationWeight applies when an attestation carries no weight
	DefaultAttestationWeight = 0.5

	// DefaultAttestationTrustLevel applies when an attestation carries no trust level
	DefaultAttestationTrustLevel = 0.5
)

// ================================================================================
// Key Rotation Defaults
// ================================================================================

const (
	// DefaultOverlapDays is how long a superseded key remains valid for verification
	DefaultOverlapDays = 30

	// DefaultCleanupGraceDays is how long expired versions are kept for audit
	DefaultCleanupGraceDays = 90

	// DefaultMaintenanceInterval is the period of the expiry sweep and cleanup loop
	DefaultMaintenanceInterval = 1 * time.Hour

	// EntityIDLength is the number of hex characters kept from the public key hash
	EntityIDLength = 16
)

// ================================================================================
// Witness Defaults
// ================================================================================

const (
	DefaultMinWitnesses      = 1
	DefaultMinWitnessTrust   = 0.5
	DefaultMinAggregateTrust = 1.0

	// DefaultWitnessTrust is assumed for witnesses absent from the registry
	DefaultWitnessTrust = 0.5

	// WitnessTrustRetention is the weight the current trust keeps on each mark
	WitnessTrustRetention = 0.8

	// WitnessTrustRecentWeight is the weight of the recent success rate on each mark
	WitnessTrustRecentWeight = 0.2

	// WitnessRecentWindow is the number of marks used for the recent success rate
	WitnessRecentWindow = 20

	// WitnessHistoryLimit bounds the stored outcome history per witness
	WitnessHistoryLimit = 100

	// DefaultWitnessVerifyConcurrency bounds parallel signature checks per request
	DefaultWitnessVerifyConcurrency = 8

	// DefaultTrustedWitnessMinTrust and DefaultTrustedWitnessMinVerifications select proven witnesses
	DefaultTrustedWitnessMinTrust         = 0.7
	DefaultTrustedWitnessMinVerifications = 10
)

// ================================================================================
// Trust Assertion Defaults
// ================================================================================

const (
	// TrustAssertionIssuer is the iss claim of issued trust assertions
	TrustAssertionIssuer = "lct-keeper"

	// DefaultTrustAssertionTTL is the lifetime of an issued trust assertion
	DefaultTrustAssertionTTL = 15 * time.Minute

	// TrustSnapshotCacheTTL is the lifetime of published trust snapshots
	TrustSnapshotCacheTTL = 10 * time.Minute

	// TrustSnapshotL1TTL is the in-process lifetime of trust snapshots
	TrustSnapshotL1TTL = 1 * time.Minute

	// TrustSnapshotKeyPrefix prefixes redis keys holding trust snapshots
	TrustSnapshotKeyPrefix = "lct:trust:"
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey is the type of keys stored in context.Context by this module
type ContextKey string

const (
	ContextKeyRequestID ContextKey = "request_id"
	ContextKeyEntityID  ContextKey = "entity_id"
	ContextKeyActor     ContextKey = "actor"
)

// ================================================================================
// Log Level Constants
// ================================================================================

// LogLevel is the textual log level accepted in configuration
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// TimeFormat is the ISO-8601 layout used for persisted and signed timestamps
const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// ServiceName identifies this process in logs, traces and metrics
const ServiceName = "lct-keeper"
