// Copyright 2025 Certen Protocol
//
// Models - row types persisted by the proof-asset registry.

package database

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProofFormat is the tag for a ProofAsset's proof encoding (spec.md §3).
type ProofFormat string

const (
	ProofFormatZK          ProofFormat = "ZK_PROOF"
	ProofFormatJWS         ProofFormat = "JWS"
	ProofFormatLD          ProofFormat = "LD_PROOF"
	ProofFormatHW          ProofFormat = "HW_ATTESTATION"
	ProofFormatMerkle      ProofFormat = "MERKLE_PROOF"
	ProofFormatBlockchain  ProofFormat = "BLOCKCHAIN_TX_PROOF"
	ProofFormatOther       ProofFormat = "OTHER"
)

// DigestAlgorithm is the tag for how ProofAsset.ProofDigest is encoded.
type DigestAlgorithm string

const (
	DigestSHA256    DigestAlgorithm = "sha2-256"
	DigestSHA3_256  DigestAlgorithm = "sha3-256"
	DigestBlake3    DigestAlgorithm = "blake3"
	DigestMultihash DigestAlgorithm = "multihash"
)

// VerificationStatus is the tag for ProofAsset.VerificationStatus (spec.md
// §4.7 state machine).
type VerificationStatus string

const (
	StatusPending   VerificationStatus = "pending"
	StatusVerified  VerificationStatus = "verified"
	StatusRevoked   VerificationStatus = "revoked"
	StatusSuspended VerificationStatus = "suspended"
)

// StatusPurpose mirrors bitstring.Purpose for storage.
type StatusPurpose string

const (
	PurposeRevocation StatusPurpose = "revocation"
	PurposeSuspension StatusPurpose = "suspension"
)

// ProofAsset is the registered record (spec.md §3 "ProofAsset"). No field
// may hold proof bytes or subject-identifying data beyond opaque DIDs and
// hashes.
type ProofAsset struct {
	AssetID                     uuid.UUID
	Commitment                  string
	IssuerDID                   sql.NullString
	PartnerID                   uuid.NullUUID
	SubjectBinding              sql.NullString
	ProofFormat                 ProofFormat
	ProofDigest                 string
	DigestAlg                   DigestAlgorithm
	ProofURI                    sql.NullString
	ConstraintHash              string
	ConstraintCID               sql.NullString
	PolicyHash                  string
	PolicyCID                   string
	CircuitOrSchemaID           sql.NullString
	CircuitCID                  sql.NullString
	SchemaCID                   sql.NullString
	ContentCIDs                 []string
	License                     json.RawMessage
	StatusListURL               string
	StatusListIndex             string
	StatusPurpose               StatusPurpose
	AuditCID                    sql.NullString
	VerificationStatus          VerificationStatus
	VerificationAlgorithm       sql.NullString
	VerificationPublicKeyDigest sql.NullString
	VerificationTimestamp       sql.NullTime
	VerificationMetadata        json.RawMessage
	VerifierProofRef            sql.NullString
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// NewProofAsset is the input to RegisterAsset, before IDs/timestamps are
// assigned.
type NewProofAsset struct {
	Commitment        string
	IssuerDID         string
	PartnerID         uuid.NullUUID
	SubjectBinding    string
	ProofFormat       ProofFormat
	ProofDigest       string
	DigestAlg         DigestAlgorithm
	ProofURI          string
	ConstraintHash    string
	ConstraintCID     string
	PolicyHash        string
	PolicyCID         string
	CircuitOrSchemaID string
	CircuitCID        string
	SchemaCID         string
	ContentCIDs       []string
	License           json.RawMessage
	StatusListURL     string
	StatusListIndex   string
	StatusPurpose     StatusPurpose
}

// StatusList is a W3C Bitstring Status List row (spec.md §3 "StatusList").
type StatusList struct {
	ListID    uuid.UUID
	Purpose   StatusPurpose
	URL       string // unique, normalized
	Bitstring []byte
	Size      int
	ETag      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuditEventRow persists one audit.Event (pkg/audit owns hash-chain
// semantics; this is its storage projection).
type AuditEventRow struct {
	EventID      uuid.UUID
	EventType    string
	AssetID      uuid.NullUUID
	Payload      json.RawMessage
	TraceID      sql.NullString
	PreviousHash sql.NullString
	EventHash    string
	Timestamp    time.Time
}

// JtiReplayEntry backs the durable half of the receipt replay cache.
type JtiReplayEntry struct {
	JTI       string
	ExpiresAt time.Time
}

// KeyStatus is the tag for an ApiKey's lifecycle state.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRevoked KeyStatus = "revoked"
)

// Partner is a registered API caller (spec.md §3's Partner summary).
type Partner struct {
	PartnerID uuid.UUID
	Name      string
	CreatedAt time.Time
}

// ApiKey is a partner's credential row. SecretHash is an Argon2id hash,
// never the raw secret.
type ApiKey struct {
	KeyID      uuid.UUID
	PartnerID  uuid.UUID
	SecretHash string
	Scopes     []string
	Status     KeyStatus
	NotBefore  sql.NullTime
	NotAfter   sql.NullTime
	CreatedAt  time.Time
}
