package models

// IdentityRecord is the durable JSON form of an identity, one object per file.
// private_key is only present when the key provider can export key material;
// key_versions carries the public key chain so rotation state survives a reload.
// IdentityRecord 是身份的持久化 JSON 形式，每个文件一个对象。
type IdentityRecord struct {
	PrivateKey             string        `json:"private_key,omitempty"`
	PublicKey              string        `json:"public_key"`
	EntityID               string        `json:"entity_id"`
	AgentID                string        `json:"agent_id,omitempty"`
	TrustScore             float64       `json:"trust_score"`
	Reputation             float64       `json:"reputation"`
	Interactions           uint64        `json:"interactions"`
	SuccessfulInteractions uint64        `json:"successful_interactions"`
	FailedInteractions     uint64        `json:"failed_interactions"`
	CreatedTimestamp       string        `json:"created_timestamp"`
	LastActive             string        `json:"last_active"`
	DeviceFingerprint      string        `json:"device_fingerprint"`
	Attestations           []Attestation `json:"attestations"`
	Vouchers               []string      `json:"vouchers"`
	KeyVersions            []KeyVersion  `json:"key_versions,omitempty"`
}

// ID returns entity_id, falling back to the legacy agent_id field.
func (r *IdentityRecord) ID() string {
	if r.EntityID != "" {
		return r.EntityID
	}
	return r.AgentID
}
