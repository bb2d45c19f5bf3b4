package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TrustSnapshot is the read-only view of an identity published to consumers
// such as the economic layer. It never carries key material.
// TrustSnapshot 是发布给消费者（如经济层）的只读身份视图，从不包含密钥材料。
type TrustSnapshot struct {
	EntityID     string    `json:"entity_id"`
	PublicKey    string    `json:"public_key"`
	TrustScore   float64   `json:"trust_score"`
	Reputation   float64   `json:"reputation"`
	Interactions uint64    `json:"interactions"`
	AgeDays      int       `json:"age_days"`
	Vouchers     int       `json:"vouchers"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TrustAssertionClaims is the claim set of a signed trust assertion.
// It embeds the standard jwt.RegisteredClaims; the subject is the entity id.
// TrustAssertionClaims 是已签名信任断言的声明集合，嵌入标准 jwt.RegisteredClaims，主题为实体 ID。
type TrustAssertionClaims struct {
	jwt.RegisteredClaims
	TrustScore   float64 `json:"trust_score"`
	Reputation   float64 `json:"reputation"`
	Interactions uint64  `json:"interactions"`
	KeyVersion   int     `json:"key_version"`
}
