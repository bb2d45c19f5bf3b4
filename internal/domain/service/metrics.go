// Package service defines the domain service ports and the pure trust scoring logic.
package service

import (
	"time"
)

// Metrics defines the interface for collecting business metrics.
// This abstraction allows the application layer to remain independent of the specific monitoring implementation (e.g., Prometheus).
// Metrics 定义了收集业务指标的接口。
// 这种抽象使应用层能够独立于具体的监控实现（例如 Prometheus）。
type Metrics interface {
	// RecordKeyRotation counts a completed rotation.
	// RecordKeyRotation 统计一次完成的密钥轮换。
	RecordKeyRotation(reason string)

	// RecordKeyRevocation counts a revoked key version.
	// RecordKeyRevocation 统计一次密钥版本撤销。
	RecordKeyRevocation(reason string)

	// RecordKeysExpired counts versions moved from overlapping to expired.
	// RecordKeysExpired 统计从重叠状态转为过期的版本数。
	RecordKeysExpired(count int)

	// RecordKeysCleaned counts expired versions dropped by cleanup.
	// RecordKeysCleaned 统计清理时删除的过期版本数。
	RecordKeysCleaned(count int)

	// RecordSignature counts sign and verify operations by outcome.
	// RecordSignature 按结果统计签名与验证操作。
	RecordSignature(operation string, success bool)

	// RecordWitnessVerification records a quorum evaluation and its latency.
	// RecordWitnessVerification 记录一次法定人数评估及其延迟。
	RecordWitnessVerification(satisfied bool, duration time.Duration)

	// RecordWitnessMark counts adaptive reputation marks.
	// RecordWitnessMark 统计自适应声誉标记。
	RecordWitnessMark(success bool)

	// RecordInteraction counts recorded interactions by outcome.
	// RecordInteraction 按结果统计记录的交互。
	RecordInteraction(success bool)

	// ObserveTrustScore records a freshly computed trust score.
	// ObserveTrustScore 记录新计算的信任分数。
	ObserveTrustScore(score float64)

	// RecordCacheAccess records a cache hit or miss.
	// RecordCacheAccess 记录缓存命中或未命中。
	RecordCacheAccess(cacheType string, hit bool)

	// RecordVaultAPI records the latency and error status of a Vault API call.
	// RecordVaultAPI 记录 Vault API 调用的延迟和错误状态。
	RecordVaultAPI(operation string, duration time.Duration, err error)

	// RecordDBQuery records the duration of a database query.
	// RecordDBQuery 记录数据库查询的持续时间。
	RecordDBQuery(operation string, duration time.Duration)
}

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

func (NoopMetrics) RecordKeyRotation(string)                      {}
func (NoopMetrics) RecordKeyRevocation(string)                    {}
func (NoopMetrics) RecordKeysExpired(int)                         {}
func (NoopMetrics) RecordKeysCleaned(int)                         {}
func (NoopMetrics) RecordSignature(string, bool)                  {}
func (NoopMetrics) RecordWitnessVerification(bool, time.Duration) {}
func (NoopMetrics) RecordWitnessMark(bool)                        {}
func (NoopMetrics) RecordInteraction(bool)                        {}
func (NoopMetrics) ObserveTrustScore(float64)                     {}
func (NoopMetrics) RecordCacheAccess(string, bool)                {}
func (NoopMetrics) RecordVaultAPI(string, time.Duration, error)   {}
func (NoopMetrics) RecordDBQuery(string, time.Duration)           {}
