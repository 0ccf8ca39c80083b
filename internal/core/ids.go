package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Identity derivation. Every id is a content hash so that re-running the
// same inputs reproduces the same id on any host.

const idLen = 16

func contentHash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:idLen]
}

// NormalizeThesis lowercases and collapses whitespace so trivially reworded
// copies of the same thesis fingerprint identically.
func NormalizeThesis(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// SignalIDFor derives the content fingerprint of a signal.
func SignalIDFor(token, chain, source, signalType, thesis string) string {
	return contentHash(
		strings.ToUpper(token),
		strings.ToLower(chain),
		source,
		signalType,
		NormalizeThesis(thesis),
	)
}

// DecisionIDFor derives the decision id for a signal under a policy version.
func DecisionIDFor(signalID, policyVersion string) string {
	return contentHash(signalID, policyVersion)
}

// PositionIDFor derives the position id. The ordinal is fixed at 1 today;
// decision_id is UNIQUE on positions, so the ordinal is a schema hook only.
func PositionIDFor(decisionID string, ordinal int) string {
	return contentHash(decisionID, fmt.Sprintf("%d", ordinal))
}

// OrderBucketSeconds is the idempotency window for client order ids.
const OrderBucketSeconds = 300

// ClientOrderIDFor derives the idempotent client order id. Two placements of
// the same logical order within one five-minute bucket share the id.
func ClientOrderIDFor(correlationID, strategy string, side OrderSide, symbol string, at time.Time) string {
	bucket := at.UTC().Unix() / OrderBucketSeconds
	return "sb-" + contentHash(correlationID, strategy, string(side), symbol, fmt.Sprintf("%d", bucket))
}

// TaskIDFor derives the analyze-task id from the position it belongs to.
func TaskIDFor(taskType, entityID string) string {
	return contentHash(taskType, entityID)
}
