package internaldefs

import (
	"strconv"
	"strings"

	goVerify "github.com/MrEthical07/goVerify"
)

// Family is one exported counter. Engine counters that describe outcomes of
// the same operation share a family and differ by the Label value.
type Family struct {
	Name  string
	Help  string
	Label string
}

// CounterDef maps an engine counter onto a family series. Value is empty for
// families without a label.
type CounterDef struct {
	ID     goVerify.MetricID
	Family *Family
	Value  string
}

type HistogramDef struct {
	ID   goVerify.MetricID
	Name string
	Help string
}

var (
	ChallengeEvents = &Family{
		Name:  "goverify_challenge_events_total",
		Help:  "Challenge lifecycle events by kind.",
		Label: "event",
	}
	VerifyOutcomes = &Family{
		Name:  "goverify_verify_total",
		Help:  "Verify calls by outcome.",
		Label: "outcome",
	}
	TokensIssued = &Family{
		Name: "goverify_action_tokens_issued_total",
		Help: "Action tokens minted.",
	}
	RedeemOutcomes = &Family{
		Name:  "goverify_redeem_total",
		Help:  "Redeem calls by outcome.",
		Label: "outcome",
	}
)

// Families lists every counter family in exposition order.
var Families = []*Family{ChallengeEvents, VerifyOutcomes, TokensIssued, RedeemOutcomes}

var CounterDefs = []CounterDef{
	{ID: goVerify.MetricChallengeIssued, Family: ChallengeEvents, Value: "issued"},
	{ID: goVerify.MetricChallengeResent, Family: ChallengeEvents, Value: "resent"},
	{ID: goVerify.MetricChallengeSuperseded, Family: ChallengeEvents, Value: "superseded"},
	{ID: goVerify.MetricIssueRateLimited, Family: ChallengeEvents, Value: "rate_limited"},
	{ID: goVerify.MetricDeliveryFailed, Family: ChallengeEvents, Value: "delivery_failed"},

	{ID: goVerify.MetricVerifySuccess, Family: VerifyOutcomes, Value: "success"},
	{ID: goVerify.MetricVerifyInvalidCode, Family: VerifyOutcomes, Value: "invalid_code"},
	{ID: goVerify.MetricVerifyAttemptsExceeded, Family: VerifyOutcomes, Value: "attempts_exceeded"},
	{ID: goVerify.MetricVerifyExpired, Family: VerifyOutcomes, Value: "expired"},
	{ID: goVerify.MetricVerifyReplay, Family: VerifyOutcomes, Value: "replay"},
	{ID: goVerify.MetricVerifyRateLimited, Family: VerifyOutcomes, Value: "rate_limited"},
	{ID: goVerify.MetricVerifyStaleRetry, Family: VerifyOutcomes, Value: "stale_retry"},

	{ID: goVerify.MetricActionTokenIssued, Family: TokensIssued},

	{ID: goVerify.MetricRedeemSuccess, Family: RedeemOutcomes, Value: "success"},
	{ID: goVerify.MetricRedeemExpired, Family: RedeemOutcomes, Value: "expired"},
	{ID: goVerify.MetricRedeemReplay, Family: RedeemOutcomes, Value: "replay"},
	{ID: goVerify.MetricRedeemPurposeMismatch, Family: RedeemOutcomes, Value: "purpose_mismatch"},
	{ID: goVerify.MetricRedeemActionFailed, Family: RedeemOutcomes, Value: "action_failed"},
	{ID: goVerify.MetricRedeemRateLimited, Family: RedeemOutcomes, Value: "rate_limited"},
}

// SeriesOf returns the counter definitions of f in declaration order.
func SeriesOf(f *Family) []CounterDef {
	var out []CounterDef
	for _, def := range CounterDefs {
		if def.Family == f {
			out = append(out, def)
		}
	}
	return out
}

var HistogramDefs = []HistogramDef{
	{ID: goVerify.MetricDeliveryLatency, Name: "goverify_delivery_latency_seconds", Help: "Time spent in the delivery gateway."},
}

const AuditDroppedName = "goverify_audit_dropped_total"

// BucketCount is the number of histogram buckets, the unbounded one included.
const BucketCount = len(goVerify.HistogramBounds) + 1

// HistogramBounds are the le labels of the buckets, in seconds, ending
// with "+Inf".
var HistogramBounds = bucketLabels()

// HistogramBoundSuffix are the bucket labels usable inside instrument names.
var HistogramBoundSuffix = bucketSuffixes()

func bucketLabels() []string {
	out := make([]string, 0, BucketCount)
	for _, b := range goVerify.HistogramBounds {
		out = append(out, strconv.FormatFloat(b.Seconds(), 'g', -1, 64))
	}
	return append(out, "+Inf")
}

func bucketSuffixes() []string {
	labels := bucketLabels()
	out := make([]string, len(labels))
	for i, l := range labels {
		if l == "+Inf" {
			out[i] = "inf"
			continue
		}
		out[i] = strings.ReplaceAll(l, ".", "_")
	}
	return out
}

// NormalizeBuckets pads or truncates raw to BucketCount entries.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
