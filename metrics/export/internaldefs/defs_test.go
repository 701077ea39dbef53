package internaldefs

import (
	"testing"

	goVerify "github.com/MrEthical07/goVerify"
)

func TestBucketLabels(t *testing.T) {
	want := []string{"0.05", "0.1", "0.25", "0.5", "1", "2.5", "5", "+Inf"}
	if len(HistogramBounds) != len(want) {
		t.Fatalf("expected %d labels, got %v", len(want), HistogramBounds)
	}
	for i := range want {
		if HistogramBounds[i] != want[i] {
			t.Fatalf("label %d: expected %q, got %q", i, want[i], HistogramBounds[i])
		}
	}
	if HistogramBoundSuffix[0] != "0_05" || HistogramBoundSuffix[len(HistogramBoundSuffix)-1] != "inf" {
		t.Fatalf("unexpected suffixes %v", HistogramBoundSuffix)
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [BucketCount]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestEveryCounterHasOneSeries(t *testing.T) {
	seen := map[goVerify.MetricID]bool{}
	series := map[string]bool{}
	for _, def := range CounterDefs {
		if seen[def.ID] {
			t.Fatalf("metric %d defined twice", def.ID)
		}
		seen[def.ID] = true

		key := def.Family.Name + "/" + def.Value
		if series[key] {
			t.Fatalf("duplicate series %s", key)
		}
		series[key] = true

		if (def.Family.Label == "") != (def.Value == "") {
			t.Fatalf("series %s: label value must be set exactly when the family has a label", key)
		}
	}
	for id := goVerify.MetricChallengeIssued; id < goVerify.MetricDeliveryLatency; id++ {
		if !seen[id] {
			t.Fatalf("metric %d has no counter definition", id)
		}
	}
}

func TestSeriesOfKeepsFamiliesApart(t *testing.T) {
	total := 0
	for _, f := range Families {
		defs := SeriesOf(f)
		if len(defs) == 0 {
			t.Fatalf("family %s has no series", f.Name)
		}
		total += len(defs)
	}
	if total != len(CounterDefs) {
		t.Fatalf("families cover %d series, want %d", total, len(CounterDefs))
	}
	if got := SeriesOf(VerifyOutcomes)[0].Value; got != "success" {
		t.Fatalf("expected success first, got %q", got)
	}
}
