// Package internaldefs maps engine counters onto exported metric families and
// holds the bucket labels shared by the Prometheus and OTel exporters, so
// both publish identical series.
package internaldefs
