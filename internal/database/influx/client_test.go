package influx

import (
	"testing"
	"time"

	"github.com/bardlex/lifpow/pkg/circuit"
)

func TestHashratePoint(t *testing.T) {
	at := time.Unix(1700000000, 0)

	tests := []struct {
		worker int
		want   string
	}{
		{-1, "all"},
		{0, "0"},
		{7, "7"},
	}

	for _, tt := range tests {
		p := HashratePoint("lif", tt.worker, 1234.5, at)
		if p.Name() != "hashrate" {
			t.Errorf("Name() = %q", p.Name())
		}
		tags := map[string]string{}
		for _, tag := range p.TagList() {
			tags[tag.Key] = tag.Value
		}
		if tags["network"] != "lif" || tags["worker"] != tt.want {
			t.Errorf("tags = %v, want worker %q", tags, tt.want)
		}
		if !p.Time().Equal(at) {
			t.Errorf("Time() = %v", p.Time())
		}
	}
}

func TestSearchPointOutcome(t *testing.T) {
	tests := []struct {
		name               string
		found, interrupted bool
		want               string
	}{
		{"found", true, false, "found"},
		{"found wins over interrupted", true, true, "found"},
		{"interrupted", false, true, "interrupted"},
		{"exhausted", false, false, "exhausted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := SearchPoint("regtest", "sha256d", "job-1", 42, time.Second, tt.found, tt.interrupted, time.Now())
			var outcome string
			for _, tag := range p.TagList() {
				if tag.Key == "outcome" {
					outcome = tag.Value
				}
			}
			if outcome != tt.want {
				t.Errorf("outcome = %q, want %q", outcome, tt.want)
			}

			fields := map[string]interface{}{}
			for _, f := range p.FieldList() {
				fields[f.Key] = f.Value
			}
			if fields["hashes"] != int64(42) || fields["elapsed_ms"] != int64(1000) {
				t.Errorf("fields = %v", fields)
			}
		})
	}
}

func TestCircuitPoint(t *testing.T) {
	tests := []struct {
		name     string
		state    circuit.State
		wantOpen int64
	}{
		{"closed", circuit.StateClosed, 0},
		{"open", circuit.StateOpen, 1},
		{"half-open", circuit.StateHalfOpen, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := circuit.Stats{Name: "node_rpc", State: tt.state, Failures: 3, Trips: 2, Rejected: 9}
			p := CircuitPoint("minerd", stats, time.Now())
			if p.Name() != "circuits" {
				t.Errorf("Name() = %q", p.Name())
			}

			tags := map[string]string{}
			for _, tag := range p.TagList() {
				tags[tag.Key] = tag.Value
			}
			if tags["service"] != "minerd" || tags["circuit"] != "node_rpc" {
				t.Errorf("tags = %v", tags)
			}

			fields := map[string]interface{}{}
			for _, f := range p.FieldList() {
				fields[f.Key] = f.Value
			}
			if fields["open"] != tt.wantOpen || fields["state"] != tt.state.String() {
				t.Errorf("fields = %v", fields)
			}
			if fields["trips"] != int64(2) || fields["rejected"] != int64(9) || fields["failures"] != int64(3) {
				t.Errorf("counters = %v", fields)
			}
		})
	}
}
