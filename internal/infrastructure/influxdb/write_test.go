package influxdb

import (
	"testing"
	"time"
)

func TestSampleFields(t *testing.T) {
	tests := []struct {
		name  string
		value any
		key   string
		want  any
	}{
		{"float", 21.5, "value", 21.5},
		{"bool", true, "value", true},
		{"string", "on", "value", "on"},
		{"int64", int64(7), "value", int64(7)},
		{"array", []any{1.0, 2.0}, "json", "[1,2]"},
		{"object", map[string]any{"a": "b"}, "json", `{"a":"b"}`},
		{"nil", nil, "json", "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := sampleFields(tt.value)
			if len(fields) != 1 {
				t.Fatalf("sampleFields() = %v, want one field", fields)
			}
			if got := fields[tt.key]; got != tt.want {
				t.Errorf("sampleFields()[%q] = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestSamplePoint(t *testing.T) {
	at := time.Unix(1700000000, 0)
	p := SamplePoint(Sample{NodeID: "n1", Param: "temp", DataType: "float", Value: 1.5, Time: at})

	if p.Name() != Measurement {
		t.Errorf("Name() = %q, want %q", p.Name(), Measurement)
	}
	if !p.Time().Equal(at) {
		t.Errorf("Time() = %v, want %v", p.Time(), at)
	}

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	want := map[string]string{"node_id": "n1", "param": "temp", "dt": "float"}
	for k, v := range want {
		if tags[k] != v {
			t.Errorf("tag %s = %q, want %q", k, tags[k], v)
		}
	}
}
