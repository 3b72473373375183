package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := Topics{}
	id := "abc123"

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"config", topics.NodeConfig(id), "node/abc123/config"},
		{"params root", topics.NodeParamsRoot(id), "node/abc123/params"},
		{"params local", topics.NodeParams(id), "node/abc123/params/local"},
		{"params remote", topics.NodeRemoteParams(id), "node/abc123/params/remote"},
		{"params group", topics.NodeGroupParams(id), "node/abc123/params/group"},
		{"params init", topics.NodeInitParams(id), "node/abc123/params/init"},
		{"params local init", topics.NodeLocalInitParams(id), "node/abc123/params/local/init"},
		{"get params", topics.NodeGetParams(id), "node/abc123/get/params"},
		{"otafetch", topics.NodeOTAFetch(id), "node/abc123/otafetch"},
		{"otastatus", topics.NodeOTAStatus(id), "node/abc123/otastatus"},
		{"otaurl", topics.NodeOTAURL(id), "node/abc123/otaurl"},
		{"user mapping", topics.NodeUserMapping(id), "node/abc123/user/mapping"},
		{"alert", topics.NodeAlert(id), "node/abc123/alert"},
		{"tsdata", topics.NodeTSData(id, false), "node/abc123/tsdata"},
		{"tsdata ingest", topics.NodeTSData(id, true), "$aws/rules/esp_ts_ingest/node/abc123/tsdata"},
		{"simple tsdata", topics.NodeSimpleTSData(id, false), "node/abc123/simple_tsdata"},
		{"simple tsdata ingest", topics.NodeSimpleTSData(id, true), "$aws/rules/esp_simple_ts_ingest/node/abc123/simple_tsdata"},
		{"presence connected", topics.PresenceConnected(id), "$aws/events/presence/connected/abc123"},
		{"presence disconnected", topics.PresenceDisconnected(id), "$aws/events/presence/disconnected/abc123"},
		{"all node topics", topics.AllNodeTopics(id), "node/abc123/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNodeIDFromTopic(t *testing.T) {
	tests := []struct {
		topic  string
		wantID string
		wantOK bool
	}{
		{"node/abc/params/local", "abc", true},
		{"node/abc", "abc", true},
		{"$aws/rules/esp_ts_ingest/node/abc/tsdata", "abc", true},
		{"$aws/rules/esp_simple_ts_ingest/node/abc/simple_tsdata", "abc", true},
		{"$aws/events/presence/connected/abc", "abc", true},
		{"$aws/events/presence/connected", "", false},
		{"node//config", "", false},
		{"other/abc/config", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, ok := NodeIDFromTopic(tt.topic)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("NodeIDFromTopic(%q) = (%q, %v), want (%q, %v)", tt.topic, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"node/abc/config", "node/abc/config", true},
		{"node/+/config", "node/abc/config", true},
		{"node/+/config", "node/abc/params", false},
		{"node/abc/#", "node/abc/params/local", true},
		{"node/abc/#", "node/abc", true},
		{"node/abc", "node/abc/config", false},
		{"node/abc/config/x", "node/abc/config", false},
	}

	for _, tt := range tests {
		if got := MatchTopic(tt.filter, tt.topic); got != tt.want {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}
