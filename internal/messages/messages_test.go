package messages

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertValue(t *testing.T) {
	tests := []struct {
		name    string
		dt      DataType
		raw     string
		want    any
		wantErr error
	}{
		{"bool true", TypeBool, "Yes", true, nil},
		{"bool on", TypeBool, "on", true, nil},
		{"bool other", TypeBool, "nope", false, nil},
		{"int", TypeInt, " 42 ", int64(42), nil},
		{"int bad", TypeInt, "4.2", nil, ErrInvalidValue},
		{"float", TypeFloat, "21.5", 21.5, nil},
		{"float bad", TypeFloat, "warm", nil, ErrInvalidValue},
		{"string", TypeString, "hello world", "hello world", nil},
		{"array", TypeArray, "[1, 2]", []any{float64(1), float64(2)}, nil},
		{"array wrong kind", TypeArray, `{"a":1}`, nil, ErrInvalidValue},
		{"object", TypeObject, `{"a":true}`, map[string]any{"a": true}, nil},
		{"object null", TypeObject, "null", nil, ErrInvalidValue},
		{"unknown type", DataType("blob"), "x", nil, ErrInvalidDataType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConvertValue(tt.dt, tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvertValues_ReportsPosition(t *testing.T) {
	_, err := ConvertValues(TypeInt, []string{"1", "two"})
	require.ErrorIs(t, err, ErrInvalidValue)
	assert.Contains(t, err.Error(), "value 2")
}

func TestParseDataType(t *testing.T) {
	dt, err := ParseDataType(" Float ")
	require.NoError(t, err)
	assert.Equal(t, TypeFloat, dt)

	_, err = ParseDataType("double")
	assert.ErrorIs(t, err, ErrInvalidDataType)
}

func TestNewTSData_WireFormat(t *testing.T) {
	start := time.Unix(1700000000, 0)
	doc, err := NewTSData("temperature", TypeFloat, []any{20.5, 21.0}, start, 30*time.Second)
	require.NoError(t, err)

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"ts_data_version": "2021-09-13",
		"ts_data": [{
			"name": "temperature",
			"dt": "float",
			"ow": false,
			"records": [
				{"v": {"value": 20.5}, "t": 1700000000},
				{"v": {"value": 21}, "t": 1700000030}
			]
		}]
	}`, string(data))

	parsed, err := ParseTSData(data)
	require.NoError(t, err)
	assert.Equal(t, "temperature", parsed.Series[0].Name)
	assert.Len(t, parsed.Series[0].Records, 2)
}

func TestNewTSData_Validation(t *testing.T) {
	_, err := NewTSData("", TypeInt, []any{1}, time.Now(), 0)
	assert.ErrorIs(t, err, ErrMissingField)
	_, err = NewTSData("x", TypeInt, nil, time.Now(), 0)
	assert.ErrorIs(t, err, ErrMissingField)
	_, err = NewTSData("x", DataType("blob"), []any{1}, time.Now(), 0)
	assert.ErrorIs(t, err, ErrInvalidDataType)
}

func TestNewSimpleTSData_WireFormat(t *testing.T) {
	days := 7
	doc, err := NewSimpleTSData("power", TypeBool, true, time.Unix(1700000000, 0), &days)
	require.NoError(t, err)

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"power","dt":"bool","t":1700000000,"v":{"value":true},"d":7}`, string(data))

	doc.D = nil
	data, err = json.Marshal(doc)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"d"`)

	parsed, err := ParseSimpleTSData(data)
	require.NoError(t, err)
	assert.Equal(t, "power", parsed.Name)
}

func TestParseTSData_Rejects(t *testing.T) {
	_, err := ParseTSData([]byte(`{"name":"x"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = ParseTSData([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = ParseSimpleTSData([]byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestOTAStatus(t *testing.T) {
	s, err := ParseOTAStatus("in_progress")
	require.NoError(t, err)
	assert.Equal(t, OTAInProgress, s)

	_, err = ParseOTAStatus("done")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	status, info, ok := StatusChoice(5)
	require.True(t, ok)
	assert.Equal(t, OTADelayed, status)
	assert.Equal(t, "Update delayed", info)

	_, _, ok = StatusChoice(0)
	assert.False(t, ok)
}

func TestOTAPayloads(t *testing.T) {
	fetch, err := NewOTAFetch("1.2.0", "")
	require.NoError(t, err)
	data, _ := json.Marshal(fetch)
	assert.JSONEq(t, `{"fw_version":"1.2.0"}`, string(data))

	_, err = NewOTAFetch("", "")
	assert.ErrorIs(t, err, ErrMissingField)

	update, err := NewOTAStatus(OTASuccess, "job-1", "net-9", "done")
	require.NoError(t, err)
	data, _ = json.Marshal(update)
	assert.JSONEq(t, `{"status":"success","ota_job_id":"job-1","network_id":"net-9","additional_info":"done"}`, string(data))

	_, err = NewOTAStatus(OTASuccess, "", "", "")
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestParseOTAJob(t *testing.T) {
	job, err := ParseOTAJob([]byte(`{"ota_job_id":"j1","url":"https://x/fw.bin","file_size":1024,"extra":1}`))
	require.NoError(t, err)
	assert.Equal(t, "j1", job.JobID)
	assert.Equal(t, int64(1024), job.FileSize)
	assert.Contains(t, string(job.Raw), "extra")

	_, err = ParseOTAJob([]byte(`{"url":"x"}`))
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestUserMappingAndAlert(t *testing.T) {
	m, err := NewUserMapping("n1", "u1", "s3cret", true, 0)
	require.NoError(t, err)
	data, _ := json.Marshal(m)
	assert.JSONEq(t, `{"node_id":"n1","user_id":"u1","secret_key":"s3cret","reset":true,"timeout":300}`, string(data))

	_, err = NewUserMapping("n1", "", "s", false, 10)
	assert.ErrorIs(t, err, ErrMissingField)

	a, err := NewAlert("n1", "Battery low")
	require.NoError(t, err)
	data, _ = json.Marshal(a)
	assert.JSONEq(t, `{"nodeId":"n1","messageBody":{"message":"Battery low"}}`, string(data))
}

func TestValidateNodeConfig(t *testing.T) {
	doc := map[string]any{"node_id": "n1", "info": map[string]any{}, "devices": []any{}}
	require.NoError(t, ValidateNodeConfig(doc, "n1"))
	assert.ErrorIs(t, ValidateNodeConfig(doc, "n2"), ErrNodeMismatch)

	delete(doc, "devices")
	assert.ErrorIs(t, ValidateNodeConfig(doc, "n1"), ErrMissingField)
}

func TestDeviceParams(t *testing.T) {
	doc := map[string]any{"Switch": map[string]any{"Power": true}, "Light": 1}
	got, err := DeviceParams(doc, "Switch")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Switch": map[string]any{"Power": true}}, got)

	_, err = DeviceParams(doc, "Fan")
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestPresenceEvents(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	conn := NewConnectedEvent(PresenceOptions{PrincipalID: "abc", ClientInitiated: true}, now)
	assert.Equal(t, EventConnected, conn.EventType)
	assert.Equal(t, DefaultPresenceClientID, conn.ClientID)
	assert.Equal(t, DefaultPresenceIP, conn.IPAddress)
	assert.Empty(t, conn.DisconnectReason)
	assert.Equal(t, int64(1700000000123), conn.Timestamp)
	_, err := uuid.Parse(conn.SessionIdentifier)
	assert.NoError(t, err, "session id is a generated uuid")

	disc := NewDisconnectedEvent(PresenceOptions{SessionID: "s-1", Reason: "MQTT_KEEP_ALIVE_TIMEOUT"}, now)
	data, err := json.Marshal(disc)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"clientId": "rainmaker-node",
		"clientInitiatedDisconnect": false,
		"eventType": "disconnected",
		"principalIdentifier": "",
		"sessionIdentifier": "s-1",
		"timestamp": 1700000000123,
		"versionNumber": 0,
		"disconnectReason": "MQTT_KEEP_ALIVE_TIMEOUT"
	}`, string(data))
}

func TestPrincipalFromCertPath(t *testing.T) {
	assert.Equal(t, "cert42", PrincipalFromCertPath("/x/node_details/node-mfg-cert42/node.crt", "n1"))
	assert.Equal(t, "n1", PrincipalFromCertPath("/x/certs/node.crt", "n1"))
	assert.Equal(t, "n1", PrincipalFromCertPath("", "n1"))
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "{\n  \"a\": 1\n}", Display([]byte(`{"a":1}`)))
	assert.Equal(t, "plain text", Display([]byte("plain text")))
}
