package messages

import (
	"encoding/json"
	"fmt"
	"os"
)

// nodeConfigFields must be present in every node config document.
var nodeConfigFields = []string{"node_id", "info", "devices"}

// UserMapping associates a node with a user account.
type UserMapping struct {
	NodeID    string `json:"node_id"`
	UserID    string `json:"user_id"`
	SecretKey string `json:"secret_key"`
	Reset     bool   `json:"reset"`
	Timeout   int    `json:"timeout"`
}

// DefaultMappingTimeout is the user mapping timeout in seconds.
const DefaultMappingTimeout = 300

// NewUserMapping builds a mapping request. A non-positive timeout uses
// DefaultMappingTimeout.
func NewUserMapping(nodeID, userID, secretKey string, reset bool, timeout int) (UserMapping, error) {
	switch {
	case nodeID == "":
		return UserMapping{}, fmt.Errorf("%w: node_id", ErrMissingField)
	case userID == "":
		return UserMapping{}, fmt.Errorf("%w: user_id", ErrMissingField)
	case secretKey == "":
		return UserMapping{}, fmt.Errorf("%w: secret_key", ErrMissingField)
	}
	if timeout <= 0 {
		timeout = DefaultMappingTimeout
	}
	return UserMapping{NodeID: nodeID, UserID: userID, SecretKey: secretKey, Reset: reset, Timeout: timeout}, nil
}

// AlertBody is the message part of an alert.
type AlertBody struct {
	Message string `json:"message"`
}

// Alert is a notification pushed to node/{id}/alert.
type Alert struct {
	NodeID      string    `json:"nodeId"`
	MessageBody AlertBody `json:"messageBody"`
}

// NewAlert builds an alert.
func NewAlert(nodeID, message string) (Alert, error) {
	if message == "" {
		return Alert{}, fmt.Errorf("%w: message", ErrMissingField)
	}
	return Alert{NodeID: nodeID, MessageBody: AlertBody{Message: message}}, nil
}

// LoadDocument reads a JSON object from path.
func LoadDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied file
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, path, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s is not a JSON object", ErrInvalidPayload, path)
	}
	return doc, nil
}

// ValidateNodeConfig checks that doc has the required fields and names
// nodeID.
func ValidateNodeConfig(doc map[string]any, nodeID string) error {
	var missing []string
	for _, field := range nodeConfigFields {
		if _, ok := doc[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingField, missing)
	}
	if got, _ := doc["node_id"].(string); got != nodeID {
		return fmt.Errorf("%w: config names %q, expected %q", ErrNodeMismatch, got, nodeID)
	}
	return nil
}

// DeviceParams selects one device's parameters from a params document and
// returns them as {device: params}.
func DeviceParams(doc map[string]any, device string) (map[string]any, error) {
	params, ok := doc[device]
	if !ok {
		return nil, fmt.Errorf("%w: device %q", ErrMissingField, device)
	}
	return map[string]any{device: params}, nil
}
