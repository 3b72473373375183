package messages

import (
	"encoding/json"
	"fmt"
	"time"
)

// TSDataVersion is the document version nodes and the cloud agree on.
const TSDataVersion = "2021-09-13"

// Value wraps a time-series value as {"value": ...}.
type Value struct {
	Value any `json:"value"`
}

// Record is one timestamped value. T is Unix seconds.
type Record struct {
	V Value `json:"v"`
	T int64 `json:"t"`
}

// Series is the records of one parameter.
type Series struct {
	Name      string   `json:"name"`
	DataType  DataType `json:"dt"`
	Overwrite bool     `json:"ow"`
	Records   []Record `json:"records"`
}

// TSData is the full time-series document sent to node/{id}/tsdata.
type TSData struct {
	Version string   `json:"ts_data_version"`
	Series  []Series `json:"ts_data"`
}

// SimpleTSData is the single-value document sent to
// node/{id}/simple_tsdata. D is an optional expiry in days.
type SimpleTSData struct {
	Name     string   `json:"name"`
	DataType DataType `json:"dt"`
	T        int64    `json:"t"`
	V        Value    `json:"v"`
	D        *int     `json:"d,omitempty"`
}

// NewTSData builds a single-series document. Record i is stamped
// start + i*interval, truncated to whole seconds.
func NewTSData(name string, dt DataType, values []any, start time.Time, interval time.Duration) (TSData, error) {
	if name == "" {
		return TSData{}, fmt.Errorf("%w: parameter name", ErrMissingField)
	}
	if _, err := ParseDataType(string(dt)); err != nil {
		return TSData{}, err
	}
	if len(values) == 0 {
		return TSData{}, fmt.Errorf("%w: at least one value", ErrMissingField)
	}

	base := start.Unix()
	step := int64(interval / time.Second)
	records := make([]Record, len(values))
	for i, v := range values {
		records[i] = Record{V: Value{Value: v}, T: base + int64(i)*step}
	}

	return TSData{
		Version: TSDataVersion,
		Series: []Series{{
			Name:     name,
			DataType: dt,
			Records:  records,
		}},
	}, nil
}

// NewSimpleTSData builds a simple document. expiryDays may be nil.
func NewSimpleTSData(name string, dt DataType, value any, at time.Time, expiryDays *int) (SimpleTSData, error) {
	if name == "" {
		return SimpleTSData{}, fmt.Errorf("%w: parameter name", ErrMissingField)
	}
	if _, err := ParseDataType(string(dt)); err != nil {
		return SimpleTSData{}, err
	}
	return SimpleTSData{
		Name:     name,
		DataType: dt,
		T:        at.Unix(),
		V:        Value{Value: value},
		D:        expiryDays,
	}, nil
}

// ParseTSData decodes a full time-series document.
func ParseTSData(payload []byte) (TSData, error) {
	var doc TSData
	if err := json.Unmarshal(payload, &doc); err != nil {
		return TSData{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if doc.Version == "" || len(doc.Series) == 0 {
		return TSData{}, fmt.Errorf("%w: not a time-series document", ErrInvalidPayload)
	}
	return doc, nil
}

// ParseSimpleTSData decodes a simple time-series document.
func ParseSimpleTSData(payload []byte) (SimpleTSData, error) {
	var doc SimpleTSData
	if err := json.Unmarshal(payload, &doc); err != nil {
		return SimpleTSData{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if doc.Name == "" {
		return SimpleTSData{}, fmt.Errorf("%w: simple time-series without name", ErrInvalidPayload)
	}
	return doc, nil
}
