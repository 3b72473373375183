package messages

import (
	"encoding/json"
	"fmt"
)

// OTAStatus is the state a node reports for an OTA job.
type OTAStatus string

// OTA job states.
const (
	OTAInProgress OTAStatus = "in-progress"
	OTASuccess    OTAStatus = "success"
	OTARejected   OTAStatus = "rejected"
	OTAFailed     OTAStatus = "failed"
	OTADelayed    OTAStatus = "delayed"
)

// OTAStatuses lists every status in menu order.
var OTAStatuses = []OTAStatus{OTASuccess, OTAFailed, OTAInProgress, OTARejected, OTADelayed}

// defaultStatusInfo is the additional_info sent from the interactive menu.
var defaultStatusInfo = map[OTAStatus]string{
	OTASuccess:    "Update completed successfully",
	OTAFailed:     "Update failed",
	OTAInProgress: "Update in progress",
	OTARejected:   "Update rejected",
	OTADelayed:    "Update delayed",
}

// ParseOTAStatus validates s. The underscore spelling in_progress is
// accepted as an alias.
func ParseOTAStatus(s string) (OTAStatus, error) {
	if s == "in_progress" {
		return OTAInProgress, nil
	}
	for _, known := range OTAStatuses {
		if OTAStatus(s) == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// StatusChoice maps a 1-based menu choice to a status and its default
// additional info.
func StatusChoice(choice int) (OTAStatus, string, bool) {
	if choice < 1 || choice > len(OTAStatuses) {
		return "", "", false
	}
	status := OTAStatuses[choice-1]
	return status, defaultStatusInfo[status], true
}

// OTAFetch asks the cloud for an OTA job.
type OTAFetch struct {
	FWVersion string `json:"fw_version"`
	NetworkID string `json:"network_id,omitempty"`
}

// NewOTAFetch builds a fetch request.
func NewOTAFetch(fwVersion, networkID string) (OTAFetch, error) {
	if fwVersion == "" {
		return OTAFetch{}, fmt.Errorf("%w: fw_version", ErrMissingField)
	}
	return OTAFetch{FWVersion: fwVersion, NetworkID: networkID}, nil
}

// OTAStatusUpdate reports progress on an OTA job.
type OTAStatusUpdate struct {
	Status         OTAStatus `json:"status"`
	JobID          string    `json:"ota_job_id"`
	NetworkID      string    `json:"network_id,omitempty"`
	AdditionalInfo string    `json:"additional_info,omitempty"`
}

// NewOTAStatus builds a status update.
func NewOTAStatus(status OTAStatus, jobID, networkID, info string) (OTAStatusUpdate, error) {
	if _, err := ParseOTAStatus(string(status)); err != nil {
		return OTAStatusUpdate{}, err
	}
	if jobID == "" {
		return OTAStatusUpdate{}, fmt.Errorf("%w: ota_job_id", ErrMissingField)
	}
	return OTAStatusUpdate{
		Status:         status,
		JobID:          jobID,
		NetworkID:      networkID,
		AdditionalInfo: info,
	}, nil
}

// OTAJob is the cloud's answer on node/{id}/otaurl. Fields other than the
// job id are optional and unknown fields are kept in Raw.
type OTAJob struct {
	JobID     string `json:"ota_job_id"`
	URL       string `json:"url,omitempty"`
	FWVersion string `json:"fw_version,omitempty"`
	FileSize  int64  `json:"file_size,omitempty"`
	NetworkID string `json:"network_id,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ParseOTAJob decodes an otaurl payload. A payload without a job id is
// rejected.
func ParseOTAJob(payload []byte) (OTAJob, error) {
	var job OTAJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return OTAJob{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if job.JobID == "" {
		return OTAJob{}, fmt.Errorf("%w: ota_job_id", ErrMissingField)
	}
	job.Raw = append(json.RawMessage(nil), payload...)
	return job, nil
}
