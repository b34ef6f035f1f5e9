// Package codec encodes the JSON envelopes foreign callers parse by key.
// Field names and numeric codes are normative per spec.md §6 and must be
// preserved bit-exactly; callers disambiguate success/failure by code, not
// by message content.
package codec

import "encoding/json"

// Status is the stable integer encoding of an upload's lifecycle state.
type Status int

const (
	Pending        Status = 0
	Uploading      Status = 1
	UploadSuccess  Status = 2
	UploadFailed   Status = 3
	Cancelled      Status = 4
	SdkInitSuccess Status = 5 // envelope-only, lifecycle calls
	SdkCleanSuccess Status = 6 // envelope-only, lifecycle calls
	ConfirmSuccess Status = 7
	ConfirmFailed  Status = 8
)

// Envelope is the simple {code, message} result shape returned by
// Initialize and SubmitUpload.
type Envelope struct {
	Code    Status `json:"code"`
	Message string `json:"message"`
}

// Marshal encodes e as JSON. Errors are impossible for this shape (no
// cyclic or unsupported types) but the signature is kept error-returning so
// call sites don't need to special-case this codec from any other.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UploadEntry is one row of the "uploads" array in a StatusEnvelope.
type UploadEntry struct {
	UploadID      string `json:"uploadId"`
	LocalFilePath string `json:"localFilePath"`
	S3ObjectKey   string `json:"s3ObjectKey"`
	Status        Status `json:"status"`
	TotalSize     int64  `json:"totalSize"`
	ErrorMessage  string `json:"errorMessage"`
	StartTime     int64  `json:"startTime"` // ms since epoch
	EndTime       int64  `json:"endTime"`   // ms since epoch
}

// StatusEnvelope is the aggregated reply produced by
// GetAsyncUploadStatusBytes / QueryStatusByDataId.
type StatusEnvelope struct {
	Code             Status        `json:"code"`
	OverallStatus    Status        `json:"status"`
	UploadedCount    int           `json:"uploadedCount"`
	UploadedSize     int64         `json:"uploadedSize"`
	TotalSize        int64         `json:"totalSize"`
	TotalUploadCount int           `json:"totalUploadCount"`
	ErrorMessage     string        `json:"errorMessage"`
	DataID           string        `json:"dataId"`
	Uploads          []UploadEntry `json:"uploads"`
}

func (s StatusEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// OverallStatus computes the aggregate status field of a StatusEnvelope
// from the per-upload statuses of a data-id group, per spec §6:
// UploadFailed wins outright; else Uploading while any sibling is
// non-terminal; else ConfirmSuccess once every sibling confirmed; else
// ConfirmFailed if any confirm failed; else UploadSuccess as the
// transitional value while confirmation is still in flight.
func OverallStatus(statuses []Status) Status {
	anyFailed := false
	anyNonTerminal := false
	anyConfirmFailed := false
	allConfirmed := len(statuses) > 0

	for _, s := range statuses {
		switch s {
		case UploadFailed:
			anyFailed = true
		case ConfirmFailed:
			anyConfirmFailed = true
			allConfirmed = false
		case UploadSuccess:
			// upload finished, confirmation still in flight
			allConfirmed = false
		case ConfirmSuccess:
			// terminal, contributes to allConfirmed
		case Cancelled:
			// terminal but not itself a failure code for aggregation purposes
			allConfirmed = false
		default:
			anyNonTerminal = true
			allConfirmed = false
		}
	}

	switch {
	case anyFailed:
		return UploadFailed
	case anyNonTerminal:
		return Uploading
	case allConfirmed:
		return ConfirmSuccess
	case anyConfirmFailed:
		return ConfirmFailed
	default:
		return UploadSuccess
	}
}
