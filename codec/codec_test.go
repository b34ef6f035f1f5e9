package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	original := Envelope{Code: UploadSuccess, Message: "D1_1690000000000000"}

	data, err := original.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":2,"message":"D1_1690000000000000"}`, string(data))

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
}

func TestStatusEnvelopeRoundTrip(t *testing.T) {
	original := StatusEnvelope{
		Code:             UploadSuccess,
		OverallStatus:    ConfirmSuccess,
		UploadedCount:    1,
		UploadedSize:     10,
		TotalSize:        10,
		TotalUploadCount: 1,
		ErrorMessage:     "",
		DataID:           "D1",
		Uploads: []UploadEntry{
			{
				UploadID:      "D1_1690000000000000",
				LocalFilePath: "/tmp/f.bin",
				S3ObjectKey:   "patient/P/source_data/D1/f.bin/f.bin",
				Status:        ConfirmSuccess,
				TotalSize:     10,
				StartTime:     1000,
				EndTime:       2000,
			},
		},
	}

	data, err := original.Marshal()
	require.NoError(t, err)

	var decoded StatusEnvelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name   string
		in     []Status
		expect Status
	}{
		{"any failed wins", []Status{UploadSuccess, UploadFailed}, UploadFailed},
		{"any non-terminal", []Status{UploadSuccess, Uploading}, Uploading},
		{"all confirmed", []Status{ConfirmSuccess, ConfirmSuccess}, ConfirmSuccess},
		{"confirm failed without non-terminal", []Status{ConfirmSuccess, ConfirmFailed}, ConfirmFailed},
		{"success pending confirmation", []Status{UploadSuccess, UploadSuccess}, UploadSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, OverallStatus(tt.in))
		})
	}
}
