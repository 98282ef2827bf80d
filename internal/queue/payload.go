package queue

import (
	"encoding/json"
	"fmt"
)

// STTPayload is carried by stt jobs: transcribe the audio at AudioPath.
type STTPayload struct {
	AudioPath string `json:"audioPath"`
}

// ExtractPayload is carried by extract jobs: run the Extractor over an
// event's transcript.
type ExtractPayload struct {
	EventID string `json:"eventId"`
}

// ReprocessPayload is carried by reprocess jobs: re-run extraction for an
// event against an operator-supplied epic, bypassing the matcher.
type ReprocessPayload struct {
	EventID string `json:"eventId"`
	EpicID  string `json:"epicId"`
	Reason  string `json:"reason,omitempty"`
}

// PushPayload is carried by push jobs: notify subscribers about a newly
// created P0/P1 action.
type PushPayload struct {
	ActionID string `json:"actionId"`
}

// TTLCleanupPayload is carried by ttl_cleanup jobs. It has no fields of its
// own; the sweep operates over every expired event each run.
type TTLCleanupPayload struct{}

// EncodePayload serializes a typed payload to the JSON stored on domain.Job.
func EncodePayload(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode job payload: %w", err)
	}
	return string(b), nil
}

// DecodeSTT parses an stt job's payload.
func DecodeSTT(payload string) (STTPayload, error) {
	var p STTPayload
	err := json.Unmarshal([]byte(payload), &p)
	return p, wrapDecodeErr(err)
}

// DecodeExtract parses an extract job's payload.
func DecodeExtract(payload string) (ExtractPayload, error) {
	var p ExtractPayload
	err := json.Unmarshal([]byte(payload), &p)
	return p, wrapDecodeErr(err)
}

// DecodeReprocess parses a reprocess job's payload.
func DecodeReprocess(payload string) (ReprocessPayload, error) {
	var p ReprocessPayload
	err := json.Unmarshal([]byte(payload), &p)
	return p, wrapDecodeErr(err)
}

// DecodePush parses a push job's payload.
func DecodePush(payload string) (PushPayload, error) {
	var p PushPayload
	err := json.Unmarshal([]byte(payload), &p)
	return p, wrapDecodeErr(err)
}

func wrapDecodeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to decode job payload: %w", err)
}
