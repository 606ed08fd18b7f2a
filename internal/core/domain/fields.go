package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// The signaling store moves loose field maps, not typed records. These
// helpers convert between the two through their JSON forms so the wire
// shape stays identical across the in-memory and networked stores.

func OfferFields(d SessionDescription) map[string]any {
	return map[string]any{"offer": descFields(d)}
}

func AnswerFields(d SessionDescription) map[string]any {
	return map[string]any{"answer": descFields(d)}
}

// EndFields builds the termination write: ended flips to true exactly once,
// endedAt is set atomically with it, and endedByCurrentUser marks the write
// as self-initiated so the writer can tell its own action from an observed
// one.
func EndFields(reason EndReason, at time.Time) map[string]any {
	return map[string]any{
		"ended":              true,
		"endedAt":            at.UTC().Format(time.RFC3339Nano),
		"endedBy":            string(reason),
		"endedByCurrentUser": true,
	}
}

func descFields(d SessionDescription) map[string]any {
	return map[string]any{"type": string(d.Type), "sdp": d.SDP}
}

func CallRecordFromFields(fields map[string]any) (CallRecord, error) {
	var rec CallRecord
	if err := remarshal(fields, &rec); err != nil {
		return CallRecord{}, fmt.Errorf("decoding call record: %w", err)
	}
	return rec, nil
}

func CandidateFields(c Candidate) (map[string]any, error) {
	var fields map[string]any
	if err := remarshal(c, &fields); err != nil {
		return nil, fmt.Errorf("encoding candidate: %w", err)
	}
	return fields, nil
}

func CandidateFromFields(fields map[string]any) (Candidate, error) {
	var c Candidate
	if err := remarshal(fields, &c); err != nil {
		return Candidate{}, fmt.Errorf("decoding candidate: %w", err)
	}
	return c, nil
}

func remarshal(from, to any) error {
	raw, err := json.Marshal(from)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, to)
}
