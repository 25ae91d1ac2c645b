package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"alarmd/internal/routine"
)

// Steps and schedules are stored as JSON columns, the same shape the
// serialization contract round-trips through. Decoding uses json.Number so
// integer step parameters survive the trip without float mangling.

func encodeSteps(steps []routine.StepConfig) (string, error) {
	if steps == nil {
		steps = []routine.StepConfig{}
	}
	b, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("encode steps: %w", err)
	}
	return string(b), nil
}

func decodeSteps(raw string) ([]routine.StepConfig, error) {
	if raw == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var steps []routine.StepConfig
	if err := dec.Decode(&steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	return steps, nil
}

func encodeSchedule(s routine.Schedule) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode schedule: %w", err)
	}
	return string(b), nil
}

func decodeSchedule(raw string) (routine.Schedule, error) {
	var s routine.Schedule
	if raw == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return s, fmt.Errorf("decode schedule: %w", err)
	}
	return s, nil
}

func encodeStepResults(results []routine.StepResult) (string, error) {
	if results == nil {
		results = []routine.StepResult{}
	}
	b, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("encode step results: %w", err)
	}
	return string(b), nil
}

func decodeStepResults(raw string) ([]routine.StepResult, error) {
	if raw == "" {
		return nil, nil
	}
	var results []routine.StepResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return nil, fmt.Errorf("decode step results: %w", err)
	}
	return results, nil
}

func encodeTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
