package search

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Topics handled by the processors of this package
const (
	TopicIndexEntitiesByRange = "search.index_entities_by_range"
	TopicIndexEntitiesByType  = "search.index_entities_by_type"
	TopicReindex              = "search.reindex"
)

// MaxRangeLimit is the largest range a single message may ask for
const MaxRangeLimit = 100000

// RangeRequest asks for entities [Offset, Offset+Limit) of EntityClass to be
// indexed under job JobID.
type RangeRequest struct {
	EntityClass string `json:"entityClass"`
	Offset      int    `json:"offset"`
	Limit       int    `json:"limit"`
	JobID       int64  `json:"jobId"`
}

// TypeRequest asks for every entity of EntityClass to be split into ranges
type TypeRequest struct {
	EntityClass string `json:"entityClass"`
	JobID       int64  `json:"jobId"`
}

// ReindexRequest asks for a full reindex. An empty Classes means every
// registered class.
type ReindexRequest struct {
	Classes []string `json:"classes,omitempty"`
}

// ParseRangeRequest decodes and validates a range message body. Every field
// must be present with the right kind: a non-empty string class, a
// non-negative integral offset, an integral limit in [1, MaxRangeLimit] and
// an integral job id.
func ParseRangeRequest(body []byte) (RangeRequest, error) {
	payload, err := decodePayload(body)
	if err != nil {
		return RangeRequest{}, err
	}

	var req RangeRequest
	if req.EntityClass, err = stringField(payload, "entityClass"); err != nil {
		return RangeRequest{}, err
	}
	offset, err := intField(payload, "offset")
	if err != nil {
		return RangeRequest{}, err
	}
	limit, err := intField(payload, "limit")
	if err != nil {
		return RangeRequest{}, err
	}
	if req.JobID, err = intField(payload, "jobId"); err != nil {
		return RangeRequest{}, err
	}

	if offset < 0 {
		return RangeRequest{}, fmt.Errorf("%w: offset must not be negative, got %d", ErrInvalidMessage, offset)
	}
	if limit <= 0 {
		return RangeRequest{}, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidMessage, limit)
	}
	if limit > MaxRangeLimit {
		return RangeRequest{}, fmt.Errorf("%w: limit must not exceed %d, got %d", ErrInvalidMessage, MaxRangeLimit, limit)
	}
	if offset > math.MaxInt64-limit {
		return RangeRequest{}, fmt.Errorf("%w: range end overflows, offset %d", ErrInvalidMessage, offset)
	}
	req.Offset = int(offset)
	req.Limit = int(limit)
	return req, nil
}

// ParseTypeRequest decodes and validates a per-class message body
func ParseTypeRequest(body []byte) (TypeRequest, error) {
	payload, err := decodePayload(body)
	if err != nil {
		return TypeRequest{}, err
	}

	var req TypeRequest
	if req.EntityClass, err = stringField(payload, "entityClass"); err != nil {
		return TypeRequest{}, err
	}
	if req.JobID, err = intField(payload, "jobId"); err != nil {
		return TypeRequest{}, err
	}
	return req, nil
}

// ParseReindexRequest decodes a reindex message body. An empty body is a
// request for every class.
func ParseReindexRequest(body []byte) (ReindexRequest, error) {
	var req ReindexRequest
	if len(bytes.TrimSpace(body)) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return ReindexRequest{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	for _, class := range req.Classes {
		if class == "" {
			return ReindexRequest{}, fmt.Errorf("%w: empty class name", ErrInvalidMessage)
		}
	}
	return req, nil
}

// JobIDFromPayload extracts jobId from a body that may otherwise be invalid
func JobIDFromPayload(body []byte) (int64, bool) {
	payload, err := decodePayload(body)
	if err != nil {
		return 0, false
	}
	id, err := intField(payload, "jobId")
	if err != nil {
		return 0, false
	}
	return id, true
}

func decodePayload(body []byte) (map[string]interface{}, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var payload map[string]interface{}
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: body is not an object", ErrInvalidMessage)
	}
	return payload, nil
}

func stringField(payload map[string]interface{}, key string) (string, error) {
	raw, ok := payload[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidMessage, key)
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidMessage, key)
	}
	return value, nil
}

func intField(payload map[string]interface{}, key string) (int64, error) {
	raw, ok := payload[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidMessage, key)
	}
	number, ok := raw.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidMessage, key)
	}
	value, err := number.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidMessage, key)
	}
	return value, nil
}
