package record

import (
	"fmt"
	"strings"
)

// Reserved separators in cache keys. Kinds and ids must not contain them.
const (
	RecordSeparator     = ":"
	CollectionSeparator = "#"
)

// Record is a domain value identified by (Kind, ID).
// ID is immutable once the record has been created.
type Record struct {
	Kind    string
	ID      string
	Payload Object
}

// New builds a record.
func New(kind, id string, payload Object) Record {
	return Record{Kind: kind, ID: id, Payload: payload}
}

// Key returns the single-record cache key "{kind}:{id}".
func (r Record) Key() string {
	return Key(r.Kind, r.ID)
}

// Encode serializes the payload to canonical JSON text.
func (r Record) Encode() (string, error) {
	return EncodePayload(r.Payload)
}

// Key returns "{kind}:{id}".
func Key(kind, id string) string {
	return kind + RecordSeparator + id
}

// CollectionKey returns "{kind}#{name}" for a materialized collection.
func CollectionKey(kind, name string) string {
	return kind + CollectionSeparator + name
}

// ValidateName checks that a kind, id or collection name is non-empty ASCII
// without reserved separators.
func ValidateName(field, s string) error {
	if s == "" {
		return fmt.Errorf("%s is empty", field)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x21 || c > 0x7e {
			return fmt.Errorf("%s %q contains a non-printable or non-ASCII byte", field, s)
		}
	}
	if strings.ContainsAny(s, RecordSeparator+CollectionSeparator) {
		return fmt.Errorf("%s %q contains a reserved character (%q or %q)", field, s, RecordSeparator, CollectionSeparator)
	}
	return nil
}

// EncodePayload serializes a payload. A nil payload encodes as "{}".
func EncodePayload(p Object) (string, error) {
	if p == nil {
		return "{}", nil
	}
	data, err := Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload parses payload text produced by EncodePayload.
func DecodePayload(text string) (Object, error) {
	v, err := Unmarshal([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	obj, ok := v.(Object)
	if !ok {
		return nil, fmt.Errorf("decode payload: expected object, got %T", v)
	}
	return obj, nil
}

// EncodeRecords serializes records of a single kind as a canonical JSON array
// of {"id", "payload"} objects.
func EncodeRecords(recs []Record) (string, error) {
	arr := make(Array, len(recs))
	for i, r := range recs {
		payload := r.Payload
		if payload == nil {
			payload = Object{}
		}
		arr[i] = Object{"id": String(r.ID), "payload": payload}
	}
	data, err := Marshal(arr)
	if err != nil {
		return "", fmt.Errorf("encode records: %w", err)
	}
	return string(data), nil
}

// DecodeRecords parses the output of EncodeRecords back into records of kind.
func DecodeRecords(kind, text string) ([]Record, error) {
	v, err := Unmarshal([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	arr, ok := v.(Array)
	if !ok {
		return nil, fmt.Errorf("decode records: expected array, got %T", v)
	}

	recs := make([]Record, 0, len(arr))
	for i, elem := range arr {
		obj, ok := elem.(Object)
		if !ok {
			return nil, fmt.Errorf("decode records: [%d] is %T", i, elem)
		}
		id, ok := obj["id"].(String)
		if !ok {
			return nil, fmt.Errorf("decode records: [%d] missing id", i)
		}
		payload, ok := obj["payload"].(Object)
		if !ok {
			return nil, fmt.Errorf("decode records: [%d] missing payload", i)
		}
		recs = append(recs, Record{Kind: kind, ID: string(id), Payload: payload})
	}
	return recs, nil
}
