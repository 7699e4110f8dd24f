package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyPayload is returned when a tabular payload holds no rows.
var ErrEmptyPayload = errors.New("payload contains no rows")

var errMalformedPayload = errors.New("malformed tabular payload")

// MalformedPayloadError wraps a description of what is wrong with a payload.
func MalformedPayloadError(reason string) error {
	return fmt.Errorf("%w, %s", errMalformedPayload, reason)
}

// IsMalformedPayload reports whether err came from DecodeTabular rejecting its input.
func IsMalformedPayload(err error) bool {
	return errors.Is(err, errMalformedPayload)
}

// Tabular is a data frame serialised in pandas "split" orientation.
type Tabular struct {
	Columns []string          `json:"columns"`
	Index   []json.RawMessage `json:"index"`
	Data    [][]any           `json:"data"`
}

// DecodeTabular decodes a split-orientation payload into records. The feed sometimes wraps
// the object in a JSON string, so a string body is decoded a second time.
func DecodeTabular(body []byte) ([]Record, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrEmptyPayload
	}

	if body[0] == '"' {
		var inner string
		if err := json.Unmarshal(body, &inner); err != nil {
			return nil, MalformedPayloadError(err.Error())
		}
		body = bytes.TrimSpace([]byte(inner))
	}

	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, ErrEmptyPayload
	}

	var t Tabular
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&t); err != nil {
		return nil, MalformedPayloadError(err.Error())
	}

	return t.Records()
}

// Records reconstructs one record per data row.
func (t Tabular) Records() ([]Record, error) {
	if len(t.Columns) == 0 {
		if len(t.Data) == 0 {
			return nil, ErrEmptyPayload
		}
		return nil, MalformedPayloadError("no columns")
	}
	if len(t.Data) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(t.Index) != 0 && len(t.Index) != len(t.Data) {
		return nil, MalformedPayloadError(fmt.Sprintf("index has %d entries for %d rows", len(t.Index), len(t.Data)))
	}

	records := make([]Record, 0, len(t.Data))
	for i, row := range t.Data {
		if len(row) != len(t.Columns) {
			return nil, MalformedPayloadError(fmt.Sprintf("row %d has %d values for %d columns", i, len(row), len(t.Columns)))
		}
		rec := make(Record, len(t.Columns))
		for j, col := range t.Columns {
			rec[col] = row[j]
		}
		records = append(records, rec)
	}

	return records, nil
}
