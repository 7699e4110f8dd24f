package dataset

import (
	"encoding/json"
	"errors"
	"testing"
)

const splitPayload = `{"columns":["trans_num","amt","category"],"index":[7,8],"data":[["x",12.5,"food"],["y",3,"travel"]]}`

func TestDecodeTabular(t *testing.T) {
	recs, err := DecodeTabular([]byte(splitPayload))
	if err != nil {
		t.Fatalf("DecodeTabular failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].String(ColAmount) != "12.5" || recs[1].String(ColCategory) != "travel" {
		t.Errorf("unexpected records: %v", recs)
	}
}

func TestDecodeTabular_StringWrapped(t *testing.T) {
	wrapped, err := json.Marshal(splitPayload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	recs, err := DecodeTabular(wrapped)
	if err != nil {
		t.Fatalf("DecodeTabular failed: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("got %d records, want 2", len(recs))
	}
}

func TestDecodeTabular_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantEmpty bool
	}{
		{"empty body", "", true},
		{"null", "null", true},
		{"empty string", `""`, true},
		{"no rows", `{"columns":["a"],"index":[],"data":[]}`, true},
		{"not json", `<html>`, false},
		{"wrong shape", `{"columns":"a"}`, false},
		{"ragged row", `{"columns":["a","b"],"index":[0],"data":[[1]]}`, false},
		{"index mismatch", `{"columns":["a"],"index":[0,1],"data":[[1]]}`, false},
		{"no columns", `{"columns":[],"index":[0],"data":[[1]]}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTabular([]byte(tt.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if tt.wantEmpty && !errors.Is(err, ErrEmptyPayload) {
				t.Errorf("error = %v, want ErrEmptyPayload", err)
			}
			if !tt.wantEmpty && !IsMalformedPayload(err) {
				t.Errorf("error = %v, want malformed payload", err)
			}
		})
	}
}
