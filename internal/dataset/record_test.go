package dataset

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func sampleRecord() Record {
	return Record{
		"index":               "0",
		ColTransDateTransTime: "2020-06-21 12:14:25",
		ColCCNum:              "2291163933867244",
		ColMerchant:           "fraud_Kirlin and Sons",
		ColCategory:           "personal_care",
		ColAmount:             "2.86",
		ColFirst:              "Jeff",
		ColLast:               "Elliott",
		ColGender:             "M",
		ColStreet:             "351 Darlene Green",
		ColCity:               "Columbia",
		ColState:              "SC",
		ColZip:                "29209",
		ColLat:                "33.9659",
		ColLong:               "-80.9355",
		ColCityPop:            "333497",
		ColJob:                "Mechanical engineer",
		ColDOB:                "1968-03-19",
		ColTransNum:           "2da90c7d74bd46a0caf3777415b3ebd3",
		ColUnixTime:           "1371816865",
		ColMerchLat:           "33.986391",
		ColMerchLong:          "-81.200714",
		ColIsFraud:            "0",
		ColCurrentTime:        "2020-06-21 12:14:25",
	}
}

func TestToTransaction(t *testing.T) {
	tx, err := ToTransaction(sampleRecord())
	if err != nil {
		t.Fatalf("ToTransaction failed: %v", err)
	}

	if tx.TransNum != "2da90c7d74bd46a0caf3777415b3ebd3" {
		t.Errorf("TransNum = %q", tx.TransNum)
	}
	if tx.Amount.StringFixed(2) != "2.86" {
		t.Errorf("Amount = %s, want 2.86", tx.Amount)
	}
	if tx.CityPop != 333497 {
		t.Errorf("CityPop = %d, want 333497", tx.CityPop)
	}
	if tx.IsFraud == nil || *tx.IsFraud != 0 {
		t.Errorf("IsFraud = %v, want 0", tx.IsFraud)
	}
	want := time.Date(2020, 6, 21, 12, 14, 25, 0, time.UTC)
	if tx.CurrentTime == nil || !tx.CurrentTime.Equal(want) {
		t.Errorf("CurrentTime = %v, want %v", tx.CurrentTime, want)
	}

	var raw map[string]any
	if err := json.Unmarshal(tx.Raw, &raw); err != nil {
		t.Fatalf("Raw is not valid JSON: %v", err)
	}
	if raw[ColJob] != "Mechanical engineer" {
		t.Errorf("Raw lost column job: %v", raw)
	}
}

func TestToTransaction_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(Record)
		wantErr error
	}{
		{"missing amount", func(r Record) { delete(r, ColAmount) }, errMissingColumn},
		{"bad amount", func(r Record) { r[ColAmount] = "abc" }, errInvalidValue},
		{"fractional city_pop", func(r Record) { r[ColCityPop] = "12.5" }, errInvalidValue},
		{"bad current_time", func(r Record) { r[ColCurrentTime] = "yesterday" }, errInvalidTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord()
			tt.mutate(rec)
			if _, err := ToTransaction(rec); !errors.Is(err, tt.wantErr) {
				t.Errorf("ToTransaction error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestToTransaction_JSONNumbers(t *testing.T) {
	rec := Record{
		ColAmount:      json.Number("105.2"),
		ColCityPop:     json.Number("1234.0"),
		ColCCNum:       json.Number("4653879239169997"),
		ColCurrentTime: json.Number("1718445600000"),
		ColIsFraud:     nil,
	}

	tx, err := ToTransaction(rec)
	if err != nil {
		t.Fatalf("ToTransaction failed: %v", err)
	}
	if tx.CityPop != 1234 {
		t.Errorf("CityPop = %d, want 1234", tx.CityPop)
	}
	if tx.CCNum != "4653879239169997" {
		t.Errorf("CCNum = %q, card numbers must keep every digit", tx.CCNum)
	}
	if tx.IsFraud != nil {
		t.Errorf("IsFraud = %v, want nil for null label", *tx.IsFraud)
	}
	want := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	if tx.CurrentTime == nil || !tx.CurrentTime.Equal(want) {
		t.Errorf("CurrentTime = %v, want %v", tx.CurrentTime, want)
	}
	if !strings.HasPrefix(tx.TransNum, "h:") {
		t.Errorf("TransNum = %q, want hashed key when trans_num is absent", tx.TransNum)
	}
}

func TestNaturalKey_Deterministic(t *testing.T) {
	a := Record{ColCCNum: "1", ColMerchant: "m", ColAmount: "9.99", ColUnixTime: "100"}
	b := Record{ColCCNum: "1", ColMerchant: "m", ColAmount: "9.99", ColUnixTime: "100", ColJob: "x"}
	c := Record{ColCCNum: "1", ColMerchant: "m", ColAmount: "9.99", ColUnixTime: "101"}

	if NaturalKey(a) != NaturalKey(b) {
		t.Errorf("keys differ for the same transaction")
	}
	if NaturalKey(a) == NaturalKey(c) {
		t.Errorf("keys collide for different transactions")
	}
}

func TestNaturalKey_CanonicalAmount(t *testing.T) {
	fromCSV := Record{ColCCNum: "1", ColMerchant: "m", ColAmount: "12.50", ColUnixTime: "1371816865"}
	fromFeed := Record{ColCCNum: "1", ColMerchant: "m", ColAmount: "12.5", ColUnixTime: "1371816865.0"}

	if NaturalKey(fromCSV) != NaturalKey(fromFeed) {
		t.Errorf("the same transaction hashes differently across sources")
	}
	if other := (Record{ColCCNum: "1", ColMerchant: "m", ColAmount: "12.51", ColUnixTime: "1371816865"}); NaturalKey(other) == NaturalKey(fromCSV) {
		t.Errorf("different amounts share a key")
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2020, 6, 21, 12, 14, 25, 0, time.UTC)
	inputs := []string{
		"2020-06-21 12:14:25",
		"2020-06-21T12:14:25",
		"2020-06-21T12:14:25Z",
		"2020-06-21T14:14:25+02:00",
		"1592741665",
		"1592741665000",
	}

	for _, in := range inputs {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Errorf("ParseTimestamp(%q) failed: %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseTimestamp("21/06/2020"); err == nil {
		t.Errorf("expected error for unsupported layout")
	}
}

func TestEventTime_Fallbacks(t *testing.T) {
	tx, err := ToTransaction(Record{ColAmount: "1", ColTransDateTransTime: "2020-06-21 12:14:25"})
	if err != nil {
		t.Fatalf("ToTransaction failed: %v", err)
	}
	got, ok := EventTime(tx)
	if !ok || got.Hour() != 12 {
		t.Errorf("EventTime = %v, %v; want trans_date_trans_time fallback", got, ok)
	}

	tx, _ = ToTransaction(Record{ColAmount: "1", ColUnixTime: "1592741665"})
	if got, ok := EventTime(tx); !ok || got.Year() != 2020 {
		t.Errorf("EventTime = %v, %v; want unix_time fallback", got, ok)
	}

	tx, _ = ToTransaction(Record{ColAmount: "1"})
	if _, ok := EventTime(tx); ok {
		t.Errorf("EventTime should report no time for a row without time columns")
	}
}
