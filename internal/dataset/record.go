// Package dataset turns raw transaction rows, from CSV files or from the transactions feed,
// into typed transaction fields.
package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fraud-detection-pipeline/internal/models"
)

// Column names of the source data.
const (
	ColTransNum           = "trans_num"
	ColCCNum              = "cc_num"
	ColMerchant           = "merchant"
	ColCategory           = "category"
	ColAmount             = "amt"
	ColFirst              = "first"
	ColLast               = "last"
	ColGender             = "gender"
	ColStreet             = "street"
	ColCity               = "city"
	ColState              = "state"
	ColZip                = "zip"
	ColLat                = "lat"
	ColLong               = "long"
	ColCityPop            = "city_pop"
	ColJob                = "job"
	ColDOB                = "dob"
	ColUnixTime           = "unix_time"
	ColMerchLat           = "merch_lat"
	ColMerchLong          = "merch_long"
	ColTransDateTransTime = "trans_date_trans_time"
	ColCurrentTime        = "current_time"
	ColIsFraud            = "is_fraud"
)

var errMissingColumn = errors.New("missing required column")
var errInvalidValue = errors.New("invalid value")
var errInvalidTimestamp = errors.New("unrecognised timestamp")

// MissingColumnError reports a required column absent from a row.
func MissingColumnError(column string) error {
	return fmt.Errorf("%w, %s", errMissingColumn, column)
}

// InvalidValueError reports a value that cannot be converted to the column's type.
func InvalidValueError(column string, value any) error {
	return fmt.Errorf("%w, %s=%v", errInvalidValue, column, value)
}

// Record is one raw row keyed by column name. CSV rows hold strings; feed rows hold the
// decoded JSON values (json.Number, string, bool or nil).
type Record map[string]any

// String returns the value of key as a trimmed string, "" when absent or null.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Float returns the value of key as a float64. ok is false when the value is absent or empty.
func (r Record) Float(key string) (float64, bool, error) {
	s := r.String(key)
	if s == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, InvalidValueError(key, s)
	}
	return f, true, nil
}

// Int returns the value of key as an int64, accepting integral floats such as "1234.0".
func (r Record) Int(key string) (int64, bool, error) {
	s := r.String(key)
	if s == "" {
		return 0, false, nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, false, InvalidValueError(key, s)
	}
	return int64(f), true, nil
}

// ToTransaction converts a raw record to typed transaction fields. amt is the only required
// column; other malformed numeric columns are reported as errors so the row can be skipped.
func ToTransaction(r Record) (models.TransactionFields, error) {
	var tx models.TransactionFields

	amtStr := r.String(ColAmount)
	if amtStr == "" {
		return tx, MissingColumnError(ColAmount)
	}
	amount, err := decimal.NewFromString(amtStr)
	if err != nil {
		return tx, InvalidValueError(ColAmount, amtStr)
	}

	tx = models.TransactionFields{
		TransNum:           NaturalKey(r),
		CCNum:              r.String(ColCCNum),
		Merchant:           r.String(ColMerchant),
		Category:           r.String(ColCategory),
		Amount:             amount,
		FirstName:          r.String(ColFirst),
		LastName:           r.String(ColLast),
		Gender:             r.String(ColGender),
		Street:             r.String(ColStreet),
		City:               r.String(ColCity),
		State:              r.String(ColState),
		Zip:                r.String(ColZip),
		Job:                r.String(ColJob),
		DOB:                r.String(ColDOB),
		TransDateTransTime: r.String(ColTransDateTransTime),
	}

	floats := []struct {
		col string
		dst *float64
	}{
		{ColLat, &tx.Lat},
		{ColLong, &tx.Long},
		{ColMerchLat, &tx.MerchLat},
		{ColMerchLong, &tx.MerchLong},
	}
	for _, f := range floats {
		if *f.dst, _, err = r.Float(f.col); err != nil {
			return tx, err
		}
	}

	if tx.CityPop, _, err = r.Int(ColCityPop); err != nil {
		return tx, err
	}
	if tx.UnixTime, _, err = r.Int(ColUnixTime); err != nil {
		return tx, err
	}

	if s := r.String(ColCurrentTime); s != "" {
		ts, err := ParseTimestamp(s)
		if err != nil {
			return tx, err
		}
		tx.CurrentTime = &ts
	}

	label, ok, err := r.Int(ColIsFraud)
	if err != nil {
		return tx, err
	}
	if ok {
		flag := int(label)
		tx.IsFraud = &flag
	}

	raw, err := json.Marshal(r)
	if err != nil {
		return tx, fmt.Errorf("failed to encode raw record: %w", err)
	}
	tx.Raw = raw

	return tx, nil
}

// NaturalKey identifies a transaction across ingestion passes: trans_num when present,
// otherwise a hash of the card, merchant, amount and the first available time column.
func NaturalKey(r Record) string {
	if key := r.String(ColTransNum); key != "" {
		return key
	}

	when := r.String(ColUnixTime)
	if epoch, ok, err := r.Int(ColUnixTime); ok && err == nil {
		when = strconv.FormatInt(epoch, 10)
	}
	if when == "" {
		when = r.String(ColCurrentTime)
	}
	if when == "" {
		when = r.String(ColTransDateTransTime)
	}

	// Amounts are hashed in canonical form: CSV "12.50" and JSON 12.5 are the same transaction.
	amt := r.String(ColAmount)
	if d, err := decimal.NewFromString(amt); err == nil {
		amt = d.String()
	}

	sum := sha256.Sum256([]byte(strings.Join([]string{
		r.String(ColCCNum),
		r.String(ColMerchant),
		amt,
		when,
	}, "\x1f")))

	return "h:" + hex.EncodeToString(sum[:])
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp accepts the textual layouts seen in the CSV exports and numeric epochs.
// Epoch values above 1e11 are taken as milliseconds, otherwise seconds. Results are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w, empty", errInvalidTimestamp)
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.Abs(f) > 1e11 {
			return time.UnixMilli(int64(f)).UTC(), nil
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w, %s", errInvalidTimestamp, s)
}

// EventTime is the time a transaction happened: current_time, then trans_date_trans_time,
// then unix_time. ok is false when none is usable.
func EventTime(tx models.TransactionFields) (time.Time, bool) {
	if tx.CurrentTime != nil {
		return *tx.CurrentTime, true
	}
	if tx.TransDateTransTime != "" {
		if t, err := ParseTimestamp(tx.TransDateTransTime); err == nil {
			return t, true
		}
	}
	if tx.UnixTime != 0 {
		return time.Unix(tx.UnixTime, 0).UTC(), true
	}
	return time.Time{}, false
}
