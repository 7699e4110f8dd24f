package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Row sources.
const (
	SourceCSV = "csv"
	SourceAPI = "api"
)

// TransactionFields are the columns shared by all_transactions and fraud_predictions.
type TransactionFields struct {
	TransNum           string          `gorm:"column:trans_num;uniqueIndex;size:128" json:"trans_num"`
	CCNum              string          `gorm:"column:cc_num" json:"cc_num"`
	Merchant           string          `gorm:"column:merchant;index" json:"merchant"`
	Category           string          `gorm:"column:category;index" json:"category"`
	Amount             decimal.Decimal `gorm:"column:amt;type:numeric(12,2)" json:"amt"`
	FirstName          string          `gorm:"column:first" json:"first"`
	LastName           string          `gorm:"column:last" json:"last"`
	Gender             string          `gorm:"column:gender;size:8" json:"gender"`
	Street             string          `gorm:"column:street" json:"street"`
	City               string          `gorm:"column:city" json:"city"`
	State              string          `gorm:"column:state;size:8" json:"state"`
	Zip                string          `gorm:"column:zip;size:16" json:"zip"`
	Lat                float64         `gorm:"column:lat" json:"lat"`
	Long               float64         `gorm:"column:long" json:"long"`
	CityPop            int64           `gorm:"column:city_pop" json:"city_pop"`
	Job                string          `gorm:"column:job" json:"job"`
	DOB                string          `gorm:"column:dob" json:"dob"`
	UnixTime           int64           `gorm:"column:unix_time" json:"unix_time"`
	MerchLat           float64         `gorm:"column:merch_lat" json:"merch_lat"`
	MerchLong          float64         `gorm:"column:merch_long" json:"merch_long"`
	TransDateTransTime string          `gorm:"column:trans_date_trans_time" json:"trans_date_trans_time"`
	CurrentTime        *time.Time      `gorm:"column:current_time" json:"current_time"`
	IsFraud            *int            `gorm:"column:is_fraud" json:"is_fraud"`
	Raw                datatypes.JSON  `gorm:"column:raw" json:"raw"`
}

// AllTransaction is a row of all_transactions: every ingested transaction, scored or not.
type AllTransaction struct {
	ID uint `gorm:"primaryKey" json:"id"`
	TransactionFields
	IsFraudPredicted   *int      `gorm:"column:is_fraud_predicted" json:"is_fraud_predicted"`
	FraudProbability   *float64  `gorm:"column:fraud_probability" json:"fraud_probability"`
	ModelVersion       string    `gorm:"column:model_version" json:"model_version,omitempty"`
	Source             string    `gorm:"column:source;size:8;index" json:"source"`
	DetectionTimestamp time.Time `gorm:"column:detection_timestamp;index" json:"detection_timestamp"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName overrides the gorm default.
func (AllTransaction) TableName() string { return "all_transactions" }

// FraudPrediction is a row of fraud_predictions: a transaction flagged as fraud.
type FraudPrediction struct {
	ID uint `gorm:"primaryKey" json:"id"`
	TransactionFields
	IsFraudPredicted   int       `gorm:"column:is_fraud_predicted" json:"is_fraud_predicted"`
	FraudProbability   *float64  `gorm:"column:fraud_probability" json:"fraud_probability"`
	ModelVersion       string    `gorm:"column:model_version" json:"model_version,omitempty"`
	Source             string    `gorm:"column:source;size:8" json:"source"`
	DetectionTimestamp time.Time `gorm:"column:detection_timestamp;index" json:"detection_timestamp"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName overrides the gorm default.
func (FraudPrediction) TableName() string { return "fraud_predictions" }

// Prediction is a scored transaction before it is split across the two tables.
type Prediction struct {
	TransactionFields
	IsFraudPredicted   int
	FraudProbability   *float64
	ModelVersion       string
	Source             string
	DetectionTimestamp time.Time
}

// AllTransaction converts the prediction to its all_transactions row.
func (p Prediction) AllTransaction() AllTransaction {
	flag := p.IsFraudPredicted
	return AllTransaction{
		TransactionFields:  p.TransactionFields,
		IsFraudPredicted:   &flag,
		FraudProbability:   p.FraudProbability,
		ModelVersion:       p.ModelVersion,
		Source:             p.Source,
		DetectionTimestamp: p.DetectionTimestamp,
	}
}

// FraudPrediction converts the prediction to its fraud_predictions row.
func (p Prediction) FraudPrediction() FraudPrediction {
	return FraudPrediction{
		TransactionFields:  p.TransactionFields,
		IsFraudPredicted:   p.IsFraudPredicted,
		FraudProbability:   p.FraudProbability,
		ModelVersion:       p.ModelVersion,
		Source:             p.Source,
		DetectionTimestamp: p.DetectionTimestamp,
	}
}
