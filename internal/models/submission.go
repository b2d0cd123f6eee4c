package models

import (
	"strconv"
	"time"
)

// PriceRow is one line of an uploaded price list
type PriceRow struct {
	ProductID string `json:"product_id"`
	Price     int    `json:"price"`
}

// Fields returns the row as CSV fields
func (r PriceRow) Fields() []string {
	return []string{r.ProductID, strconv.Itoa(r.Price)}
}

// DemandRow is the estimated number of units sold for one product
type DemandRow struct {
	ProductID string `json:"product_id"`
	Demand    int    `json:"demand"`
}

// Fields returns the row as CSV fields
func (r DemandRow) Fields() []string {
	return []string{r.ProductID, strconv.Itoa(r.Demand)}
}

// SubmissionRecord is an append-only record of one scored upload
type SubmissionRecord struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	CreatedAt      time.Time `json:"created_at"`
	SubmissionText string    `json:"-"`
	DemandText     string    `json:"-"`
	Score          float64   `json:"score"`
}

// SubmissionSummary is a history entry as shown to its owner.
// Index is the 1-based recency position used for downloads.
type SubmissionSummary struct {
	Index     int       `json:"index"`
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Score     float64   `json:"score"`
}

// LeaderboardEntry is the latest score of one user
type LeaderboardEntry struct {
	Rank         int       `json:"rank" msgpack:"rank"`
	Username     string    `json:"username" msgpack:"username"`
	Score        float64   `json:"score" msgpack:"score"`
	SubmissionID int64     `json:"submission_id" msgpack:"submission_id"`
	SubmittedAt  time.Time `json:"submitted_at" msgpack:"submitted_at"`
}

// ArtifactKind selects which stored text of a submission to serve
type ArtifactKind string

const (
	ArtifactPrices  ArtifactKind = "prices"
	ArtifactDemands ArtifactKind = "demands"
)

// ScoreEvent is published whenever a new submission is recorded
type ScoreEvent struct {
	Username     string    `json:"username" msgpack:"username"`
	SubmissionID int64     `json:"submission_id" msgpack:"submission_id"`
	Score        float64   `json:"score" msgpack:"score"`
	SubmittedAt  time.Time `json:"submitted_at" msgpack:"submitted_at"`
}

// SubmitResponse is returned after a price list has been scored
type SubmitResponse struct {
	ID         int64     `json:"id,omitempty"`
	Score      float64   `json:"score"`
	CreatedAt  time.Time `json:"created_at"`
	Persisted  bool      `json:"persisted"`
	DemandText string    `json:"demand_csv"`
}
