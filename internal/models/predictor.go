package models

import "time"

// PredictionFunction is a user's registered demand model.
// Source is stored verbatim and only compiled at estimation time.
type PredictionFunction struct {
	Username  string    `json:"username" yaml:"owner"`
	Source    string    `json:"source" yaml:"source"`
	Revision  string    `json:"revision" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}
