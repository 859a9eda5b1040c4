package api

import (
	"encoding/json"
	"time"

	"github.com/gmsas95/medtrack/internal/medication"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type normalizeRequest struct {
	Text string `json:"text"`
}

type generateRequest struct {
	Code      medication.FrequencyCode `json:"code"`
	Times     []string                 `json:"times"`
	StartDate time.Time                `json:"start_date"`
	Days      int                      `json:"days"`
}

type remindersRequest struct {
	Enabled bool `json:"enabled"`
}

type takeRequest struct {
	TakenAt *time.Time `json:"taken_at"`
}

type skipRequest struct {
	Reason medication.SkipReason `json:"reason"`
	Notes  string                `json:"notes"`
}

type snoozeRequest struct {
	Minutes int    `json:"minutes"`
	Reason  string `json:"reason"`
}

type rescheduleRequest struct {
	NewTime time.Time `json:"new_time"`
	Reason  string    `json:"reason"`
	OneTime bool      `json:"one_time"`
}

// statusRequest carries the payload raw until its type is known
type statusRequest struct {
	Type    medication.ChangeType `json:"type"`
	Payload json.RawMessage       `json:"payload"`
	Note    string                `json:"note"`
}

type prnRequest struct {
	TakenAt  *time.Time `json:"taken_at"`
	Quantity int        `json:"quantity"`
	Notes    string     `json:"notes"`
}

type importRequest struct {
	Records []medication.SourceRecord `json:"records"`
}

type takeResponse struct {
	Event   *medication.DoseEvent `json:"event"`
	Changed bool                  `json:"changed"`
}
