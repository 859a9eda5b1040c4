package medication

import (
	"strings"
	"time"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/security"
)

// maxOverlapDays bounds how long a replaced medication keeps its schedule
const maxOverlapDays = 90

var statusAfter = map[ChangeType]MedicationStatus{
	ChangeHold:        StatusHeld,
	ChangeResume:      StatusActive,
	ChangeDiscontinue: StatusDiscontinued,
	ChangeReplace:     StatusReplaced,
}

// NextStatus applies the medication state machine:
//
//	active -> held | discontinued | replaced
//	held   -> active | discontinued | replaced
//
// Discontinued and replaced are terminal.
func NextStatus(current MedicationStatus, change ChangeType) (MedicationStatus, error) {
	next, ok := statusAfter[change]
	if !ok {
		return "", apperrors.Validation("change_type", "unknown change type "+string(change))
	}
	if current.Terminal() {
		return "", apperrors.Conflict("medication is %s; no further status changes are allowed", current)
	}
	switch change {
	case ChangeHold:
		if current != StatusActive {
			return "", apperrors.Conflict("only an active medication can be held (status is %s)", current)
		}
	case ChangeResume:
		if current != StatusHeld {
			return "", apperrors.Conflict("only a held medication can be resumed (status is %s)", current)
		}
	}
	return next, nil
}

// DeriveStatus returns the status implied by an ordered change log: the
// type of the latest change, or active for an empty log. A hold whose
// auto-resume date has passed derives as active before any resume record
// has been written.
func DeriveStatus(changes []StatusChange, now time.Time) MedicationStatus {
	if len(changes) == 0 {
		return StatusActive
	}
	last := changes[len(changes)-1]
	if hold, ok := last.Payload.(HoldPayload); ok {
		if hold.AutoResume && hold.Until != nil && !now.Before(*hold.Until) {
			return StatusActive
		}
	}
	return statusAfter[last.Type]
}

// validatePayload rejects malformed payloads before anything is written
func validatePayload(p StatusPayload, now time.Time) error {
	if p == nil {
		return apperrors.Validation("payload", "a status change payload is required")
	}
	if strings.TrimSpace(p.GetReason()) == "" {
		return apperrors.Validation("reason", "a reason is required")
	}
	if err := security.ValidateShortText("reason", p.GetReason()); err != nil {
		return err
	}

	switch v := p.(type) {
	case HoldPayload:
		if v.Until != nil && !v.Until.After(now) {
			return apperrors.Validation("until", "must be in the future")
		}
		if v.AutoResume && v.Until == nil {
			return apperrors.Validation("auto_resume", "requires an until date")
		}
	case DiscontinuePayload:
	case ResumePayload:
	case ReplacePayload:
		if v.OverlapDays < 0 || v.OverlapDays > maxOverlapDays {
			return apperrors.Validation("overlap_days", "must be between 0 and 90")
		}
		if v.ReplacementMedicationID != "" && v.Replacement != nil {
			return apperrors.Validation("replacement", "give either a replacement id or a new medication, not both")
		}
	default:
		return apperrors.Validation("payload", "unsupported payload type")
	}
	return nil
}

// scheduleEndFor returns the exclusive end instant that a terminal change
// writes onto the medication's schedules.
func scheduleEndFor(p StatusPayload, now time.Time) (time.Time, bool) {
	switch v := p.(type) {
	case DiscontinuePayload:
		if v.StopDate != nil && v.StopDate.After(now) {
			return normalizeTime(*v.StopDate), true
		}
		return now, true
	case ReplacePayload:
		return now.AddDate(0, 0, v.OverlapDays), true
	}
	return time.Time{}, false
}
