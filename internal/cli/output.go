package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gmsas95/medtrack/internal/medication"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	alertStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	sectionStyle = lipgloss.NewStyle().MarginTop(1)
)

// print writes v as indented JSON, or as styled text on a terminal
func (rt *runtime) print(cmd *cobra.Command, v any) error {
	w := cmd.OutOrStdout()
	if !rt.textOutput(w) {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	if text, ok := render(v); ok {
		_, err := fmt.Fprintln(w, text)
		return err
	}

	// no dedicated view, YAML reads better than JSON
	b, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func render(v any) (string, bool) {
	switch v := v.(type) {
	case *medication.DayView:
		return renderDay(v), true
	case []medication.Medication:
		return renderMedications(v), true
	case *medication.AdherenceRecord:
		return renderAdherence(*v), true
	case *medication.PatientAdherence:
		parts := []string{renderAdherence(v.Overall)}
		for _, rec := range v.Medications {
			parts = append(parts, sectionStyle.Render(renderAdherence(rec)))
		}
		return strings.Join(parts, "\n"), true
	case *medication.RepairReport:
		return renderRepair(v), true
	case medication.Frequency:
		status := okStyle.Render("recognized")
		if !v.Recognized {
			status = warnStyle.Render("not recognized, using daily")
		}
		return fmt.Sprintf("%s %s\n%s %s", headerStyle.Render(string(v.Code)), status,
			dimStyle.Render("times:"), strings.Join(v.Times, ", ")), true
	}
	return "", false
}

func urgencyStyle(u medication.Urgency) lipgloss.Style {
	switch u {
	case medication.UrgencyOverdue:
		return alertStyle
	case medication.UrgencyNow:
		return warnStyle
	case medication.UrgencyDone:
		return dimStyle
	}
	return lipgloss.NewStyle()
}

func statusMark(s medication.DoseStatus) string {
	switch s {
	case medication.DoseTaken:
		return okStyle.Render("✓")
	case medication.DoseMissed:
		return alertStyle.Render("✗")
	case medication.DoseSkipped:
		return dimStyle.Render("–")
	case medication.DoseRescheduled:
		return dimStyle.Render("→")
	}
	return "○"
}

func renderDay(v *medication.DayView) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s  %s (%s)", v.PatientID, v.Date, v.Timezone)))
	b.WriteString("\n")

	loc, err := time.LoadLocation(v.Timezone)
	if err != nil {
		loc = time.UTC
	}

	for _, bucket := range v.Buckets {
		label := bucket.Label
		if label == "" {
			label = bucket.Name
		}
		head := fmt.Sprintf("%s %s", label, dimStyle.Render(bucket.Time))
		if bucket.Complete && len(bucket.Doses) > 0 {
			head += " " + okStyle.Render("done")
		}
		b.WriteString(sectionStyle.Render(headerStyle.Render(head)))
		b.WriteString("\n")
		if len(bucket.Doses) == 0 {
			b.WriteString(dimStyle.Render("  nothing scheduled"))
			b.WriteString("\n")
		}
		for _, d := range bucket.Doses {
			line := fmt.Sprintf("  %s %s  %s %s", statusMark(d.Status), d.DueAt.In(loc).Format("15:04"), d.MedicationName, d.Dosage)
			if d.Status == medication.DoseScheduled {
				line += "  " + urgencyStyle(d.Urgency).Render(dueIn(d.MinutesUntilDue))
			}
			b.WriteString(line)
			b.WriteString(dimStyle.Render("  " + d.ID))
			b.WriteString("\n")
		}
	}

	if n := len(v.Overdue); n > 0 {
		b.WriteString(sectionStyle.Render(alertStyle.Render(fmt.Sprintf("%d overdue", n))))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func dueIn(minutes int) string {
	switch {
	case minutes < 0:
		return fmt.Sprintf("%d min late", -minutes)
	case minutes == 0:
		return "due now"
	case minutes < 60:
		return fmt.Sprintf("in %d min", minutes)
	}
	return fmt.Sprintf("in %dh%02d", minutes/60, minutes%60)
}

func renderMedications(meds []medication.Medication) string {
	if len(meds) == 0 {
		return dimStyle.Render("No medications")
	}
	var b strings.Builder
	for _, m := range meds {
		kind := string(m.FrequencyCode)
		if m.PRN {
			kind = "as needed"
		}
		status := string(m.Status)
		switch m.Status {
		case medication.StatusActive:
			status = okStyle.Render(status)
		case medication.StatusHeld:
			status = warnStyle.Render(status)
		default:
			status = dimStyle.Render(status)
		}
		fmt.Fprintf(&b, "%s %s  %s  %s\n", headerStyle.Render(m.Name), m.Dosage, dimStyle.Render(kind), status)
		b.WriteString(dimStyle.Render("  " + m.ID))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func riskStyle(r medication.RiskLevel) lipgloss.Style {
	switch r {
	case medication.RiskLow:
		return okStyle
	case medication.RiskMedium:
		return warnStyle
	case medication.RiskHigh, medication.RiskCritical:
		return alertStyle
	}
	return dimStyle
}

func renderAdherence(r medication.AdherenceRecord) string {
	name := r.MedicationName
	if name == "" {
		name = "All medications"
	}
	lines := []string{
		headerStyle.Render(name) + "  " + riskStyle(r.Risk).Render(string(r.Risk)),
		fmt.Sprintf("  adherence %.1f%%  on time %.1f%%", r.AdherenceRate, r.OnTimeRate),
		fmt.Sprintf("  taken %d / %d  missed %d  skipped %d  pending %d", r.Taken, r.Scheduled, r.Missed, r.Skipped, r.Pending),
		fmt.Sprintf("  streak %d days  avg delay %.0f min", r.CurrentStreak, r.AverageDelayMinutes),
	}
	return strings.Join(lines, "\n")
}

func renderRepair(r *medication.RepairReport) string {
	if r.IssuesFound == 0 {
		return okStyle.Render(fmt.Sprintf("%s: no issues", r.PatientID))
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s: %d issues, %d fixed", r.PatientID, r.IssuesFound, r.FixesApplied)))
	for _, issue := range r.Issues {
		mark := okStyle.Render("fixed")
		if !issue.Fixed {
			mark = alertStyle.Render("open")
		}
		fmt.Fprintf(&b, "\n  %s %s %s", mark, issue.Kind, dimStyle.Render(issue.Detail))
	}
	return b.String()
}
