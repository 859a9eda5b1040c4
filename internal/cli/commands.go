package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/gmsas95/medtrack/internal/app"
	"github.com/gmsas95/medtrack/internal/medication"
	"github.com/gmsas95/medtrack/internal/onboarding"
	"github.com/gmsas95/medtrack/internal/security"
)

// withApp opens the application for one command and closes it afterwards
func (rt *runtime) withApp(fn func(cmd *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := rt.open(false)
		if err != nil {
			return err
		}
		defer rt.close()
		return fn(cmd, a, args)
	}
}

// parseWhen accepts RFC3339, a date, a local HH:MM today, or "now"
func parseWhen(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return time.Time{}, nil
	case "now":
		return time.Now(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	if minutes, err := medication.ParseClock(s); err == nil {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), minutes/60, minutes%60, 0, 0, time.Local), nil
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q (want RFC3339, YYYY-MM-DD, HH:MM or now)", s)
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func requirePatient(patient string) error {
	if patient == "" {
		return fmt.Errorf("--patient is required")
	}
	return nil
}

func serveCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the background sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.open(true)
			if err != nil {
				return err
			}
			defer rt.close()

			a.Logger.Info("Starting medtrack", zap.String("version", Version))
			return a.RunServer()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "medtrack version %s\n", Version)
		},
	}
}

func infoCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rt.loadConfig(false)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			s := cfg.Schedule

			fmt.Fprintln(w, "medtrack Status")
			fmt.Fprintln(w, "===============")
			fmt.Fprintln(w)
			fmt.Fprintf(w, "Version: %s\n", Version)
			fmt.Fprintf(w, "Data:    %s\n", cfg.Storage.DataDir)
			fmt.Fprintf(w, "Storage: %s\n", cfg.Storage.Driver)
			if cfg.Storage.Driver == "postgres" {
				fmt.Fprintf(w, "DSN:     %s\n", security.Redact(cfg.Storage.PostgresDSN))
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Server:")
			fmt.Fprintf(w, "  Address: %s\n", cfg.ListenAddr())
			fmt.Fprintf(w, "  Login:   %s\n", enabledText(cfg.Security.AdminPassword != ""))
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Schedule:")
			fmt.Fprintf(w, "  Timezone:       %s\n", s.Timezone)
			fmt.Fprintf(w, "  Missed after:   %d min\n", s.MissedGraceMinutes)
			fmt.Fprintf(w, "  On time within: %d min\n", s.OnTimeToleranceMinutes)
			fmt.Fprintf(w, "  Rolling window: %d days\n", s.RollingWindowDays)
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Buckets:")
			for _, b := range cfg.Buckets {
				fmt.Fprintf(w, "  %s  %s (%s)\n", b.Time, b.Label, b.Name)
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "Sweep: %s (%s)\n", enabledText(cfg.Cron.Enabled), cfg.Cron.Spec)
			return nil
		},
	}
}

func enabledText(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func initCmd(rt *runtime) *cobra.Command {
	var (
		envPath string
		yes     bool
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file and secrets interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if yes {
				in = strings.NewReader("")
			}
			w := onboarding.NewWizard(in, cmd.OutOrStdout(), zap.NewNop(), rt.dataDir, rt.configPath, envPath)
			w.Force = force
			_, err := w.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&envPath, "env", "", "Where to write the .env file (default ~/.config/medtrack/.env)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Accept every default")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func normalizeCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <frequency text>",
		Short: "Map free-text frequency to a canonical code and default times",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := medication.NewNormalizer(zap.NewNop())
			return rt.print(cmd, n.Normalize(strings.Join(args, " ")))
		},
	}
}

func addCmd(rt *runtime) *cobra.Command {
	var (
		in          medication.NewMedication
		times       string
		start, end  string
		noReminders bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a medication",
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			in.Times = splitList(times)
			in.RemindersEnabled = !noReminders && !in.PRN
			if t, err := parseWhen(start); err != nil {
				return err
			} else if !t.IsZero() {
				in.StartDate = &t
			}
			if t, err := parseWhen(end); err != nil {
				return err
			} else if !t.IsZero() {
				in.EndDate = &t
			}

			med, err := a.Service.CreateMedication(cmd.Context(), in)
			if err != nil {
				return err
			}
			return rt.print(cmd, med)
		}),
	}
	f := cmd.Flags()
	f.StringVar(&in.PatientID, "patient", "", "Patient ID")
	f.StringVar(&in.Name, "name", "", "Medication name")
	f.StringVar(&in.Dosage, "dosage", "", "Dosage, e.g. 10mg")
	f.StringVar(&in.Frequency, "frequency", "once daily", "Frequency text, e.g. \"twice daily\" or \"q8h\"")
	f.StringVar(&times, "times", "", "Comma-separated HH:MM times overriding the defaults")
	f.BoolVar(&in.PRN, "prn", false, "Take as needed")
	f.IntVar(&in.MaxDailyDoses, "max-daily", 0, "Maximum as-needed doses in 24 hours")
	f.BoolVar(&noReminders, "no-reminders", false, "Do not generate dose events")
	f.StringVar(&in.Instructions, "instructions", "", "Free-text instructions")
	f.StringVar(&start, "start", "", "First day")
	f.StringVar(&end, "end", "", "Last day")
	return cmd
}

func listCmd(rt *runtime) *cobra.Command {
	var (
		patient string
		all     bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a patient's medications",
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			if err := requirePatient(patient); err != nil {
				return err
			}
			meds, err := a.Service.ListMedications(cmd.Context(), patient, all)
			if err != nil {
				return err
			}
			return rt.print(cmd, meds)
		}),
	}
	cmd.Flags().StringVar(&patient, "patient", "", "Patient ID")
	cmd.Flags().BoolVar(&all, "all", false, "Include discontinued and replaced medications")
	return cmd
}

func showCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "show <medication-id>",
		Short: "Show a medication with its schedules and status history",
		Args:  cobra.ExactArgs(1),
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			ctx := cmd.Context()
			med, err := a.Service.GetMedication(ctx, args[0])
			if err != nil {
				return err
			}
			scheds, err := a.Service.Schedules(ctx, med.ID)
			if err != nil {
				return err
			}
			history, err := a.Service.StatusHistory(ctx, med.ID)
			if err != nil {
				return err
			}
			return rt.print(cmd, map[string]any{
				"medication": med,
				"schedules":  scheds,
				"history":    history,
			})
		}),
	}
}

func generateCmd(rt *runtime) *cobra.Command {
	var (
		code, times, start string
		days               int
	)
	cmd := &cobra.Command{
		Use:   "generate <medication-id>",
		Short: "Generate dose events for a date range",
		Args:  cobra.ExactArgs(1),
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			startDate, err := parseWhen(start)
			if err != nil {
				return err
			}
			events, err := a.Service.GenerateSchedule(cmd.Context(), medication.GenerateRequest{
				MedicationID: args[0],
				Code:         medication.FrequencyCode(code),
				Times:        splitList(times),
				StartDate:    startDate,
				Days:         days,
			})
			if err != nil {
				return err
			}
			return rt.print(cmd, events)
		}),
	}
	cmd.Flags().StringVar(&code, "code", "", "Frequency code, e.g. twice_daily")
	cmd.Flags().StringVar(&times, "times", "", "Comma-separated HH:MM times")
	cmd.Flags().StringVar(&start, "start", "", "First day (default today)")
	cmd.Flags().IntVar(&days, "days", 0, "Number of days (default the rolling window)")
	return cmd
}

func remindersCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:       "reminders <medication-id> <on|off>",
		Short:     "Turn generated reminders on or off",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			var enabled bool
			switch args[1] {
			case "on":
				enabled = true
			case "off":
			default:
				return fmt.Errorf("expected on or off, got %q", args[1])
			}
			med, err := a.Service.SetReminders(cmd.Context(), args[0], enabled)
			if err != nil {
				return err
			}
			return rt.print(cmd, med)
		}),
	}
}

func todayCmd(rt *runtime) *cobra.Command {
	var patient string
	cmd := &cobra.Command{
		Use:   "today",
		Short: "Show today's doses grouped by time of day",
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			if err := requirePatient(patient); err != nil {
				return err
			}
			view, err := a.Service.TodayView(cmd.Context(), patient)
			if err != nil {
				return err
			}
			return rt.print(cmd, view)
		}),
	}
	cmd.Flags().StringVar(&patient, "patient", "", "Patient ID")
	return cmd
}

func takeCmd(rt *runtime) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "take <event-id>",
		Short: "Record a dose as taken",
		Args:  cobra.ExactArgs(1),
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			takenAt, err := parseWhen(at)
			if err != nil {
				return err
			}
			e, changed, err := a.Service.TakeDose(cmd.Context(), args[0], takenAt)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintln(cmd.ErrOrStderr(), "Dose was already taken")
			}
			return rt.print(cmd, e)
		}),
	}
	cmd.Flags().StringVar(&at, "at", "", "When it was taken (default now)")
	return cmd
}

func skipCmd(rt *runtime) *cobra.Command {
	var reason, notes string
	cmd := &cobra.Command{
		Use:   "skip <event-id>",
		Short: "Skip a dose",
		Args:  cobra.ExactArgs(1),
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			e, err := a.Service.SkipDose(cmd.Context(), args[0], medication.SkipReason(reason), notes)
			if err != nil {
				return err
			}
			return rt.print(cmd, e)
		}),
	}
	cmd.Flags().StringVar(&reason, "reason", "", "not_feeling_well, side_effects, out_of_medication, doctor_advised, traveling or other")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-text notes")
	return cmd
}

func snoozeCmd(rt *runtime) *cobra.Command {
	var (
		minutes int
		reason  string
	)
	cmd := &cobra.Command{
		Use:   "snooze <event-id>",
		Short: "Push a dose's due time back",
		Args:  cobra.ExactArgs(1),
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			e, err := a.Service.SnoozeDose(cmd.Context(), args[0], minutes, reason)
			if err != nil {
				return err
			}
			return rt.print(cmd, e)
		}),
	}
	cmd.Flags().IntVar(&minutes, "minutes", 15, "Minutes to snooze")
	cmd.Flags().StringVar(&reason, "reason", "", "Why")
	return cmd
}

func rescheduleCmd(rt *runtime) *cobra.Command {
	var (
		to, reason string
		recurring  bool
	)
	cmd := &cobra.Command{
		Use:   "reschedule <event-id>",
		Short: "Move a dose to another time",
		Args:  cobra.ExactArgs(1),
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			newTime, err := parseWhen(to)
			if err != nil {
				return err
			}
			if newTime.IsZero() {
				return fmt.Errorf("--to is required")
			}
			result, err := a.Service.RescheduleDose(cmd.Context(), medication.RescheduleRequest{
				EventID: args[0],
				NewTime: newTime,
				Reason:  reason,
				OneTime: !recurring,
			})
			if err != nil {
				return err
			}
			return rt.print(cmd, result)
		}),
	}
	cmd.Flags().StringVar(&to, "to", "", "New time")
	cmd.Flags().StringVar(&reason, "reason", "", "Why")
	cmd.Flags().BoolVar(&recurring, "recurring", false, "Also move this time of day for future doses")
	return cmd
}

func statusCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Hold, resume, discontinue or replace a medication",
	}

	var note string
	change := func(use, short string, payload func() (medication.StatusPayload, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <medication-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
				p, err := payload()
				if err != nil {
					return err
				}
				result, err := a.Service.ChangeMedicationStatus(cmd.Context(), medication.StatusChangeRequest{
					MedicationID: args[0],
					Payload:      p,
					PerformedBy:  rt.actor,
					Note:         note,
				})
				if err != nil {
					return err
				}
				return rt.print(cmd, result)
			}),
		}
	}

	var (
		reason     string
		until      string
		autoResume bool
		stop       string
		followUp   bool
		plan       string
		overlap    int
		with       string
	)

	hold := change("hold", "Pause a medication", func() (medication.StatusPayload, error) {
		p := medication.HoldPayload{Reason: reason, AutoResume: autoResume}
		t, err := parseWhen(until)
		if err != nil {
			return nil, err
		}
		if !t.IsZero() {
			p.Until = &t
		}
		return p, nil
	})
	hold.Flags().StringVar(&until, "until", "", "Hold until")
	hold.Flags().BoolVar(&autoResume, "auto-resume", false, "Resume automatically once --until passes")

	resume := change("resume", "Resume a held medication", func() (medication.StatusPayload, error) {
		return medication.ResumePayload{Reason: reason}, nil
	})

	discontinue := change("discontinue", "Stop a medication", func() (medication.StatusPayload, error) {
		p := medication.DiscontinuePayload{Reason: reason, FollowUp: followUp}
		t, err := parseWhen(stop)
		if err != nil {
			return nil, err
		}
		if !t.IsZero() {
			p.StopDate = &t
		}
		return p, nil
	})
	discontinue.Flags().StringVar(&stop, "stop", "", "Stop date (default now)")
	discontinue.Flags().BoolVar(&followUp, "follow-up", false, "Follow-up required")

	replace := change("replace", "Replace a medication with another", func() (medication.StatusPayload, error) {
		if with == "" {
			return nil, fmt.Errorf("--with is required")
		}
		return medication.ReplacePayload{
			Reason:                  reason,
			TransitionPlan:          plan,
			OverlapDays:             overlap,
			ReplacementMedicationID: with,
		}, nil
	})
	replace.Flags().StringVar(&with, "with", "", "Replacement medication ID")
	replace.Flags().StringVar(&plan, "plan", "", "Transition plan")
	replace.Flags().IntVar(&overlap, "overlap", 0, "Days both medications run")

	for _, c := range []*cobra.Command{hold, resume, discontinue, replace} {
		c.Flags().StringVar(&reason, "reason", "", "Reason")
		c.Flags().StringVar(&note, "note", "", "Note for the audit log")
	}

	history := &cobra.Command{
		Use:   "history <medication-id>",
		Short: "Show the status change log",
		Args:  cobra.ExactArgs(1),
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			changes, err := a.Service.StatusHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return rt.print(cmd, changes)
		}),
	}

	cmd.AddCommand(hold, resume, discontinue, replace, history)
	return cmd
}

func adherenceCmd(rt *runtime) *cobra.Command {
	var (
		patient, med, start, end string
		days                     int
	)
	cmd := &cobra.Command{
		Use:   "adherence",
		Short: "Report adherence for a patient or one medication",
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			var w medication.Window
			if days > 0 {
				w = medication.LastNDays(time.Now(), days, time.Local)
			} else {
				var err error
				if w.Start, err = parseWhen(start); err != nil {
					return err
				}
				if w.End, err = parseWhen(end); err != nil {
					return err
				}
			}

			if med != "" {
				rec, err := a.Service.ComputeMedicationAdherence(cmd.Context(), med, w)
				if err != nil {
					return err
				}
				return rt.print(cmd, rec)
			}
			if err := requirePatient(patient); err != nil {
				return err
			}
			rec, err := a.Service.ComputePatientAdherence(cmd.Context(), patient, w)
			if err != nil {
				return err
			}
			return rt.print(cmd, rec)
		}),
	}
	cmd.Flags().StringVar(&patient, "patient", "", "Patient ID")
	cmd.Flags().StringVar(&med, "medication", "", "Medication ID")
	cmd.Flags().IntVar(&days, "days", 0, "Last N days including today")
	cmd.Flags().StringVar(&start, "start", "", "Window start")
	cmd.Flags().StringVar(&end, "end", "", "Window end (exclusive)")
	return cmd
}

func repairCmd(rt *runtime) *cobra.Command {
	var patient string
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Find and fix broken schedules for a patient",
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			if err := requirePatient(patient); err != nil {
				return err
			}
			report, err := a.Service.DiagnoseAndRepairSchedules(cmd.Context(), patient)
			if err != nil {
				return err
			}
			return rt.print(cmd, report)
		}),
	}
	cmd.Flags().StringVar(&patient, "patient", "", "Patient ID")
	return cmd
}

func sweepCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the background repair sweep once for every patient",
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			runner, err := a.NewCronRunner()
			if err != nil {
				return err
			}
			result, err := runner.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return rt.print(cmd, result)
		}),
	}
}

func prnCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prn",
		Short: "Record and list as-needed doses",
	}

	var (
		at, notes string
		quantity  int
	)
	take := &cobra.Command{
		Use:   "take <medication-id>",
		Short: "Record an as-needed dose",
		Args:  cobra.ExactArgs(1),
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			takenAt, err := parseWhen(at)
			if err != nil {
				return err
			}
			summary, err := a.Service.RecordPRNDose(cmd.Context(), medication.PRNDoseRequest{
				MedicationID: args[0],
				TakenAt:      takenAt,
				Quantity:     quantity,
				Notes:        notes,
			})
			if err != nil {
				return err
			}
			return rt.print(cmd, summary)
		}),
	}
	take.Flags().StringVar(&at, "at", "", "When it was taken (default now)")
	take.Flags().IntVar(&quantity, "quantity", 1, "Units taken")
	take.Flags().StringVar(&notes, "notes", "", "Notes")

	var since string
	list := &cobra.Command{
		Use:   "list <medication-id>",
		Short: "List as-needed doses",
		Args:  cobra.ExactArgs(1),
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			from, err := parseWhen(since)
			if err != nil {
				return err
			}
			intakes, err := a.Service.ListPRNIntakes(cmd.Context(), args[0], from)
			if err != nil {
				return err
			}
			return rt.print(cmd, intakes)
		}),
	}
	list.Flags().StringVar(&since, "since", "", "Only after this time")

	cmd.AddCommand(take, list)
	return cmd
}

func bucketsCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buckets",
		Short: "Show or set a patient's time-of-day buckets and timezone",
	}

	var patient string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the patient's settings",
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			if err := requirePatient(patient); err != nil {
				return err
			}
			ps, err := a.Service.GetPatientSettings(cmd.Context(), patient)
			if err != nil {
				return err
			}
			return rt.print(cmd, ps)
		}),
	}

	var file string
	set := &cobra.Command{
		Use:   "set",
		Short: "Replace the patient's settings from a YAML file",
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			if err := requirePatient(patient); err != nil {
				return err
			}
			var ps medication.PatientSettings
			if err := readYAML(file, &ps); err != nil {
				return err
			}
			saved, err := a.Service.UpdatePatientSettings(cmd.Context(), patient, ps)
			if err != nil {
				return err
			}
			return rt.print(cmd, saved)
		}),
	}
	set.Flags().StringVar(&file, "file", "", "YAML file with timezone and buckets")

	for _, c := range []*cobra.Command{show, set} {
		c.Flags().StringVar(&patient, "patient", "", "Patient ID")
	}
	cmd.AddCommand(show, set)
	return cmd
}

func importCmd(rt *runtime) *cobra.Command {
	var patient, file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import medications from a YAML list of legacy or unified records",
		RunE: rt.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			if err := requirePatient(patient); err != nil {
				return err
			}
			var records []medication.SourceRecord
			if err := readYAML(file, &records); err != nil {
				return err
			}
			report, err := a.Service.ImportRecords(cmd.Context(), patient, records)
			if err != nil {
				return err
			}
			return rt.print(cmd, report)
		}),
	}
	cmd.Flags().StringVar(&patient, "patient", "", "Patient ID")
	cmd.Flags().StringVar(&file, "file", "", "YAML file")
	return cmd
}

func readYAML(path string, out any) error {
	if path == "" {
		return fmt.Errorf("--file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

