// Package onboarding implements the interactive first-run setup
package onboarding

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/gmsas95/medtrack/internal/config"
	"github.com/gmsas95/medtrack/internal/medication"
)

// Answers holds the configuration collected during setup
type Answers struct {
	DataDir       string
	Timezone      string
	Driver        string
	PostgresDSN   string
	Port          int
	Buckets       []config.BucketConfig
	AdminPassword string
	CronEnabled   bool
}

// DefaultAnswers are used for every question left blank
func DefaultAnswers(dataDir string) Answers {
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	return Answers{
		DataDir:  dataDir,
		Timezone: "UTC",
		Driver:   "sqlite",
		Port:     8080,
		Buckets: []config.BucketConfig{
			{Name: "morning", Label: "Morning", Time: "08:00"},
			{Name: "noon", Label: "Noon", Time: "12:00"},
			{Name: "evening", Label: "Evening", Time: "18:00"},
			{Name: "bedtime", Label: "Bedtime", Time: "22:00"},
		},
		CronEnabled: true,
	}
}

// Result names the files the wizard wrote
type Result struct {
	ConfigPath string
	EnvPath    string
}

// Wizard handles the interactive setup process
type Wizard struct {
	reader  *bufio.Reader
	out     io.Writer
	logger  *zap.Logger
	eof     bool
	answers Answers

	ConfigPath string
	EnvPath    string
	// Force overwrites an existing config file.
	Force bool
}

// NewWizard creates a setup wizard. configPath defaults to medtrack.yaml in
// the data directory, envPath to ~/.config/medtrack/.env.
func NewWizard(in io.Reader, out io.Writer, logger *zap.Logger, dataDir, configPath, envPath string) *Wizard {
	return &Wizard{
		reader:     bufio.NewReader(in),
		out:        out,
		logger:     logger,
		answers:    DefaultAnswers(dataDir),
		ConfigPath: configPath,
		EnvPath:    envPath,
	}
}

// Run asks every question, writes the files and checks that the result loads
func (w *Wizard) Run() (*Result, error) {
	fmt.Fprint(w.out, SetupWizardWelcome)

	steps := []struct {
		name string
		fn   func() error
	}{
		{"storage", w.setupStorage},
		{"schedule", w.setupSchedule},
		{"server", w.setupServer},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return nil, fmt.Errorf("%s setup failed: %w", step.name, err)
		}
	}

	res, err := w.Write()
	if err != nil {
		return nil, err
	}

	msg := strings.ReplaceAll(SetupCompleteMessage, "{{.ConfigPath}}", res.ConfigPath)
	msg = strings.ReplaceAll(msg, "{{.EnvPath}}", res.EnvPath)
	fmt.Fprint(w.out, msg)
	return res, nil
}

// Answers returns what has been collected so far
func (w *Wizard) Answers() Answers {
	return w.answers
}

func (w *Wizard) ask(question, def string) string {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", question)
	}
	if w.eof {
		fmt.Fprintln(w.out)
		return def
	}
	line, err := w.reader.ReadString('\n')
	if err != nil {
		w.eof = true
		fmt.Fprintln(w.out)
	}
	if line = strings.TrimSpace(line); line != "" {
		return line
	}
	return def
}

// askUntil repeats a question until check accepts the answer. At end of
// input the default is taken as is.
func (w *Wizard) askUntil(question, def string, check func(string) error) string {
	for {
		answer := w.ask(question, def)
		if w.eof && answer == def {
			return def
		}
		err := check(answer)
		if err == nil {
			return answer
		}
		fmt.Fprintf(w.out, "  ✗ %v\n", err)
	}
}

func (w *Wizard) askYesNo(question string, def bool) bool {
	d := "y"
	if !def {
		d = "n"
	}
	answer := strings.ToLower(w.ask(question+" (y/n)", d))
	return strings.HasPrefix(answer, "y")
}

func (w *Wizard) setupStorage() error {
	fmt.Fprintln(w.out, "Step 1: Storage")
	a := &w.answers

	a.DataDir = w.ask("Where should medtrack store its data?", a.DataDir)
	if err := os.MkdirAll(a.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	a.Driver = w.askUntil("Database (sqlite or postgres)", a.Driver, func(s string) error {
		if s != "sqlite" && s != "postgres" {
			return fmt.Errorf("choose sqlite or postgres")
		}
		return nil
	})
	if a.Driver == "postgres" {
		a.PostgresDSN = w.askUntil("Postgres DSN", a.PostgresDSN, func(s string) error {
			if s == "" {
				return fmt.Errorf("a DSN is required for postgres")
			}
			return nil
		})
		if a.PostgresDSN == "" {
			return fmt.Errorf("a DSN is required for postgres")
		}
	}
	fmt.Fprintln(w.out)
	return nil
}

func (w *Wizard) setupSchedule() error {
	fmt.Fprintln(w.out, "Step 2: Schedule")
	a := &w.answers

	a.Timezone = w.askUntil("Default timezone", a.Timezone, func(s string) error {
		_, err := time.LoadLocation(s)
		return err
	})

	current := formatBuckets(a.Buckets)
	raw := w.askUntil("Time-of-day buckets (name=HH:MM, ...)", current, func(s string) error {
		_, err := ParseBuckets(s)
		return err
	})
	buckets, err := ParseBuckets(raw)
	if err != nil {
		return err
	}
	a.Buckets = buckets

	a.CronEnabled = w.askYesNo("Run the background repair sweep", a.CronEnabled)
	fmt.Fprintln(w.out)
	return nil
}

func (w *Wizard) setupServer() error {
	fmt.Fprintln(w.out, "Step 3: Server")
	a := &w.answers

	port := w.askUntil("HTTP port", strconv.Itoa(a.Port), func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 65535 {
			return fmt.Errorf("port must be between 1 and 65535")
		}
		return nil
	})
	a.Port, _ = strconv.Atoi(port)

	a.AdminPassword = w.ask("Admin password for API login (empty disables login)", a.AdminPassword)
	fmt.Fprintln(w.out)
	return nil
}

// ParseBuckets reads "morning=08:00, evening=20:00". Labels are the
// capitalized names.
func ParseBuckets(s string) ([]config.BucketConfig, error) {
	var out []config.BucketConfig
	for _, part := range splitAndTrim(s, ",") {
		name, clock, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("bucket %q is not name=HH:MM", part)
		}
		minutes, err := medication.ParseClock(strings.TrimSpace(clock))
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", name, err)
		}
		out = append(out, config.BucketConfig{
			Name:  strings.ToLower(name),
			Label: strings.ToUpper(name[:1]) + name[1:],
			Time:  fmt.Sprintf("%02d:%02d", minutes/60, minutes%60),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one bucket is required")
	}

	buckets := make([]medication.Bucket, len(out))
	for i, b := range out {
		buckets[i] = medication.Bucket{Name: b.Name, Label: b.Label, Time: b.Time}
	}
	if _, err := medication.NewClassifier(buckets); err != nil {
		return nil, err
	}
	return out, nil
}

func formatBuckets(buckets []config.BucketConfig) string {
	parts := make([]string, len(buckets))
	for i, b := range buckets {
		parts[i] = b.Name + "=" + b.Time
	}
	return strings.Join(parts, ", ")
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

type fileConfig struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		Driver      string `yaml:"driver"`
		DataDir     string `yaml:"data_dir"`
		PostgresDSN string `yaml:"postgres_dsn,omitempty"`
	} `yaml:"storage"`
	Schedule struct {
		Timezone string `yaml:"timezone"`
	} `yaml:"schedule"`
	Buckets []config.BucketConfig `yaml:"buckets"`
	Cron    struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"cron"`
}

// Write saves the collected answers and verifies the config loads
func (w *Wizard) Write() (*Result, error) {
	a := w.answers

	configPath := w.ConfigPath
	if configPath == "" {
		configPath = filepath.Join(a.DataDir, "medtrack.yaml")
	}
	envPath := w.EnvPath
	if envPath == "" {
		envPath = DefaultEnvPath()
	}

	if _, err := os.Stat(configPath); err == nil && !w.Force {
		return nil, fmt.Errorf("%s already exists", configPath)
	}

	var fc fileConfig
	fc.Server.Port = a.Port
	fc.Storage.Driver = a.Driver
	fc.Storage.DataDir = a.DataDir
	fc.Storage.PostgresDSN = a.PostgresDSN
	fc.Schedule.Timezone = a.Timezone
	fc.Buckets = a.Buckets
	fc.Cron.Enabled = a.CronEnabled

	body, err := yaml.Marshal(&fc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	content := fmt.Sprintf(configHeader, time.Now().Format("2006-01-02")) + string(body)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return nil, err
	}
	// may hold a DSN with a password
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return nil, fmt.Errorf("failed to write config: %w", err)
	}

	secret, err := randomSecret(32)
	if err != nil {
		return nil, err
	}
	env := fmt.Sprintf(envTemplate, time.Now().Format("2006-01-02"), secret, a.AdminPassword)
	if err := os.MkdirAll(filepath.Dir(envPath), 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(envPath, []byte(env), 0600); err != nil {
		return nil, fmt.Errorf("failed to write env file: %w", err)
	}

	if _, err := config.Load(configPath, a.DataDir); err != nil {
		return nil, fmt.Errorf("written config does not load: %w", err)
	}

	w.logger.Info("Setup complete",
		zap.String("config", configPath),
		zap.String("env", envPath),
		zap.String("driver", a.Driver),
	)
	return &Result{ConfigPath: configPath, EnvPath: envPath}, nil
}

func randomSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// DefaultEnvPath is one of the locations config.LoadEnvFiles reads
func DefaultEnvPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".env"
	}
	return filepath.Join(home, ".config", "medtrack", ".env")
}

// CheckFirstRun reports whether no config file exists yet
func CheckFirstRun(dataDir string) bool {
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	_, err := os.Stat(filepath.Join(dataDir, "medtrack.yaml"))
	return os.IsNotExist(err)
}
