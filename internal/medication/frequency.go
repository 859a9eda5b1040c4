package medication

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/gmsas95/medtrack/internal/metrics"
)

// Frequency is the result of normalizing a frequency label
type Frequency struct {
	Code       FrequencyCode `json:"code"`
	Times      []string      `json:"default_times"`
	Recognized bool          `json:"recognized"`
}

// KnownFrequencyLabels are the preset labels offered when entering a medication
var KnownFrequencyLabels = []string{
	"Once daily",
	"Twice daily",
	"Three times daily",
	"Four times daily",
	"Every 6 hours",
	"Every 8 hours",
	"Every 12 hours",
	"Every morning",
	"Every evening",
	"At bedtime",
	"Once weekly",
	"Once monthly",
	"As needed",
}

var defaultTimes = map[FrequencyCode][]string{
	FrequencyDaily:           {"08:00"},
	FrequencyTwiceDaily:      {"08:00", "18:00"},
	FrequencyThreeTimesDaily: {"08:00", "12:00", "18:00"},
	FrequencyFourTimesDaily:  {"08:00", "12:00", "18:00", "22:00"},
	FrequencyWeekly:          {"08:00"},
	FrequencyMonthly:         {"08:00"},
	FrequencyAsNeeded:        {},
}

// DefaultTimes returns a copy of the default times-of-day for code
func DefaultTimes(code FrequencyCode) []string {
	return append([]string{}, defaultTimes[code]...)
}

var dosesPerDay = map[FrequencyCode]int{
	FrequencyDaily:           1,
	FrequencyTwiceDaily:      2,
	FrequencyThreeTimesDaily: 3,
	FrequencyFourTimesDaily:  4,
	FrequencyWeekly:          1,
	FrequencyMonthly:         1,
}

var codeForCount = map[int]FrequencyCode{
	1: FrequencyDaily,
	2: FrequencyTwiceDaily,
	3: FrequencyThreeTimesDaily,
	4: FrequencyFourTimesDaily,
}

type frequencyPattern struct {
	code FrequencyCode
	re   *regexp.Regexp
}

// Checked in order: "twice daily" must hit twice_daily before daily, and
// "once weekly" must hit weekly before the bare "once" rule.
var frequencyPatterns = []frequencyPattern{
	{FrequencyAsNeeded, regexp.MustCompile(`\b(prn|as needed|when needed|if needed|as required|as directed for pain)\b`)},
	{FrequencyFourTimesDaily, regexp.MustCompile(`\b(qid|four times|4 times|4x|x4)\b`)},
	{FrequencyThreeTimesDaily, regexp.MustCompile(`\b(tid|three times|3 times|3x|x3)\b`)},
	{FrequencyTwiceDaily, regexp.MustCompile(`\b(bid|twice|two times|2 times|2x|x2)\b`)},
	{FrequencyWeekly, regexp.MustCompile(`\b(weekly|once a week|every week|per week|qw|qwk)\b`)},
	{FrequencyMonthly, regexp.MustCompile(`\b(monthly|once a month|every month|per month)\b`)},
	{FrequencyDaily, regexp.MustCompile(`\b(daily|qd|od|once a day|every day|each day|per day|once|qam|qpm|qhs|nightly)\b`)},
}

var intervalPattern = regexp.MustCompile(`\b(?:every|q)\s*(\d{1,2})\s*(?:h|hr|hrs|hour|hours)\b`)

var intervalSchedules = map[int]struct {
	code  FrequencyCode
	times []string
}{
	6:  {FrequencyFourTimesDaily, []string{"00:00", "06:00", "12:00", "18:00"}},
	8:  {FrequencyThreeTimesDaily, []string{"06:00", "14:00", "22:00"}},
	12: {FrequencyTwiceDaily, []string{"08:00", "20:00"}},
	24: {FrequencyDaily, []string{"08:00"}},
}

type timeHint struct {
	re    *regexp.Regexp
	clock string
}

var timeHints = []timeHint{
	{regexp.MustCompile(`\b(morning|qam|breakfast|am dose)\b`), "08:00"},
	{regexp.MustCompile(`\b(noon|lunch|midday)\b`), "12:00"},
	{regexp.MustCompile(`\b(evening|qpm|dinner|supper)\b`), "18:00"},
	{regexp.MustCompile(`\b(bedtime|before bed|qhs|at night|nightly)\b`), "22:00"},
}

var (
	meridiemClock   = regexp.MustCompile(`\b(\d{1,2})(?::([0-5]\d))?\s*(am|pm)\b`)
	twentyFourClock = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
)

// Normalizer maps free-text frequency labels to canonical codes
type Normalizer struct {
	logger *zap.Logger
}

func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Normalize never fails. Text it cannot interpret becomes daily at the
// default time, with a warning logged.
func (n *Normalizer) Normalize(text string) Frequency {
	clean := cleanFrequencyText(text)

	if m := intervalPattern.FindStringSubmatch(clean); m != nil {
		hours, _ := strconv.Atoi(m[1])
		if sched, ok := intervalSchedules[hours]; ok {
			return Frequency{Code: sched.code, Times: append([]string{}, sched.times...), Recognized: true}
		}
	}

	explicit := explicitTimes(clean)
	hinted := hintedTimes(clean)

	code, matched := matchCode(clean)
	if !matched {
		switch {
		case len(explicit) > 0 && codeForCount[len(explicit)] != "":
			return Frequency{Code: codeForCount[len(explicit)], Times: explicit, Recognized: true}
		case len(hinted) > 0 && codeForCount[len(hinted)] != "":
			return Frequency{Code: codeForCount[len(hinted)], Times: hinted, Recognized: true}
		}
		n.logger.Warn("Unrecognized frequency, defaulting to daily",
			zap.String("frequency", text),
			zap.String("code", string(FrequencyDaily)),
		)
		metrics.RecordFrequencyFallback()
		return Frequency{Code: FrequencyDaily, Times: DefaultTimes(FrequencyDaily), Recognized: false}
	}

	if code == FrequencyAsNeeded {
		return Frequency{Code: code, Times: []string{}, Recognized: true}
	}

	times := DefaultTimes(code)
	want := dosesPerDay[code]
	switch {
	case len(explicit) == want:
		times = explicit
	case len(hinted) == want:
		times = hinted
	}

	return Frequency{Code: code, Times: times, Recognized: true}
}

func cleanFrequencyText(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	// b.i.d. -> bid, q.h.s. -> qhs
	t = strings.ReplaceAll(t, ".", "")
	t = strings.NewReplacer("-", " ", "_", " ", "/", " ", ",", " ").Replace(t)
	return strings.Join(strings.Fields(t), " ")
}

func matchCode(clean string) (FrequencyCode, bool) {
	if clean == "" {
		return "", false
	}
	for _, p := range frequencyPatterns {
		if p.re.MatchString(clean) {
			return p.code, true
		}
	}
	return "", false
}

// explicitTimes extracts clock times like "9am", "8:30 pm" or "21:00".
func explicitTimes(clean string) []string {
	var out []string
	rest := meridiemClock.ReplaceAllStringFunc(clean, func(s string) string {
		m := meridiemClock.FindStringSubmatch(s)
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour < 1 || hour > 12 {
			return " "
		}
		if m[3] == "pm" && hour != 12 {
			hour += 12
		}
		if m[3] == "am" && hour == 12 {
			hour = 0
		}
		out = append(out, fmt.Sprintf("%02d:%02d", hour, minute))
		return " "
	})
	for _, m := range twentyFourClock.FindAllStringSubmatch(rest, -1) {
		hour, _ := strconv.Atoi(m[1])
		out = append(out, fmt.Sprintf("%02d:%s", hour, m[2]))
	}
	return sortUnique(out)
}

func hintedTimes(clean string) []string {
	var out []string
	for _, h := range timeHints {
		if h.re.MatchString(clean) {
			out = append(out, h.clock)
		}
	}
	return sortUnique(out)
}

func sortUnique(times []string) []string {
	if len(times) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(times))
	out := make([]string, 0, len(times))
	for _, t := range times {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
