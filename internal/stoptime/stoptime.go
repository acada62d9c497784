// Package stoptime recovers when an EC2 instance was stopped from the
// free-text state transition reason the EC2 API reports, e.g.
// "User initiated (2023-04-01 12:34:56 GMT)".
package stoptime

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

const (
	// UserInitiatedMarker prefixes transition reasons for user-requested stops.
	UserInitiatedMarker = "User initiated"

	// ImplausibleDays is the point past which a stopped duration is suspicious.
	ImplausibleDays = 1825
)

var layouts = []string{
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ErrUnparseable is wrapped by Result.ParseErr when the candidate text is not a timestamp.
var ErrUnparseable = errors.New("unparseable stop timestamp")

// Result holds the inferred stop time and derived elapsed days.
type Result struct {
	// StopTime is nil only when neither a parsed timestamp nor a launch time is available.
	StopTime *time.Time
	Days     *int
	// Approximated is set when StopTime is the launch time fallback.
	Approximated bool
	// Implausible is set when Days exceeds ImplausibleDays.
	Implausible bool
	// Candidate is the timestamp text extracted from the reason, if any.
	Candidate string
	ParseErr  error
}

// Infer derives a stop time from reason, falling back to launch when the
// reason carries no usable timestamp. It performs no I/O.
func Infer(reason string, launch *time.Time, now time.Time) Result {
	var res Result

	res.Candidate = candidate(reason)
	if res.Candidate != "" && hasDigit(res.Candidate) {
		t, err := parse(res.Candidate)
		if err == nil {
			res.StopTime = &t
		} else {
			res.ParseErr = err
		}
	}

	if res.StopTime == nil && launch != nil {
		t := launch.UTC()
		res.StopTime = &t
		res.Approximated = true
	}

	if res.StopTime != nil {
		days := ElapsedDays(*res.StopTime, now)
		res.Days = &days
		res.Implausible = days > ImplausibleDays
	}

	return res
}

// ElapsedDays returns floor((now - since) / 24h). Negative when since is after now.
func ElapsedDays(since, now time.Time) int {
	return int(math.Floor(now.Sub(since).Hours() / 24))
}

// candidate extracts the trailing parenthesised text of a user-initiated reason.
func candidate(reason string) string {
	if !strings.Contains(reason, UserInitiatedMarker) {
		return ""
	}
	open := strings.LastIndex(reason, "(")
	if open < 0 {
		return ""
	}
	text := reason[open+1:]
	if end := strings.Index(text, ")"); end >= 0 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func parse(text string) (time.Time, error) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, text)
}
