package tools

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// CurrentTimeName is the Genkit tool name for reading the clock.
const CurrentTimeName = "current_time"

// CurrentTimeInput defines input for the current_time tool.
type CurrentTimeInput struct {
	Timezone string `json:"timezone,omitempty" jsonschema_description:"IANA time zone name (e.g., 'Europe/Berlin', 'Asia/Taipei'). Defaults to the server's local zone."`
}

// CurrentTimeOutput is the current_time tool result.
type CurrentTimeOutput struct {
	Time    string `json:"time"`
	Unix    int64  `json:"unix"`
	Zone    string `json:"zone"`
	Weekday string `json:"weekday"`
}

// Clock provides the current_time tool.
type Clock struct {
	now    func() time.Time
	logger *slog.Logger
}

// NewClock creates a Clock toolset.
func NewClock(logger *slog.Logger) (*Clock, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Clock{now: time.Now, logger: logger}, nil
}

// RegisterClock registers the clock tools with Genkit.
func RegisterClock(g *genkit.Genkit, c *Clock) ([]ai.Tool, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if c == nil {
		return nil, fmt.Errorf("clock is required")
	}

	return []ai.Tool{
		genkit.DefineTool(g, CurrentTimeName,
			"Get the current date and time, optionally in a specific time zone. "+
				"Returns RFC 3339 time, Unix timestamp, zone name, and weekday. "+
				"You MUST call this tool before answering any question about current dates, times, ages, or durations.",
			c.CurrentTime),
	}, nil
}

// CurrentTime returns the current time in the requested zone, or the
// server's local zone when none is given.
func (c *Clock) CurrentTime(_ *ai.ToolContext, input CurrentTimeInput) (CurrentTimeOutput, error) {
	loc := time.Local
	if input.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(input.Timezone)
		if err != nil {
			return CurrentTimeOutput{}, fmt.Errorf("unknown time zone %q", input.Timezone)
		}
	}

	now := c.now().In(loc)
	return CurrentTimeOutput{
		Time:    now.Format(time.RFC3339),
		Unix:    now.Unix(),
		Zone:    now.Location().String(),
		Weekday: now.Weekday().String(),
	}, nil
}
