package tools

import (
	"context"
	"encoding/json"
	"time"
)

// nowFunc is a variable for testing; defaults to time.Now.
var nowFunc = time.Now

// DateTool returns the always-available current date/time utility. It has
// no side effects and no required arguments.
func DateTool() Tool {
	return Tool{
		Name:        "current_datetime",
		Description: "Returns the current date and time in UTC, including the weekday.",
		Schema:      obj(map[string]any{}),
		Run: func(_ context.Context, _ json.RawMessage) (string, error) {
			now := nowFunc().UTC()
			return jsonResult(map[string]string{
				"datetime": now.Format(time.RFC3339),
				"weekday":  now.Weekday().String(),
			})
		},
	}
}
