package ids

import "time"

// TimeFunc is the process-wide clock used to stamp events when an
// aggregate itself does not stamp occurred_at. Overridden in tests for
// deterministic timestamps.
var TimeFunc = time.Now

// Now returns the current time using the configured TimeFunc.
func Now() time.Time {
	return TimeFunc()
}
