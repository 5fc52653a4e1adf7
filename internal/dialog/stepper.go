package dialog

import "time"

// Stepper values as rendered on buttons. Seconds are appended only when the
// confirmed value lands in the draft.
const (
	stepDateLayout = "2006-01-02"
	stepTimeLayout = "15:04"
)

// Stepper buttons carry the value they were rendered with, so every press is
// a pure function of (payload, direction). A stale or replayed press adjusts
// or confirms the value it was issued for, never a newer one.

func stepDate(cur string, days int) (string, error) {
	d, err := time.Parse(stepDateLayout, cur)
	if err != nil {
		return "", err
	}
	return d.AddDate(0, 0, days).Format(stepDateLayout), nil
}

func stepTime(cur string, delta time.Duration) (string, error) {
	t, err := time.Parse(stepTimeLayout, cur)
	if err != nil {
		return "", err
	}
	// Wraps across midnight: 00:00 - 1h renders as 23:00.
	return t.Add(delta).Format(stepTimeLayout), nil
}
