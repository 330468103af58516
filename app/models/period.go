package models

import "time"

// Duration is stored by GORM as its int64 nanosecond representation.
type Duration = time.Duration

// Forever is the sentinel duration for "never recharges" / "unbounded
// lifetime". Plans with ChargePeriod == Forever are one-time purchases,
// plans with MaxDuration == Forever never hit a hard lifetime cap.
// time.Duration tops out below 300 years, so 100 years is as good as infinite
// for billing math while staying well inside int64 nanoseconds.
const Forever = 100 * 365 * 24 * time.Hour

// MaxTime is the stand-in for an open-ended subscription end.
var MaxTime = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)
