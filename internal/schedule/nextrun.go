// Package schedule computes recurrence and drives the periodic sweep that
// turns due jobs into runs.
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hbarton/webharvest/internal/scrape"
)

// fallbackInterval is applied when a schedule is malformed; a bad schedule
// keeps firing hourly rather than silently going dormant.
const fallbackInterval = time.Hour

// NextRun computes the next fire time strictly after now. The second return
// is false when the schedule does not recur (kind "once").
func NextRun(s scrape.Schedule, now time.Time, logger *zap.Logger) (time.Time, bool) {
	switch s.Kind {
	case scrape.ScheduleOnce:
		return time.Time{}, false
	case scrape.ScheduleCron:
		spec, err := cron.ParseStandard(s.Expr)
		if err != nil {
			logger.Warn("invalid cron expression, falling back to hourly",
				zap.String("expr", s.Expr),
				zap.Error(err),
			)
			return now.Add(fallbackInterval), true
		}
		return spec.Next(now), true
	case scrape.ScheduleInterval:
		return now.Add(intervalDuration(s, logger)), true
	default:
		logger.Warn("unknown schedule kind, falling back to hourly",
			zap.String("kind", string(s.Kind)),
		)
		return now.Add(fallbackInterval), true
	}
}

func intervalDuration(s scrape.Schedule, logger *zap.Logger) time.Duration {
	if s.Every <= 0 {
		logger.Warn("non-positive schedule interval, falling back to hourly",
			zap.Int("every", s.Every),
		)
		return fallbackInterval
	}
	switch s.Unit {
	case "minutes":
		return time.Duration(s.Every) * time.Minute
	case "hours":
		return time.Duration(s.Every) * time.Hour
	case "days":
		return time.Duration(s.Every) * 24 * time.Hour
	case "weeks":
		return time.Duration(s.Every) * 7 * 24 * time.Hour
	default:
		logger.Warn("unknown schedule unit, falling back to hourly",
			zap.String("unit", s.Unit),
		)
		return fallbackInterval
	}
}
