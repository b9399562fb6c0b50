package weather

import (
	"sort"
	"time"
)

// ForecastDays is the number of daily buckets kept from the 3-hourly list.
const ForecastDays = 5

// DailyForecasts groups 3-hourly entries by local calendar date (shifted by
// timezoneOffset seconds) and keeps the warmest entry of each day, in date
// order, for at most ForecastDays days.
func DailyForecasts(entries []ForecastEntry, timezoneOffset int) []DailyForecast {
	offset := time.Duration(timezoneOffset) * time.Second
	warmest := make(map[string]ForecastEntry)
	dates := make([]string, 0, ForecastDays+1)
	for _, entry := range entries {
		date := entry.Time.UTC().Add(offset).Format(time.DateOnly)
		current, seen := warmest[date]
		if !seen {
			dates = append(dates, date)
			warmest[date] = entry
			continue
		}
		if entry.Temperature > current.Temperature {
			warmest[date] = entry
		}
	}
	sort.Strings(dates)
	if len(dates) > ForecastDays {
		dates = dates[:ForecastDays]
	}
	days := make([]DailyForecast, 0, len(dates))
	for _, date := range dates {
		days = append(days, DailyForecast{Date: date, ForecastEntry: warmest[date]})
	}
	return days
}
