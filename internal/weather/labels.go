package weather

import "math"

var windDirections = []string{"N", "NNE", "ENE", "E", "ESE", "SSE", "S", "SSW", "WSW", "W", "WNW", "NNW"}

// AQILabel names an OpenWeather air quality index (1-5).
func AQILabel(aqi int) string {
	switch aqi {
	case 1:
		return "good"
	case 2:
		return "moderate"
	case 3:
		return "unhealthy_for_sensitive_groups"
	case 4:
		return "unhealthy"
	case 5:
		return "very_unhealthy"
	default:
		return "unknown"
	}
}

// HumidityLabel buckets relative humidity.
func HumidityLabel(humidity int) string {
	switch {
	case humidity < 30:
		return "dry"
	case humidity < 60:
		return "normal"
	case humidity < 80:
		return "humid"
	default:
		return "very_humid"
	}
}

// WindDirection maps degrees onto a 12-point compass in 30 degree sectors.
func WindDirection(degrees float64) string {
	index := int(math.Round(degrees/30)) % len(windDirections)
	if index < 0 {
		index += len(windDirections)
	}
	return windDirections[index]
}

// ConditionFromID normalizes an OpenWeather condition code.
func ConditionFromID(id int) Condition {
	switch {
	case id >= 200 && id < 300:
		return ConditionStorm
	case id >= 300 && id < 600:
		return ConditionRain
	case id >= 600 && id < 700:
		return ConditionSnow
	case id >= 700 && id < 800:
		return ConditionMist
	case id == 800:
		return ConditionClear
	case id > 800 && id < 900:
		return ConditionCloudy
	default:
		return ConditionUnknown
	}
}

// IconFor picks the OpenWeather icon code for a condition id.
func IconFor(id int, isDay bool) string {
	suffix := "n"
	if isDay {
		suffix = "d"
	}
	switch {
	case id >= 200 && id < 300:
		return "11d"
	case id >= 300 && id < 400:
		return "09d"
	case id >= 500 && id < 600:
		return "10" + suffix
	case id >= 600 && id < 700:
		return "13" + suffix
	case id >= 700 && id < 800:
		return "50d"
	case id == 800:
		return "01" + suffix
	case id == 801:
		return "02" + suffix
	case id > 801 && id < 900:
		return "03" + suffix
	default:
		return "01d"
	}
}
