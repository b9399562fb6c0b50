package weather

import "time"

var mockCoordinates = Coordinates{Lat: 41.0082, Lon: 28.9784}

func mockCurrent(now time.Time, units string) Current {
	return Current{
		City:           "Istanbul",
		Country:        "TR",
		Coordinates:    mockCoordinates,
		Temperature:    22,
		FeelsLike:      24,
		Humidity:       65,
		HumidityLabel:  HumidityLabel(65),
		Pressure:       1013,
		WindSpeed:      3.5,
		WindDegrees:    180,
		WindDirection:  WindDirection(180),
		Condition:      ConditionClear,
		ConditionID:    800,
		Description:    "açık",
		Icon:           "01d",
		IsDay:          true,
		Sunrise:        time.Unix(1677649420, 0).UTC(),
		Sunset:         time.Unix(1677682240, 0).UTC(),
		ObservedAt:     now.UTC().Truncate(time.Second),
		TimezoneOffset: 10800,
		Units:          units,
		Mock:           true,
	}
}

func mockForecast(now time.Time, units string) Forecast {
	base := now.UTC().Truncate(time.Second)
	entries := []ForecastEntry{
		{
			Time:                base.Add(24 * time.Hour),
			Temperature:         23,
			FeelsLike:           25,
			Humidity:            60,
			WindSpeed:           4,
			PrecipitationChance: 0.1,
			Condition:           ConditionClear,
			ConditionID:         800,
			Description:         "açık",
			Icon:                "01d",
		},
		{
			Time:                base.Add(48 * time.Hour),
			Temperature:         21,
			FeelsLike:           23,
			Humidity:            70,
			WindSpeed:           3,
			PrecipitationChance: 0.2,
			Condition:           ConditionCloudy,
			ConditionID:         801,
			Description:         "az bulutlu",
			Icon:                "02d",
		},
	}
	return Forecast{
		City:           "Istanbul",
		Country:        "TR",
		TimezoneOffset: 10800,
		Days:           DailyForecasts(entries, 10800),
		Units:          units,
		Mock:           true,
	}
}

func mockAirQuality() AirQuality {
	return AirQuality{
		AQI:   2,
		Label: AQILabel(2),
		Components: AirQualityReadings{
			PM25: 15,
			PM10: 25,
			CO:   200,
			NO2:  30,
			SO2:  5,
			O3:   45,
		},
		Mock: true,
	}
}
