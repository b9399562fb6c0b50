package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestCityService(t *testing.T, handler http.HandlerFunc, logger *zap.Logger) *CityService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewCityService(CityConfig{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Backoff:    BackoffConfig{MaxRetries: 0, InitialInterval: 1},
		Logger:     logger,
	})
}

func suggestionNames(suggestions []CitySuggestion) []string {
	names := make([]string, 0, len(suggestions))
	for _, suggestion := range suggestions {
		names = append(names, suggestion.Name)
	}
	return names
}

func TestSuggestIgnoresShortQueries(t *testing.T) {
	var calls atomic.Int32
	service := newTestCityService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}, nil)

	require.Empty(t, service.Suggest(context.Background(), "İz", settings.RegionAll))
	require.Empty(t, service.Suggest(context.Background(), "   a ", settings.RegionAll))
	require.Zero(t, calls.Load())
}

func TestSuggestPrefersFallbackTable(t *testing.T) {
	var calls atomic.Int32
	service := newTestCityService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}, nil)

	require.Equal(t, []string{"İzmir"}, suggestionNames(service.Suggest(context.Background(), "izmir", settings.RegionTurkey)))
	require.Equal(t, []string{"Diyarbakır"}, suggestionNames(service.Suggest(context.Background(), "DIYARBAKIR", settings.RegionAll)))
	require.Equal(t, []string{"Paris"}, suggestionNames(service.Suggest(context.Background(), "ile-de", settings.RegionEurope)))
	require.Equal(t, []string{"São Paulo"}, suggestionNames(service.Suggest(context.Background(), "sao p", settings.RegionAll)))
	require.Empty(t, service.Suggest(context.Background(), "london", settings.RegionTurkey))
	require.Zero(t, calls.Load())
}

func TestFallbackSuggestionsCapAtEight(t *testing.T) {
	matches := FallbackSuggestions("an")
	require.LessOrEqual(t, len(matches), maxFallbackSuggestions)

	all := FallbackSuggestions("a")
	require.Len(t, all, maxFallbackSuggestions)
	require.Equal(t, "İstanbul", all[0].Name)
}

func TestSuggestQueriesNominatim(t *testing.T) {
	service := newTestCityService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		query := r.URL.Query()
		assert.Equal(t, "Trabzon", query.Get("q"))
		assert.Equal(t, "json", query.Get("format"))
		assert.Equal(t, "30", query.Get("limit"))
		assert.Equal(t, "tr,en", query.Get("accept-language"))
		assert.Contains(t, query.Get("countrycodes"), "tr,us,gb")
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`[
			{"place_id": 1, "name": "Trabzon", "lat": "41.0", "lon": "39.7", "class": "boundary", "importance": 0.2, "address": {"country_code": "us", "state": "Ohio"}},
			{"place_id": 2, "name": "Trabzon", "lat": "41.0027", "lon": "39.7168", "class": "place", "importance": 0.6, "address": {"city": "Trabzon", "state": "Trabzon", "country_code": "tr"}},
			{"place_id": 3, "name": "Trabzon Bus Stop", "lat": "41", "lon": "39", "class": "place", "importance": 0.3, "address": {"country_code": "tr"}},
			{"place_id": 4, "name": "Trabzon Airport", "lat": "40.99", "lon": "39.78", "class": "aeroway", "importance": 0.4, "address": {"country_code": "tr"}},
			{"place_id": 5, "name": "Trabzon Creek", "lat": "1", "lon": "1", "class": "waterway", "importance": 0.01, "address": {"country_code": "tr"}},
			{"place_id": 6, "name": "Trabzon", "lat": "41.01", "lon": "39.71", "class": "boundary", "importance": 0.5, "address": {"state": "Trabzon", "country_code": "tr"}},
			{"place_id": 7, "name": "Akçaabat", "lat": "41.02", "lon": "39.57", "class": "place", "importance": 0.3, "address": {"state": "Trabzon", "country_code": "tr"}}
		]`))
	}, nil)

	suggestions := service.Suggest(context.Background(), "Trabzon", settings.RegionAll)
	require.Len(t, suggestions, 3)
	require.Equal(t, CitySuggestion{ID: 2, Name: "Trabzon", Region: "Trabzon", Country: "TR", Latitude: 41.0027, Longitude: 39.7168}, suggestions[0])
	require.Equal(t, "Akçaabat", suggestions[1].Name)
	require.Equal(t, "US", suggestions[2].Country)

	turkish := service.Suggest(context.Background(), "Trabzon", settings.RegionTurkey)
	require.Len(t, turkish, 2)
}

func TestSuggestionsFromNominatimCapAtSix(t *testing.T) {
	var results []nominatimResult
	for index := 0; index < 10; index++ {
		result := nominatimResult{PlaceID: int64(index), Name: string(rune('A' + index)), Class: "place", Importance: 0.5}
		result.Address.CountryCode = "de"
		results = append(results, result)
	}
	require.Len(t, suggestionsFromNominatim(results), maxRemoteSuggestions)
}

func TestSuggestFallsBackWhenNominatimFails(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	service := newTestCityService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, zap.New(core))

	suggestions := service.Suggest(context.Background(), "Rize", settings.RegionAll)
	require.NotNil(t, suggestions)
	require.Empty(t, suggestions)
	require.Equal(t, 1, logs.FilterMessage("nominatim search failed; using fallback table").Len())
}

func TestFilterByRegion(t *testing.T) {
	cities := []CitySuggestion{
		{Name: "Ankara", Country: "TR"},
		{Name: "Cairo", Country: "EG"},
		{Name: "Tokyo", Country: "JP"},
		{Name: "Sydney", Country: "AU"},
	}
	require.Equal(t, []string{"Ankara", "Tokyo"}, suggestionNames(FilterByRegion(cities, settings.RegionAsia)))
	require.Equal(t, []string{"Cairo"}, suggestionNames(FilterByRegion(cities, settings.RegionAfrica)))
	require.Equal(t, []string{"Sydney"}, suggestionNames(FilterByRegion(cities, settings.RegionOceania)))
	require.Len(t, FilterByRegion(cities, settings.RegionAll), 4)
	require.Empty(t, FilterByRegion(cities, settings.RegionSouthAmerica))
}
