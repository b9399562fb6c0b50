package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultNominatimBaseURL = "https://nominatim.openstreetmap.org"
	minQueryLength          = 3
	maxRemoteSuggestions    = 6
	maxFallbackSuggestions  = 8
	nominatimResultLimit    = 30
	minImportance           = 0.05
	userAgent               = "weatherdash/1.0"
	searchCountryCodes      = "tr,us,gb,de,fr,it,es,nl,at,ch,ca,au,jp,cn,in,br,ar,mx,ru,ua,pl,cz,hu,ro,bg,hr,si,sk,ee,lv,lt,fi,se,no,dk,ie,pt,gr,cy,mt,lu,be"
)

var fallbackCities = []CitySuggestion{
	{ID: 1, Name: "İstanbul", Region: "İstanbul", Country: "TR", Latitude: 41.0082, Longitude: 28.9784},
	{ID: 2, Name: "Ankara", Region: "Ankara", Country: "TR", Latitude: 39.9334, Longitude: 32.8597},
	{ID: 3, Name: "İzmir", Region: "İzmir", Country: "TR", Latitude: 38.4192, Longitude: 27.1287},
	{ID: 4, Name: "Bursa", Region: "Bursa", Country: "TR", Latitude: 40.1885, Longitude: 29.0610},
	{ID: 5, Name: "Antalya", Region: "Antalya", Country: "TR", Latitude: 36.8969, Longitude: 30.7133},
	{ID: 6, Name: "Adana", Region: "Adana", Country: "TR", Latitude: 37.0000, Longitude: 35.3213},
	{ID: 7, Name: "Konya", Region: "Konya", Country: "TR", Latitude: 37.8667, Longitude: 32.4833},
	{ID: 8, Name: "Gaziantep", Region: "Gaziantep", Country: "TR", Latitude: 37.0662, Longitude: 37.3833},
	{ID: 9, Name: "Mersin", Region: "Mersin", Country: "TR", Latitude: 36.8000, Longitude: 34.6333},
	{ID: 10, Name: "Diyarbakır", Region: "Diyarbakır", Country: "TR", Latitude: 37.9144, Longitude: 40.2306},

	{ID: 101, Name: "London", Region: "England", Country: "GB", Latitude: 51.5074, Longitude: -0.1278},
	{ID: 102, Name: "Paris", Region: "Île-de-France", Country: "FR", Latitude: 48.8566, Longitude: 2.3522},
	{ID: 103, Name: "Berlin", Region: "Berlin", Country: "DE", Latitude: 52.5200, Longitude: 13.4050},
	{ID: 104, Name: "New York", Region: "New York", Country: "US", Latitude: 40.7128, Longitude: -74.0060},
	{ID: 105, Name: "Tokyo", Region: "Tokyo", Country: "JP", Latitude: 35.6762, Longitude: 139.6503},
	{ID: 106, Name: "Sydney", Region: "New South Wales", Country: "AU", Latitude: -33.8688, Longitude: 151.2093},
	{ID: 107, Name: "Cairo", Region: "Cairo", Country: "EG", Latitude: 30.0444, Longitude: 31.2357},
	{ID: 108, Name: "São Paulo", Region: "São Paulo", Country: "BR", Latitude: -23.5505, Longitude: -46.6333},
}

var regionCountries = map[settings.Region][]string{
	settings.RegionTurkey: {"TR"},
	settings.RegionEurope: {"AT", "BE", "BG", "HR", "CY", "CZ", "DK", "EE", "FI", "FR", "DE", "GR", "HU", "IE", "IT", "LV", "LT", "LU", "MT", "NL", "PL", "PT", "RO", "SK", "SI", "ES", "SE", "GB"},
	settings.RegionAfrica: {"DZ", "AO", "BJ", "BW", "BF", "BI", "CM", "CV", "CF", "TD", "KM", "CG", "CD", "DJ", "EG", "GQ", "ER", "ET", "GA", "GM", "GH", "GN", "GW", "CI", "KE", "LS", "LR", "LY", "MG", "MW", "ML", "MR", "MU", "YT", "MA", "MZ", "NA", "NE", "NG", "RE", "RW", "SH", "ST", "SN", "SC", "SL", "SO", "ZA", "SS", "SD", "SZ", "TZ", "TG", "TN", "UG", "EH", "ZM", "ZW"},
	settings.RegionNorthAmerica: {"CA", "MX", "US"},
	settings.RegionSouthAmerica: {"AR", "BO", "BR", "CL", "CO", "EC", "FK", "GF", "GY", "PY", "PE", "SR", "UY", "VE"},
	settings.RegionAsia:         {"AF", "AM", "AZ", "BH", "BD", "BT", "BN", "KH", "CN", "GE", "HK", "IN", "ID", "IR", "IQ", "IL", "JP", "JO", "KZ", "KW", "KG", "LA", "LB", "MO", "MY", "MV", "MN", "MM", "NP", "KP", "OM", "PK", "PS", "PH", "QA", "SA", "SG", "KR", "LK", "SY", "TW", "TJ", "TH", "TL", "TR", "TM", "AE", "UZ", "VN", "YE"},
	settings.RegionOceania:      {"AS", "AU", "CK", "FJ", "PF", "GU", "KI", "MH", "FM", "NR", "NC", "NZ", "NU", "NF", "MP", "PW", "PG", "PN", "WS", "SB", "TK", "TO", "TV", "VU", "WF"},
}

// CityConfig wires the city suggestion service.
type CityConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Backoff    BackoffConfig
	Logger     *zap.Logger
}

// CityService suggests cities from a static table, falling back to Nominatim.
type CityService struct {
	baseURL string
	http    *http.Client
	backoff BackoffConfig
	circuit *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewCityService constructs a city suggestion service.
func NewCityService(cfg CityConfig) *CityService {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultNominatimBaseURL
	}
	backoff := cfg.Backoff
	if backoff.InitialInterval <= 0 {
		backoff = DefaultBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CityService{
		baseURL: baseURL,
		http:    httpClient,
		backoff: backoff,
		circuit: newCircuitBreaker("nominatim"),
		logger:  logger,
	}
}

// Suggest returns city candidates for query narrowed to region. Queries
// shorter than three characters yield nothing. Upstream failures degrade to
// the static table.
func (s *CityService) Suggest(ctx context.Context, query string, region settings.Region) []CitySuggestion {
	trimmed := strings.TrimSpace(query)
	if utf8.RuneCountInString(trimmed) < minQueryLength {
		return []CitySuggestion{}
	}

	if matches := FallbackSuggestions(trimmed); len(matches) > 0 {
		return FilterByRegion(matches, region)
	}

	suggestions, err := s.searchNominatim(ctx, trimmed)
	if err != nil {
		s.logger.Warn("nominatim search failed; using fallback table", zap.String("query", trimmed), zap.Error(err))
		return FilterByRegion(FallbackSuggestions(trimmed), region)
	}
	return FilterByRegion(suggestions, region)
}

// FallbackSuggestions matches the static table by name or region, ignoring
// case and diacritics.
func FallbackSuggestions(query string) []CitySuggestion {
	needle := foldName(query)
	if needle == "" {
		return []CitySuggestion{}
	}
	matches := make([]CitySuggestion, 0, maxFallbackSuggestions)
	for _, city := range fallbackCities {
		if strings.Contains(foldName(city.Name), needle) || strings.Contains(foldName(city.Region), needle) {
			matches = append(matches, city)
			if len(matches) == maxFallbackSuggestions {
				break
			}
		}
	}
	return matches
}

// FilterByRegion keeps suggestions whose country belongs to region. Unknown
// regions and ALL pass everything.
func FilterByRegion(cities []CitySuggestion, region settings.Region) []CitySuggestion {
	countries, ok := regionCountries[region]
	if !ok {
		return cities
	}
	filtered := make([]CitySuggestion, 0, len(cities))
	for _, city := range cities {
		for _, code := range countries {
			if city.Country == code {
				filtered = append(filtered, city)
				break
			}
		}
	}
	return filtered
}

type nominatimResult struct {
	PlaceID    int64   `json:"place_id"`
	Name       string  `json:"name"`
	Lat        string  `json:"lat"`
	Lon        string  `json:"lon"`
	Class      string  `json:"class"`
	Importance float64 `json:"importance"`
	Address    struct {
		City        string `json:"city"`
		State       string `json:"state"`
		CountryCode string `json:"country_code"`
	} `json:"address"`
}

func (s *CityService) searchNominatim(ctx context.Context, query string) ([]CitySuggestion, error) {
	values := url.Values{}
	values.Set("q", query)
	values.Set("format", "json")
	values.Set("limit", strconv.Itoa(nominatimResultLimit))
	values.Set("addressdetails", "1")
	values.Set("accept-language", "tr,en")
	values.Set("countrycodes", searchCountryCodes)
	endpoint := s.baseURL + "/search?" + values.Encode()

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, s.http, s.backoff, s.circuit, buildRequest)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: nominatim status %d", ErrUpstream, resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("%w: decode nominatim: %v", ErrUpstream, err)
	}
	return suggestionsFromNominatim(results), nil
}

func suggestionsFromNominatim(results []nominatimResult) []CitySuggestion {
	suggestions := make([]CitySuggestion, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, result := range results {
		if !acceptNominatimResult(result) {
			continue
		}
		name := result.Address.City
		if name == "" {
			name = result.Name
		}
		country := strings.ToUpper(result.Address.CountryCode)
		key := name + "\x00" + country
		if _, duplicate := seen[key]; duplicate {
			continue
		}
		seen[key] = struct{}{}
		lat, _ := strconv.ParseFloat(result.Lat, 64)
		lon, _ := strconv.ParseFloat(result.Lon, 64)
		suggestions = append(suggestions, CitySuggestion{
			ID:        result.PlaceID,
			Name:      name,
			Region:    result.Address.State,
			Country:   country,
			Latitude:  lat,
			Longitude: lon,
		})
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Country == "TR" && suggestions[j].Country != "TR"
	})
	if len(suggestions) > maxRemoteSuggestions {
		suggestions = suggestions[:maxRemoteSuggestions]
	}
	return suggestions
}

func acceptNominatimResult(result nominatimResult) bool {
	if result.Importance <= minImportance {
		return false
	}
	lowered := strings.ToLower(result.Name)
	if strings.Contains(lowered, "platform") || strings.Contains(lowered, "stop") {
		return false
	}
	switch result.Class {
	case "place", "boundary", "waterway":
		return true
	default:
		return false
	}
}

// foldName lowercases and strips combining marks so "izmir" matches "İzmir".
func foldName(value string) string {
	dotless := runes.Map(func(r rune) rune {
		if r == 'ı' {
			return 'i'
		}
		return r
	})
	chain := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), dotless, norm.NFC)
	folded, _, err := transform.String(chain, strings.TrimSpace(value))
	if err != nil {
		folded = value
	}
	return strings.ToLower(folded)
}
