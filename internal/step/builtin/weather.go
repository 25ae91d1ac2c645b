package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"alarmd/internal/step"
	"alarmd/pkg/logx"
)

// Weather reads today's forecast from the National Weather Service and adds
// an outfit suggestion based on temperature, wind and rain.
//
// Config:
//
//	latitude   (required)
//	longitude  (required)
type Weather struct {
	lat, lon float64
	latOK    bool
	lonOK    bool
	env      Env
}

type nwsPoints struct {
	Properties struct {
		Forecast string `json:"forecast"`
	} `json:"properties"`
}

type nwsForecast struct {
	Properties struct {
		Periods []nwsPeriod `json:"periods"`
	} `json:"properties"`
}

type nwsPeriod struct {
	Name             string `json:"name"`
	Temperature      int    `json:"temperature"`
	TemperatureUnit  string `json:"temperatureUnit"`
	WindSpeed        string `json:"windSpeed"`
	ShortForecast    string `json:"shortForecast"`
	DetailedForecast string `json:"detailedForecast"`
}

func newWeather(cfg step.Config, env Env) (step.Step, error) {
	w := &Weather{env: env}
	w.lat, w.latOK = cfg.Float("latitude")
	w.lon, w.lonOK = cfg.Float("longitude")
	return w, nil
}

func (w *Weather) Kind() string { return "weather" }

func (w *Weather) Validate() error {
	if !w.latOK {
		return step.Missing("latitude")
	}
	if !w.lonOK {
		return step.Missing("longitude")
	}
	if w.lat < -90 || w.lat > 90 {
		return step.Invalid("latitude", "out of range")
	}
	if w.lon < -180 || w.lon > 180 {
		return step.Invalid("longitude", "out of range")
	}
	return nil
}

func (w *Weather) Execute(ctx context.Context) error {
	period, err := w.fetchToday(ctx)
	if err != nil {
		return err
	}

	w.env.Log.Info("weather fetched",
		logx.String("period", period.Name),
		logx.Int("temp", period.Temperature),
		logx.String("wind", period.WindSpeed))

	report := fmt.Sprintf("%s: %s. %d degrees.", period.Name, period.ShortForecast, period.Temperature)
	if err := w.env.say(ctx, report); err != nil {
		return err
	}
	return w.env.say(ctx, outfitSuggestion(period))
}

func (w *Weather) fetchToday(ctx context.Context) (nwsPeriod, error) {
	pointsURL := fmt.Sprintf("https://api.weather.gov/points/%.4f,%.4f", w.lat, w.lon)
	var points nwsPoints
	if err := w.getJSON(ctx, pointsURL, &points); err != nil {
		return nwsPeriod{}, fmt.Errorf("weather points: %w", err)
	}
	if points.Properties.Forecast == "" {
		return nwsPeriod{}, fmt.Errorf("weather points: no forecast URL for %.4f,%.4f", w.lat, w.lon)
	}

	var fc nwsForecast
	if err := w.getJSON(ctx, points.Properties.Forecast, &fc); err != nil {
		return nwsPeriod{}, fmt.Errorf("weather forecast: %w", err)
	}
	if len(fc.Properties.Periods) == 0 {
		return nwsPeriod{}, fmt.Errorf("weather forecast: empty periods")
	}
	return fc.Properties.Periods[0], nil
}

func (w *Weather) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/geo+json")
	req.Header.Set("User-Agent", "alarmd (weather step)")
	resp, err := w.env.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (w *Weather) Stop() {}

func (w *Weather) Summary() string {
	return fmt.Sprintf("weather at %.4f,%.4f", w.lat, w.lon)
}

// outfitSuggestion maps the forecast to clothing advice. Thresholds are in
// Fahrenheit, matching the NWS default unit.
func outfitSuggestion(p nwsPeriod) string {
	var parts []string
	switch t := p.Temperature; {
	case t < 53:
		parts = append(parts, "wear a warm coat")
	case t < 60:
		parts = append(parts, "wear a jacket")
	case t < 69:
		parts = append(parts, "wear a long sleeve shirt")
	default:
		parts = append(parts, "short sleeves are fine")
	}
	if maxWindMPH(p.WindSpeed) > 14 {
		parts = append(parts, "it is windy, consider a windbreaker")
	}
	if strings.Contains(strings.ToLower(p.ShortForecast), "rain") ||
		strings.Contains(strings.ToLower(p.DetailedForecast), "rain") {
		parts = append(parts, "bring a rain jacket")
	}
	return "Today you should " + strings.Join(parts, ", and ") + "."
}

// maxWindMPH parses NWS wind strings like "10 mph" or "5 to 15 mph" and
// returns the highest figure.
func maxWindMPH(s string) int {
	max := 0
	for _, f := range strings.Fields(s) {
		if n, err := strconv.Atoi(f); err == nil && n > max {
			max = n
		}
	}
	return max
}
