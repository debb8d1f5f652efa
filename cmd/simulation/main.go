// Command simulation drives a running server end to end in paper mode: it
// authenticates, creates a screening profile, runs manual scans, places a
// manual trade, and prints per-route latency statistics.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serverAddress = "http://localhost:8080"

var symbols = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "META", "NVDA", "TSLA", "JPM"}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes min, max, mean and p95 from recorded durations.
func (rs *routeStats) calculate() (min, max, mean, p95 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})
	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var total time.Duration
	for _, d := range rs.durations {
		total += d
	}
	mean = total / time.Duration(len(rs.durations))
	p95 = rs.durations[(len(rs.durations)*95)/100]
	return min, max, mean, p95
}

type client struct {
	http  *http.Client
	token string
	stats map[string]*routeStats
}

func newClient() *client {
	return &client{
		http:  &http.Client{Timeout: 60 * time.Second},
		stats: make(map[string]*routeStats),
	}
}

func (c *client) call(name, method, path string, body interface{}) (map[string]interface{}, error) {
	rs, ok := c.stats[name]
	if !ok {
		rs = &routeStats{name: name}
		c.stats[name] = rs
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverAddress+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	rs.addDuration(time.Since(started))
	if err != nil {
		rs.failures++
		return nil, err
	}
	defer resp.Body.Close()

	var envelope map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		rs.failures++
		return nil, err
	}
	if resp.StatusCode >= 500 {
		rs.failures++
		return envelope, fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	return envelope, nil
}

func main() {
	c := newClient()

	// Authenticate with the demo credentials
	tokenResp, err := c.call("auth", "POST", "/api/v1/auth/token", map[string]string{
		"api_key":    "screener-demo-key",
		"api_secret": "screener-demo-secret",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("authentication failed")
	}
	data := tokenResp["data"].(map[string]interface{})
	c.token = data["jwt_token"].(string)
	log.Info().Msg("authenticated")

	// Create a momentum-style stock profile over the demo universe
	profileResp, err := c.call("create_profile", "POST", "/api/v1/profiles", map[string]interface{}{
		"name":       "sim momentum",
		"asset_kind": "stock",
		"symbols":    symbols,
		"params": map[string]interface{}{
			"version": 1,
			"stock": map[string]interface{}{
				"price":       map[string]float64{"min": 10},
				"macd_signal": "bullish",
			},
		},
		"auto_execute":    true,
		"max_order_value": 500,
		"stop_loss_pct":   5,
		"take_profit_pct": 10,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("profile creation failed")
	}
	profileID := profileResp["data"].(map[string]interface{})["id"].(float64)
	log.Info().Float64("profile_id", profileID).Msg("profile created")

	// Run a few manual scans; auto-execute sends matches through the risk
	// gate and into paper trades
	for i := 0; i < 3; i++ {
		scanResp, err := c.call("scan", "POST",
			fmt.Sprintf("/api/v1/profiles/%.0f/scan", profileID), nil)
		if err != nil {
			log.Error().Err(err).Msg("scan failed")
			continue
		}
		if d, ok := scanResp["data"].(map[string]interface{}); ok {
			log.Info().
				Float64("matches", d["match_count"].(float64)).
				Float64("duration_ms", d["duration_ms"].(float64)).
				Msg("scan completed")
		}
		time.Sleep(2 * time.Second)
	}

	// Manual trade through the risk gate
	if _, err := c.call("trade", "POST", "/api/v1/trades", map[string]interface{}{
		"symbol":   "AAPL",
		"side":     "buy",
		"quantity": 2,
	}); err != nil {
		log.Error().Err(err).Msg("manual trade failed")
	}

	// Read back state
	for name, path := range map[string]string{
		"positions":   "/api/v1/positions",
		"trades":      "/api/v1/trades",
		"rate_limits": "/api/v1/rate-limits",
		"job_runs":    "/api/v1/job-runs",
	} {
		if _, err := c.call(name, "GET", path, nil); err != nil {
			log.Error().Err(err).Str("route", name).Msg("read failed")
		}
	}

	// Print per-route statistics
	names := make([]string, 0, len(c.stats))
	for name := range c.stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rs := c.stats[name]
		min, max, mean, p95 := rs.calculate()
		log.Info().
			Str("route", rs.name).
			Int("calls", rs.totalCalls).
			Int("failures", rs.failures).
			Dur("min", min).
			Dur("max", max).
			Dur("mean", mean).
			Dur("p95", p95).
			Msg("route statistics")
	}
}
