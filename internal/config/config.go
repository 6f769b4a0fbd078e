// Package config reads application settings from environment variables,
// falling back to local-development defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds application-level settings. Database connection settings
// live with the database package.
type Config struct {
	// Port the HTTP server listens on.
	Port string
	// Capacity is the number of confirmed seats per event. A single
	// constant shared by all events; per-event overrides are a possible
	// extension.
	Capacity int
	// EmailDomain is the organization's allowed email domain. Signups
	// from any other domain are rejected.
	EmailDomain string
	// SeedFile optionally points at a JSON file of events upserted at
	// startup.
	SeedFile string
}

// FromEnv builds a Config from environment variables.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:        getEnv("PORT", "8080"),
		EmailDomain: strings.TrimPrefix(getEnv("ALLOWED_EMAIL_DOMAIN", "wwt.com"), "@"),
		SeedFile:    os.Getenv("SEED_FILE"),
	}

	capacity, err := strconv.Atoi(getEnv("SIGNUP_CAPACITY", "6"))
	if err != nil {
		return Config{}, fmt.Errorf("parse SIGNUP_CAPACITY: %w", err)
	}
	if capacity <= 0 {
		return Config{}, fmt.Errorf("SIGNUP_CAPACITY must be positive, got %d", capacity)
	}
	cfg.Capacity = capacity

	if cfg.EmailDomain == "" {
		return Config{}, fmt.Errorf("ALLOWED_EMAIL_DOMAIN must not be empty")
	}
	return cfg, nil
}

// SeedEvent is one entry in the optional startup seed file.
type SeedEvent struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	StartsAt string `json:"startsAt"`
	Location string `json:"location"`
	Address  string `json:"address"`
}

// LoadSeeds parses the seed file at path.
func LoadSeeds(path string) ([]SeedEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seeds []SeedEvent
	if err := json.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return seeds, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
