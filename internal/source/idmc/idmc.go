// Package idmc implements the IDMC providers: the Internal Displacement Updates
// feed (IDU) and the Global Internal Displacement Database (GIDD).
package idmc

import (
	"strings"

	"github.com/couchcryptid/humanitarian-data-etl/internal/source"
)

// DefaultBaseURL is the IDMC Helix API host.
const DefaultBaseURL = "https://helix-tools-api.idmcdb.org"

const (
	unitPeople = "people"
	envAPIKey  = "IDMC_API_KEY"
)

// Config holds IDMC connection settings.
type Config struct {
	BaseURL string
	APIKey  string
}

func (c Config) baseURL() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}

func (c Config) require(name string) error {
	return source.RequireEnv(name, source.Credential{Env: envAPIKey, Value: c.APIKey})
}

// cause classifies a displacement type or figure cause string.
func cause(s string) (conflict, disaster bool) {
	s = strings.ToLower(s)
	return strings.Contains(s, "conflict") || strings.Contains(s, "violence"), strings.Contains(s, "disaster")
}
