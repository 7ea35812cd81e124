// Package reliefweb implements the ReliefWeb disasters provider. Each disaster
// becomes a single country-level event observation.
package reliefweb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
	"github.com/couchcryptid/humanitarian-data-etl/internal/source"
)

// Name is the ReliefWeb source tag.
const Name = "ReliefWeb"

// DefaultBaseURL is the ReliefWeb API host.
const DefaultBaseURL = "https://api.reliefweb.int"

// Variable codes.
const (
	FloodEvents    = "reliefweb_flood_events"
	DroughtEvents  = "reliefweb_drought_events"
	ConflictEvents = "reliefweb_conflict_events"
)

const pageLimit = 1000

// Config holds ReliefWeb settings. The API is public; AppName identifies us.
type Config struct {
	BaseURL string
	AppName string
}

// filter is the server-side query and the client-side type keywords for a variable.
type filter struct {
	query    string
	keywords []string
}

var filters = map[string]filter{
	FloodEvents:    {query: "flood", keywords: []string{"flood"}},
	DroughtEvents:  {query: "drought", keywords: []string{"drought"}},
	ConflictEvents: {query: "conflict OR violence OR displacement", keywords: []string{"conflict", "violence", "war", "armed", "displacement"}},
}

// Adapter retrieves ReliefWeb disasters for the configured country.
type Adapter struct {
	cfg    Config
	deps   source.Deps
	client *source.Client
	loc    *source.Locator
}

// New creates the ReliefWeb adapter.
func New(cfg Config, deps source.Deps) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Adapter{
		cfg:    cfg,
		deps:   deps,
		client: source.NewClient(Name, deps.HTTP, deps.Clock, deps.Metrics, deps.Logger),
		loc:    deps.Locator(Name),
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Variables() []domain.Variable {
	return []domain.Variable{
		{Code: FloodEvents, Name: "Flood disasters (ReliefWeb)", Source: Name, Unit: "events"},
		{Code: DroughtEvents, Name: "Drought disasters (ReliefWeb)", Source: Name, Unit: "events"},
		{Code: ConflictEvents, Name: "Conflict disasters (ReliefWeb)", Source: Name, Unit: "events"},
	}
}

// Retrieve fetches the latest disasters matching the variable's keyword query.
// The API has no date filter; old records are dropped in Process.
func (a *Adapter) Retrieve(ctx context.Context, v domain.Variable, opts source.RetrieveOptions) (domain.RawBatch, error) {
	if err := source.RequireEnv(Name, source.Credential{Env: "RELIEFWEB_APPNAME", Value: a.cfg.AppName}); err != nil {
		return domain.RawBatch{}, err
	}
	f, ok := filters[v.Code]
	if !ok {
		return domain.RawBatch{}, &domain.ConfigurationError{Source: Name, Message: "unknown variable " + v.Code}
	}

	params := url.Values{
		"appname":       {a.cfg.AppName},
		"profile":       {"full"},
		"preset":        {"latest"},
		"limit":         {strconv.Itoa(pageLimit)},
		"filter[field]": {"country.iso3"},
		"filter[value]": {a.deps.Scope.PrimaryISO3()},
		"query[value]":  {f.query},
	}
	log := a.deps.Log(Name, v)

	body, err := a.client.Get(ctx, a.cfg.BaseURL+"/v2/disasters?"+params.Encode(), nil)
	if err != nil {
		return domain.RawBatch{}, err
	}
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.RawBatch{}, &domain.RetrievalError{Source: Name, Kind: domain.RetrievalFailed, Message: "decode response", Err: err}
	}
	log.Info("retrieved disasters", "count", resp.Count, "total", resp.TotalCount)
	return a.deps.Save(opts, Name, v.Code, body)
}

type response struct {
	TotalCount int               `json:"totalCount"`
	Count      int               `json:"count"`
	Data       []json.RawMessage `json:"data"`
}

type disaster struct {
	ID     any `json:"id"`
	Fields struct {
		Name        string `json:"name"`
		Status      string `json:"status"`
		Glide       string `json:"glide"`
		Description string `json:"description"`
		URL         string `json:"url"`
		Type        []struct {
			Name string `json:"name"`
		} `json:"type"`
		Country []struct {
			Name string `json:"name"`
			ISO3 string `json:"iso3"`
		} `json:"country"`
		Date struct {
			Created string `json:"created"`
		} `json:"date"`
	} `json:"fields"`
}

func (d disaster) id() string {
	switch id := d.ID.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return ""
}

func (d disaster) hasType(keywords []string) bool {
	for _, t := range d.Fields.Type {
		name := strings.ToLower(t.Name)
		for _, k := range keywords {
			if strings.Contains(name, k) {
				return true
			}
		}
	}
	return false
}

// Process emits one observation (value 1) per disaster created on or after the
// history start whose type fits the variable.
func (a *Adapter) Process(ctx context.Context, v domain.Variable, batch domain.RawBatch) (domain.ProcessingResult, error) {
	var res domain.ProcessingResult
	f, ok := filters[v.Code]
	if !ok {
		return res, &domain.ConfigurationError{Source: Name, Message: "unknown variable " + v.Code}
	}
	var resp response
	if err := json.Unmarshal(batch.Body, &resp); err != nil {
		return res, fmt.Errorf("decode ReliefWeb response: %w", err)
	}
	log := a.deps.Log(Name, v)
	cutoff := domain.Day(a.deps.Scope.HistoryStart)

	for _, raw := range resp.Data {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		var d disaster
		if err := json.Unmarshal(raw, &d); err != nil {
			res.Fail(&domain.RecordParsingError{Source: Name, Err: err})
			continue
		}
		id := d.id()
		if id == "" {
			res.Fail(&domain.RecordParsingError{Source: Name, Field: "id", Err: errors.New("missing")})
			continue
		}
		created, err := domain.ParseDate(d.Fields.Date.Created)
		if err != nil {
			res.Fail(&domain.RecordParsingError{Source: Name, RecordID: id, Field: "date.created", Err: err})
			continue
		}
		if created.Before(cutoff) || !d.hasType(f.keywords) {
			res.Skip()
			continue
		}

		country := a.deps.Scope.CountryName
		if len(d.Fields.Country) > 0 && d.Fields.Country[0].Name != "" {
			country = d.Fields.Country[0].Name
		}
		match, err := a.loc.Resolve(ctx, country, source.Hint{Accuracy: "ADM0", Context: d.Fields.Name})
		if err != nil {
			log.Debug("location not matched", "location", country, "record", id)
			res.Skip()
			continue
		}

		text := strings.TrimSpace(d.Fields.Description)
		if text == "" {
			text = d.Fields.Name
		}
		res.Add(domain.Observation{
			SourceRecordID:   "reliefweb-" + id,
			Source:           Name,
			VariableCode:     v.Code,
			Location:         match.Location,
			OriginalLocation: country,
			Value:            1,
			Unit:             v.Unit,
			Period:           domain.PeriodEvent,
			StartDate:        created,
			EndDate:          created,
			Text:             text,
		})
	}

	log.Info("processed disasters", "records", len(resp.Data), "processed", res.Processed, "skipped", res.Skipped, "errors", len(res.Errors))
	return res, nil
}
