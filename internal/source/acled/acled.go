// Package acled implements the ACLED conflict event provider. Events are
// aggregated per (location, day) into counts by event type.
package acled

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
	"github.com/couchcryptid/humanitarian-data-etl/internal/source"
)

// Name is the ACLED source tag.
const Name = "ACLED"

// DefaultBaseURL is the ACLED API host.
const DefaultBaseURL = "https://acleddata.com"

// Variable codes.
const (
	TotalEvents           = "acled_total_events"
	Fatalities            = "acled_fatalities"
	Battles               = "acled_battles"
	ViolenceCivilians     = "acled_violence_civilians"
	Explosions            = "acled_explosions"
	Riots                 = "acled_riots"
	StrategicDevelopments = "acled_strategic_developments"
)

const (
	defaultPageSize = 5000
	maxPages        = 200
	unitEvents      = "events"
	unitPeople      = "people"
)

// Config holds ACLED credentials and paging.
type Config struct {
	BaseURL  string
	Username string
	APIKey   string
	PageSize int
}

// Adapter retrieves ACLED events through a cookie session.
type Adapter struct {
	cfg    Config
	deps   source.Deps
	client *source.Client
	loc    *source.Locator
}

// New creates the ACLED adapter.
func New(cfg Config, deps source.Deps) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
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
		{Code: TotalEvents, Name: "Conflict events (ACLED)", Source: Name, Unit: unitEvents},
		{Code: Fatalities, Name: "Fatalities (ACLED)", Source: Name, Unit: unitPeople},
		{Code: Battles, Name: "Battles (ACLED)", Source: Name, Unit: unitEvents},
		{Code: ViolenceCivilians, Name: "Violence against civilians (ACLED)", Source: Name, Unit: unitEvents},
		{Code: Explosions, Name: "Explosions/Remote violence (ACLED)", Source: Name, Unit: unitEvents},
		{Code: Riots, Name: "Riots and protests (ACLED)", Source: Name, Unit: unitEvents},
		{Code: StrategicDevelopments, Name: "Strategic developments (ACLED)", Source: Name, Unit: unitEvents},
	}
}

type loginRequest struct {
	Name string `json:"name"`
	Pass string `json:"pass"`
}

type loginResponse struct {
	CurrentUser *struct {
		Name string `json:"name"`
	} `json:"current_user"`
}

type page struct {
	Count int               `json:"count"`
	Data  []json.RawMessage `json:"data"`
}

// artifact is the raw file layout: every page body, verbatim.
type artifact struct {
	Pages []json.RawMessage `json:"pages"`
}

// Retrieve logs in, then pages through events for the configured country until
// a short page.
func (a *Adapter) Retrieve(ctx context.Context, v domain.Variable, opts source.RetrieveOptions) (domain.RawBatch, error) {
	err := source.RequireEnv(Name,
		source.Credential{Env: "ACLED_USERNAME", Value: a.cfg.Username},
		source.Credential{Env: "ACLED_API_KEY", Value: a.cfg.APIKey},
	)
	if err != nil {
		return domain.RawBatch{}, err
	}
	log := a.deps.Log(Name, v)

	if err := a.login(ctx); err != nil {
		return domain.RawBatch{}, err
	}

	start, end := a.deps.Window(opts)
	var raw artifact
	for n := 1; n <= maxPages; n++ {
		params := url.Values{
			"country":          {a.deps.Scope.CountryName},
			"event_date":       {start.Format(domain.DateLayout) + "|" + end.Format(domain.DateLayout)},
			"event_date_where": {"BETWEEN"},
			"limit":            {strconv.Itoa(a.cfg.PageSize)},
			"page":             {strconv.Itoa(n)},
		}
		body, err := a.client.Get(ctx, a.cfg.BaseURL+"/api/acled/read?"+params.Encode(), nil)
		if err != nil {
			return domain.RawBatch{}, err
		}
		var p page
		if err := json.Unmarshal(body, &p); err != nil {
			return domain.RawBatch{}, &domain.RetrievalError{Source: Name, Kind: domain.RetrievalFailed, Message: "decode page " + strconv.Itoa(n), Err: err}
		}
		raw.Pages = append(raw.Pages, json.RawMessage(bytes.TrimSpace(body)))
		log.Debug("retrieved ACLED page", "page", n, "events", len(p.Data))
		if len(p.Data) < a.cfg.PageSize {
			break
		}
	}

	out, err := json.Marshal(raw)
	if err != nil {
		return domain.RawBatch{}, fmt.Errorf("encode ACLED artifact: %w", err)
	}
	log.Info("retrieved ACLED events", "pages", len(raw.Pages), "start", start.Format(domain.DateLayout), "end", end.Format(domain.DateLayout))
	return a.deps.Save(opts, Name, v.Code, out)
}

func (a *Adapter) login(ctx context.Context) error {
	if err := a.client.EnableCookies(); err != nil {
		return err
	}
	payload, err := json.Marshal(loginRequest{Name: a.cfg.Username, Pass: a.cfg.APIKey})
	if err != nil {
		return fmt.Errorf("encode login: %w", err)
	}
	body, err := a.client.Post(ctx, a.cfg.BaseURL+"/user/login?_format=json", payload, nil)
	if err != nil {
		return err
	}
	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.CurrentUser == nil {
		return &domain.RetrievalError{
			Source:  Name,
			Kind:    domain.RetrievalAuthenticationFailed,
			Message: "login response carries no current_user",
			Err:     err,
		}
	}
	return nil
}

// Process aggregates events by (location, day) and emits one observation per
// group with a non-zero count for v.
func (a *Adapter) Process(ctx context.Context, v domain.Variable, batch domain.RawBatch) (domain.ProcessingResult, error) {
	var res domain.ProcessingResult
	var raw artifact
	if err := json.Unmarshal(batch.Body, &raw); err != nil {
		return res, fmt.Errorf("decode ACLED artifact: %w", err)
	}
	log := a.deps.Log(Name, v)

	groups := make(map[groupKey]*group)
	var order []groupKey
	for i, body := range raw.Pages {
		var p page
		if err := json.Unmarshal(body, &p); err != nil {
			res.Fail(&domain.RecordParsingError{Source: Name, RecordID: "page-" + strconv.Itoa(i+1), Err: err})
			continue
		}
		for _, rawEvent := range p.Data {
			var e event
			if err := json.Unmarshal(rawEvent, &e); err != nil {
				res.Fail(&domain.RecordParsingError{Source: Name, Err: err})
				continue
			}
			key, err := e.key()
			if err != nil {
				res.Fail(err)
				continue
			}
			g, ok := groups[key]
			if !ok {
				g = &group{key: key, admin1: e.Admin1, admin2: e.Admin2, location: e.Location}
				groups[key] = g
				order = append(order, key)
			}
			g.events = append(g.events, e)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		if !order[i].date.Equal(order[j].date) {
			return order[i].date.Before(order[j].date)
		}
		return order[i].place < order[j].place
	})

	for _, key := range order {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		g := groups[key]
		value := g.value(v.Code)
		if value <= 0 {
			res.Skip()
			continue
		}
		match, err := a.loc.ResolveAny(ctx, g.names(), source.Hint{Context: g.hierarchy(a.deps.Scope.CountryName)})
		if err != nil {
			log.Debug("location not matched", "location", g.original())
			res.Skip()
			continue
		}
		res.Add(domain.Observation{
			SourceRecordID:   domain.RecordID("acled", key.place, key.date.Format(domain.DateLayout)),
			Source:           Name,
			VariableCode:     v.Code,
			Location:         match.Location,
			OriginalLocation: g.original(),
			Value:            value,
			Unit:             v.Unit,
			Period:           domain.PeriodEvent,
			StartDate:        key.date,
			EndDate:          key.date,
			Text:             g.text(v.Code),
		})
	}

	log.Info("processed ACLED events", "groups", len(order), "processed", res.Processed, "skipped", res.Skipped, "errors", len(res.Errors))
	return res, nil
}

type event struct {
	ID           string  `json:"event_id_cnty"`
	EventDate    string  `json:"event_date"`
	EventType    string  `json:"event_type"`
	DisorderType string  `json:"disorder_type"`
	Admin1       string  `json:"admin1"`
	Admin2       string  `json:"admin2"`
	Location     string  `json:"location"`
	Fatalities   flexInt `json:"fatalities"`
	Notes        string  `json:"notes"`
}

type groupKey struct {
	place string
	date  time.Time
}

func (e event) key() (groupKey, error) {
	place := firstNonEmpty(e.Admin2, e.Admin1, e.Location)
	if place == "" {
		return groupKey{}, &domain.RecordParsingError{Source: Name, RecordID: e.ID, Field: "admin2", Err: errors.New("no location fields")}
	}
	date, err := domain.ParseDate(e.EventDate)
	if err != nil {
		return groupKey{}, &domain.RecordParsingError{Source: Name, RecordID: e.ID, Field: "event_date", Err: err}
	}
	return groupKey{place: place, date: date}, nil
}

type group struct {
	key      groupKey
	admin1   string
	admin2   string
	location string
	events   []event
}

func (g *group) value(code string) float64 {
	n := 0
	for _, e := range g.events {
		switch code {
		case TotalEvents:
			n++
		case Fatalities:
			n += int(e.Fatalities)
		default:
			if e.is(code) {
				n++
			}
		}
	}
	return float64(n)
}

func (e event) is(code string) bool {
	switch code {
	case Battles:
		return e.EventType == "Battles"
	case ViolenceCivilians:
		return e.EventType == "Violence against civilians"
	case Explosions:
		return e.EventType == "Explosions/Remote violence"
	case Riots:
		return e.EventType == "Riots" || e.EventType == "Protests" || e.DisorderType == "Demonstrations"
	case StrategicDevelopments:
		return e.EventType == "Strategic developments" || e.DisorderType == "Strategic developments"
	}
	return false
}

// names lists the group's place names, most specific first.
func (g *group) names() []string {
	if g.admin2 == "" && g.admin1 == "" {
		return []string{g.location}
	}
	return []string{g.admin2, g.admin1}
}

func (g *group) original() string {
	if g.admin2 != "" {
		return g.admin1 + " / " + g.admin2
	}
	return firstNonEmpty(g.admin1, g.location)
}

func (g *group) hierarchy(country string) string {
	parts := []string{country}
	for _, p := range []string{g.admin1, g.admin2} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " > ")
}

// text joins the notes of the events counted for code.
func (g *group) text(code string) string {
	var notes []string
	for _, e := range g.events {
		counted := code == TotalEvents || (code == Fatalities && e.Fatalities > 0) || e.is(code)
		if counted && strings.TrimSpace(e.Notes) != "" {
			notes = append(notes, strings.TrimSpace(e.Notes))
		}
	}
	if len(notes) == 0 {
		return "ACLED conflict events for " + g.key.date.Format(domain.DateLayout)
	}
	return strings.Join(notes, " | ")
}

// flexInt accepts ACLED's numbers-as-strings as well as plain numbers.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("fatalities %q: %w", s, err)
	}
	*f = flexInt(n)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
