// Package iomdtm implements the IOM Displacement Tracking Matrix provider:
// admin2-level IDP counts per reporting round.
package iomdtm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
	"github.com/couchcryptid/humanitarian-data-etl/internal/source"
)

// Name is the IOM DTM source tag.
const Name = "IOM DTM"

// DefaultBaseURL is the DTM API host.
const DefaultBaseURL = "https://dtmapi.iom.int"

// Displacement is the single IOM DTM variable.
const Displacement = "iom_dtm_displacement"

// minRefresh is how old the latest stored round must be before a new fetch.
// DTM publishes roughly weekly.
const minRefresh = 7 * 24 * time.Hour

// Config holds DTM connection settings.
type Config struct {
	BaseURL string
	APIKey  string
}

// Adapter retrieves admin2 displacement figures.
type Adapter struct {
	cfg    Config
	deps   source.Deps
	client *source.Client
	loc    *source.Locator
}

// New creates the IOM DTM adapter.
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
		{Code: Displacement, Name: "IDPs present (IOM DTM)", Source: Name, Unit: "people"},
	}
}

type response struct {
	IsSuccess     bool              `json:"isSuccess"`
	ErrorMessages []string          `json:"errorMessages"`
	Result        []json.RawMessage `json:"result"`
}

type record struct {
	ReportingDate      string   `json:"reportingDate"`
	Admin0Name         string   `json:"admin0Name"`
	Admin1Name         string   `json:"admin1Name"`
	Admin1Pcode        string   `json:"admin1Pcode"`
	Admin2Name         string   `json:"admin2Name"`
	Admin2Pcode        string   `json:"admin2Pcode"`
	NumPresentIdpInd   *float64 `json:"numPresentIdpInd"`
	DisplacementReason string   `json:"displacementReason"`
}

// Retrieve fetches admin2 rounds reported inside the window. When the latest
// stored round is under a week old, it returns domain.ErrUpToDate unless forced.
func (a *Adapter) Retrieve(ctx context.Context, v domain.Variable, opts source.RetrieveOptions) (domain.RawBatch, error) {
	if err := source.RequireEnv(Name, source.Credential{Env: "IOM_API_KEY", Value: a.cfg.APIKey}); err != nil {
		return domain.RawBatch{}, err
	}
	log := a.deps.Log(Name, v)

	if !opts.Since.IsZero() && !opts.Force {
		// Since is the day after the latest stored round.
		age := a.deps.Since(opts.Since.AddDate(0, 0, -1))
		if age < minRefresh {
			log.Info("skipping fetch, latest round is recent", "age", age.Round(time.Hour).String())
			return domain.RawBatch{}, domain.ErrUpToDate
		}
	}

	start, end := a.deps.Window(opts)
	params := url.Values{
		"Admin0Pcode":       {a.deps.Scope.PrimaryISO3()},
		"FromReportingDate": {start.Format(domain.DateLayout)},
		"ToReportingDate":   {end.Format(domain.DateLayout)},
	}
	header := http.Header{"Ocp-Apim-Subscription-Key": {a.cfg.APIKey}}

	body, err := a.client.Get(ctx, a.cfg.BaseURL+"/v3/displacement/admin2?"+params.Encode(), header)
	if err != nil {
		return domain.RawBatch{}, err
	}
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.RawBatch{}, &domain.RetrievalError{Source: Name, Kind: domain.RetrievalFailed, Message: "decode response", Err: err}
	}
	if !resp.IsSuccess {
		return domain.RawBatch{}, &domain.RetrievalError{Source: Name, Kind: domain.RetrievalFailed, Message: strings.Join(resp.ErrorMessages, "; ")}
	}

	log.Info("retrieved DTM rounds", "records", len(resp.Result), "from", params.Get("FromReportingDate"))
	return a.deps.Save(opts, Name, v.Code, body)
}

type groupKey struct {
	date  time.Time
	pcode string
}

type group struct {
	first record
	total float64
}

// Process sums IDPs present per (reporting date, admin2 pcode).
func (a *Adapter) Process(ctx context.Context, v domain.Variable, batch domain.RawBatch) (domain.ProcessingResult, error) {
	var res domain.ProcessingResult
	var resp response
	if err := json.Unmarshal(batch.Body, &resp); err != nil {
		return res, fmt.Errorf("decode DTM response: %w", err)
	}
	log := a.deps.Log(Name, v)

	groups := make(map[groupKey]*group)
	var order []groupKey
	for _, raw := range resp.Result {
		var r record
		if err := json.Unmarshal(raw, &r); err != nil {
			res.Fail(&domain.RecordParsingError{Source: Name, Err: err})
			continue
		}
		if strings.TrimSpace(r.Admin2Pcode) == "" {
			res.Skip()
			continue
		}
		date, err := domain.ParseDate(r.ReportingDate)
		if err != nil {
			res.Fail(&domain.RecordParsingError{Source: Name, RecordID: r.Admin2Pcode, Field: "reportingDate", Err: err})
			continue
		}
		key := groupKey{date: date, pcode: r.Admin2Pcode}
		g, ok := groups[key]
		if !ok {
			g = &group{first: r}
			groups[key] = g
			order = append(order, key)
		}
		if r.NumPresentIdpInd != nil && *r.NumPresentIdpInd > 0 {
			g.total += *r.NumPresentIdpInd
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		if !order[i].date.Equal(order[j].date) {
			return order[i].date.Before(order[j].date)
		}
		return order[i].pcode < order[j].pcode
	})

	for _, key := range order {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		g := groups[key]
		r := g.first
		original := strings.Join(nonEmpty(r.Admin0Name, r.Admin1Name, r.Admin2Name), ", ")

		match, err := a.loc.ResolveAny(ctx, []string{r.Admin2Name, r.Admin1Name}, source.Hint{
			Code:     r.Admin2Pcode,
			Accuracy: "ADM2",
			Context:  "Admin hierarchy: " + strings.Join(nonEmpty(r.Admin0Name, r.Admin1Name, r.Admin2Name), " > "),
		})
		if err != nil {
			log.Debug("location not matched", "location", original, "pcode", r.Admin2Pcode)
			res.Skip()
			continue
		}

		reason := strings.TrimSpace(r.DisplacementReason)
		if reason == "" {
			reason = "Unknown"
		}
		res.Add(domain.Observation{
			SourceRecordID:   domain.RecordID("iom", key.pcode, key.date.Format(domain.DateLayout)),
			Source:           Name,
			VariableCode:     v.Code,
			Location:         match.Location,
			OriginalLocation: original,
			Value:            g.total,
			Unit:             v.Unit,
			Period:           domain.PeriodEvent,
			StartDate:        key.date,
			EndDate:          key.date,
			Text:             reason,
		})
	}

	log.Info("processed DTM rounds", "records", len(resp.Result), "groups", len(order), "processed", res.Processed, "skipped", res.Skipped, "errors", len(res.Errors))
	return res, nil
}

func nonEmpty(vals ...string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}
