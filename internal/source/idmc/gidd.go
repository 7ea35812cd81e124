package idmc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
	"github.com/couchcryptid/humanitarian-data-etl/internal/source"
)

// GIDDName is the source tag for the GIDD database.
const GIDDName = "IDMC GIDD"

// GIDD variable codes.
const (
	GIDDConflictDisplacement = "idmc_gidd_conflict_displacement"
	GIDDDisasterDisplacement = "idmc_gidd_disaster_displacement"
	GIDDTotalDisplacement    = "idmc_gidd_total_displacement"
)

const giddEndpoint = "/external-api/gidd/disaggregations/disaggregation-geojson/"

// GIDD adapts the IDMC disaggregated GeoJSON export. One retrieval serves all
// three variables; Process filters by figure cause.
type GIDD struct {
	cfg    Config
	deps   source.Deps
	client *source.Client
	loc    *source.Locator
}

// NewGIDD creates the GIDD adapter.
func NewGIDD(cfg Config, deps source.Deps) *GIDD {
	return &GIDD{
		cfg:    cfg,
		deps:   deps,
		client: source.NewClient(GIDDName, deps.HTTP, deps.Clock, deps.Metrics, deps.Logger),
		loc:    deps.Locator(GIDDName),
	}
}

func (a *GIDD) Name() string { return GIDDName }

func (a *GIDD) Variables() []domain.Variable {
	return []domain.Variable{
		{Code: GIDDConflictDisplacement, Name: "Conflict displacement (GIDD)", Source: GIDDName, Unit: unitPeople},
		{Code: GIDDDisasterDisplacement, Name: "Disaster displacement (GIDD)", Source: GIDDName, Unit: unitPeople},
		{Code: GIDDTotalDisplacement, Name: "Total displacement (GIDD)", Source: GIDDName, Unit: unitPeople},
	}
}

// Retrieve fetches the GeoJSON export for the configured countries.
func (a *GIDD) Retrieve(ctx context.Context, v domain.Variable, opts source.RetrieveOptions) (domain.RawBatch, error) {
	if err := a.cfg.require(GIDDName); err != nil {
		return domain.RawBatch{}, err
	}

	start, end := a.deps.Window(opts)
	params := url.Values{
		"client_id":  {a.cfg.APIKey},
		"iso3__in":   {strings.Join(a.deps.Scope.ISO3, ",")},
		"start_date": {start.Format(domain.DateLayout)},
		"end_date":   {end.Format(domain.DateLayout)},
	}
	log := a.deps.Log(GIDDName, v)
	log.Info("retrieving GIDD export", "start", params.Get("start_date"), "end", params.Get("end_date"))

	body, err := a.client.Get(ctx, a.cfg.baseURL()+giddEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return domain.RawBatch{}, err
	}
	if !json.Valid(body) {
		return domain.RawBatch{}, &domain.RetrievalError{Source: GIDDName, Kind: domain.RetrievalFailed, Message: "response is not JSON"}
	}
	return a.deps.Save(opts, GIDDName, v.Code, body)
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Properties giddProperties `json:"properties"`
}

type giddProperties struct {
	ID                any      `json:"ID"`
	ISO3              string   `json:"ISO3"`
	Country           string   `json:"Country"`
	FigureCause       string   `json:"Figure cause"`
	FigureCategory    string   `json:"Figure category"`
	TotalFigures      *float64 `json:"Total figures"`
	Year              *int     `json:"Year"`
	EventName         string   `json:"Event name"`
	EventStartDate    string   `json:"Event start date"`
	EventEndDate      string   `json:"Event end date"`
	ViolenceType      string   `json:"Violence type"`
	HazardType        string   `json:"Hazard Type"`
	LocationsName     []string `json:"Locations name"`
	LocationsAccuracy []string `json:"Locations accuracy"`
}

// Process emits one observation per feature whose cause fits the variable.
// A conflict feature feeds both the conflict and the total variable.
func (a *GIDD) Process(ctx context.Context, v domain.Variable, batch domain.RawBatch) (domain.ProcessingResult, error) {
	var res domain.ProcessingResult
	var fc featureCollection
	if err := json.Unmarshal(batch.Body, &fc); err != nil {
		return res, fmt.Errorf("decode GIDD export: %w", err)
	}
	log := a.deps.Log(GIDDName, v)

	for _, f := range fc.Features {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		p := f.Properties
		id := giddID(p)

		if err := p.validate(); err != nil {
			res.Fail(&domain.RecordParsingError{Source: GIDDName, RecordID: id, Field: err.field, Err: err.err})
			continue
		}
		if !giddMatchesVariable(v.Code, p.FigureCause) || *p.TotalFigures <= 0 {
			res.Skip()
			continue
		}
		start, end, period, err := giddDates(p)
		if err != nil {
			res.Fail(&domain.RecordParsingError{Source: GIDDName, RecordID: id, Field: "Event start date", Err: err})
			continue
		}

		location := firstNonEmpty(p.LocationsName...)
		accuracy := ""
		if len(p.LocationsAccuracy) > 0 {
			accuracy = p.LocationsAccuracy[0]
		}
		match, err := a.loc.Resolve(ctx, location, source.Hint{Accuracy: accuracy, Context: p.EventName})
		if err != nil {
			log.Debug("location not matched", "location", location, "record", id)
			res.Skip()
			continue
		}

		res.Add(domain.Observation{
			SourceRecordID:   "gidd-" + id,
			Source:           GIDDName,
			VariableCode:     v.Code,
			Location:         match.Location,
			OriginalLocation: location,
			Value:            *p.TotalFigures,
			Unit:             unitPeople,
			Period:           period,
			StartDate:        start,
			EndDate:          end,
			Text:             giddText(p, location, start.Year()),
		})
	}

	log.Info("processed GIDD export", "features", len(fc.Features), "processed", res.Processed, "skipped", res.Skipped, "errors", len(res.Errors))
	return res, nil
}

type fieldError struct {
	field string
	err   error
}

func (p giddProperties) validate() *fieldError {
	missing := errors.New("missing")
	switch {
	case strings.TrimSpace(p.FigureCause) == "":
		return &fieldError{"Figure cause", missing}
	case p.TotalFigures == nil:
		return &fieldError{"Total figures", missing}
	case p.Year == nil && p.EventStartDate == "":
		return &fieldError{"Year", missing}
	case firstNonEmpty(p.LocationsName...) == "":
		return &fieldError{"Locations name", missing}
	}
	return nil
}

func giddMatchesVariable(code, figureCause string) bool {
	conflict, disaster := cause(figureCause)
	switch code {
	case GIDDConflictDisplacement:
		return conflict
	case GIDDDisasterDisplacement:
		return disaster
	default:
		return conflict || disaster
	}
}

// giddDates uses the event dates when present. Stock figures (IDPs) and
// features without event dates cover the whole year.
func giddDates(p giddProperties) (time.Time, time.Time, domain.PeriodKind, error) {
	if !strings.EqualFold(p.FigureCategory, "IDPs") && p.EventStartDate != "" {
		start, end, err := domain.DateRange(p.EventStartDate, p.EventEndDate)
		if err != nil {
			return time.Time{}, time.Time{}, "", err
		}
		return start, end, domain.PeriodFor(start, end), nil
	}
	year := 0
	if p.Year != nil {
		year = *p.Year
	} else {
		start, err := domain.ParseDate(p.EventStartDate)
		if err != nil {
			return time.Time{}, time.Time{}, "", err
		}
		year = start.Year()
	}
	start, end := domain.YearSpan(year)
	return start, end, domain.PeriodYearly, nil
}

func giddID(p giddProperties) string {
	switch id := p.ID.(type) {
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case string:
		if id != "" {
			return id
		}
	}
	year, figure := "", ""
	if p.Year != nil {
		year = strconv.Itoa(*p.Year)
	}
	if p.TotalFigures != nil {
		figure = strconv.FormatFloat(*p.TotalFigures, 'f', -1, 64)
	}
	return domain.RecordID("", p.ISO3, year, p.EventStartDate, strings.Join(p.LocationsName, ";"), p.FigureCause, figure)
}

func giddText(p giddProperties, location string, year int) string {
	category := firstNonEmpty(p.FigureCategory, "Displacement")
	conflict, _ := cause(p.FigureCause)
	if conflict {
		return fmt.Sprintf("%s - Conflict (%s) in %s (%d)", category, firstNonEmpty(p.ViolenceType, "unspecified"), location, year)
	}
	return fmt.Sprintf("%s - Disaster (%s) in %s (%d)", category, firstNonEmpty(p.HazardType, "unspecified"), location, year)
}
