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

// IDUName is the source tag for the IDU feed.
const IDUName = "IDMC IDU"

// IDU variable codes.
const (
	IDUNewDisplacements      = "idmc_idu_new_displacements"
	IDUConflictDisplacements = "idmc_idu_conflict_displacements"
	IDUDisasterDisplacements = "idmc_idu_disaster_displacements"
)

const recentWindow = 180 * 24 * time.Hour

// IDU adapts the IDMC Internal Displacement Updates feed. The endpoint returns
// every country, so country filtering happens in Process.
type IDU struct {
	cfg    Config
	deps   source.Deps
	client *source.Client
	loc    *source.Locator
}

// NewIDU creates the IDU adapter.
func NewIDU(cfg Config, deps source.Deps) *IDU {
	return &IDU{
		cfg:    cfg,
		deps:   deps,
		client: source.NewClient(IDUName, deps.HTTP, deps.Clock, deps.Metrics, deps.Logger),
		loc:    deps.Locator(IDUName),
	}
}

func (a *IDU) Name() string { return IDUName }

func (a *IDU) Variables() []domain.Variable {
	return []domain.Variable{
		{Code: IDUNewDisplacements, Name: "New displacements (IDU)", Source: IDUName, Unit: unitPeople},
		{Code: IDUConflictDisplacements, Name: "Conflict displacements (IDU)", Source: IDUName, Unit: unitPeople},
		{Code: IDUDisasterDisplacements, Name: "Disaster displacements (IDU)", Source: IDUName, Unit: unitPeople},
	}
}

// Retrieve fetches the full IDU feed, or only the last 180 days when the
// incremental start falls inside that window.
func (a *IDU) Retrieve(ctx context.Context, v domain.Variable, opts source.RetrieveOptions) (domain.RawBatch, error) {
	if err := a.cfg.require(IDUName); err != nil {
		return domain.RawBatch{}, err
	}

	endpoint := "/external-api/idus/all/"
	if !opts.Since.IsZero() && a.deps.Since(opts.Since) < recentWindow {
		endpoint = "/external-api/idus/last-180-days/"
	}
	u := a.cfg.baseURL() + endpoint + "?" + url.Values{"client_id": {a.cfg.APIKey}}.Encode()

	log := a.deps.Log(IDUName, v)
	log.Info("retrieving IDU feed", "endpoint", endpoint)

	body, err := a.client.Get(ctx, u, nil)
	if err != nil {
		return domain.RawBatch{}, err
	}
	if !json.Valid(body) {
		return domain.RawBatch{}, &domain.RetrievalError{Source: IDUName, Kind: domain.RetrievalFailed, Message: "response is not JSON"}
	}
	return a.deps.Save(opts, IDUName, v.Code, body)
}

type iduRecord struct {
	ID                    int64    `json:"id"`
	ISO3                  string   `json:"iso3"`
	Country               string   `json:"country"`
	Figure                *float64 `json:"figure"`
	DisplacementType      string   `json:"displacement_type"`
	DisplacementDate      string   `json:"displacement_date"`
	DisplacementStartDate string   `json:"displacement_start_date"`
	DisplacementEndDate   string   `json:"displacement_end_date"`
	FigureCategory        string   `json:"figure_category"`
	Category              string   `json:"category"`
	Type                  string   `json:"type"`
	EventName             string   `json:"event_name"`
	StandardInfoText      string   `json:"standard_info_text"`
	LocationsName         string   `json:"locations_name"`
	LocationsAccuracy     string   `json:"locations_accuracy"`
}

// Process turns the IDU feed into one observation per (record, location segment).
func (a *IDU) Process(ctx context.Context, v domain.Variable, batch domain.RawBatch) (domain.ProcessingResult, error) {
	var res domain.ProcessingResult
	var records []iduRecord
	if err := json.Unmarshal(batch.Body, &records); err != nil {
		return res, fmt.Errorf("decode IDU feed: %w", err)
	}
	log := a.deps.Log(IDUName, v)

	for _, r := range records {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if !a.inScope(r) || !iduMatchesVariable(v.Code, r.DisplacementType) {
			res.Skip()
			continue
		}
		if r.Figure == nil {
			res.Fail(&domain.RecordParsingError{Source: IDUName, RecordID: iduID(r), Field: "figure", Err: errors.New("missing")})
			continue
		}
		if *r.Figure <= 0 {
			res.Skip()
			continue
		}

		start, end, period, err := iduDates(r)
		if err != nil {
			res.Fail(&domain.RecordParsingError{Source: IDUName, RecordID: iduID(r), Field: "displacement_date", Err: err})
			continue
		}
		segments := splitLocations(r.LocationsName)
		if len(segments) == 0 {
			res.Fail(&domain.RecordParsingError{Source: IDUName, RecordID: iduID(r), Field: "locations_name", Err: errors.New("missing")})
			continue
		}

		for i, seg := range segments {
			match, err := a.loc.Resolve(ctx, seg, source.Hint{
				Accuracy: r.LocationsAccuracy,
				Context:  r.EventName,
			})
			if err != nil {
				log.Debug("location not matched", "location", seg, "record", iduID(r))
				res.Skip()
				continue
			}
			recordID := "idu-" + iduID(r)
			if len(segments) > 1 {
				recordID += "-" + strconv.Itoa(i+1)
			}
			res.Add(domain.Observation{
				SourceRecordID:   recordID,
				Source:           IDUName,
				VariableCode:     v.Code,
				Location:         match.Location,
				OriginalLocation: r.LocationsName,
				Value:            *r.Figure,
				Unit:             unitPeople,
				Period:           period,
				StartDate:        start,
				EndDate:          end,
				Text:             iduText(v.Code, r, seg),
			})
		}
	}

	log.Info("processed IDU feed", "records", len(records), "processed", res.Processed, "skipped", res.Skipped, "errors", len(res.Errors))
	return res, nil
}

func (a *IDU) inScope(r iduRecord) bool {
	if r.ISO3 != "" && a.deps.Scope.HasISO3(r.ISO3) {
		return true
	}
	return r.Country != "" && strings.EqualFold(r.Country, a.deps.Scope.CountryName)
}

func iduMatchesVariable(code, displacementType string) bool {
	conflict, disaster := cause(displacementType)
	switch code {
	case IDUConflictDisplacements:
		return conflict
	case IDUDisasterDisplacements:
		return disaster
	default:
		return true
	}
}

func iduDates(r iduRecord) (time.Time, time.Time, domain.PeriodKind, error) {
	startStr := firstNonEmpty(r.DisplacementStartDate, r.DisplacementDate)
	if startStr == "" {
		return time.Time{}, time.Time{}, "", errors.New("missing")
	}
	start, end, err := domain.DateRange(startStr, firstNonEmpty(r.DisplacementEndDate, r.DisplacementDate))
	if err != nil {
		return time.Time{}, time.Time{}, "", err
	}
	if strings.EqualFold(r.FigureCategory, "IDPs") {
		ys, ye := domain.YearSpan(start.Year())
		return ys, ye, domain.PeriodYearly, nil
	}
	return start, end, domain.PeriodFor(start, end), nil
}

func iduID(r iduRecord) string {
	if r.ID != 0 {
		return strconv.FormatInt(r.ID, 10)
	}
	figure := ""
	if r.Figure != nil {
		figure = strconv.FormatFloat(*r.Figure, 'f', -1, 64)
	}
	return domain.RecordID("", r.ISO3, r.DisplacementDate, r.LocationsName, r.DisplacementType, figure)
}

func iduText(code string, r iduRecord, segment string) string {
	event := firstNonEmpty(source.Clip(r.EventName, 80), source.Clip(r.StandardInfoText, 80), source.PrimaryName(segment))
	switch code {
	case IDUConflictDisplacements:
		return "Conflict displacement: " + event
	case IDUDisasterDisplacements:
		return fmt.Sprintf("Disaster displacement: %s - %s - %s",
			firstNonEmpty(r.Category, "Unknown"), firstNonEmpty(r.Type, "Unknown"), source.PrimaryName(segment))
	default:
		return fmt.Sprintf("New displacements (%s): %s", firstNonEmpty(r.DisplacementType, "Unknown"), event)
	}
}

func splitLocations(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
