// Package domain models humanitarian observations ingested from external
// displacement and conflict datasets.
//
// # Data Sources
//
// Each provider publishes its own record shape:
//
//	IDMC GIDD   GeoJSON FeatureCollection of disaggregated displacement figures
//	IDMC IDU    JSON array of internal displacement updates (global, no server-side country filter)
//	ACLED       paged JSON of individual conflict events
//	IOM DTM     JSON envelope of admin2 IDP counts per reporting round
//	ReliefWeb   JSON envelope of disaster records
//
// Adapters decode these into typed records immediately after fetch and emit
// [Observation] values. Nothing downstream of an adapter sees an untyped map.
//
// # Locations
//
// Provider location strings are resolved against the gazetteer, a per-source
// alias table pointing at canonical [Location] records. A location string that
// cannot be resolved, even at country level, causes the record to be skipped
// and the name to be recorded for operator review. Observations never carry an
// empty location.
//
// # Periods
//
// Every observation spans [StartDate, EndDate] inclusive and is classified:
//
//	event   a single day (start == end)
//	period  a bounded span of distinct days
//	year    a yearly stock figure, always Jan 1 to Dec 31
//
// # ID Generation
//
// Observations are keyed by (SourceRecordID, VariableCode). Providers that ship
// a stable record id use it directly; otherwise [RecordID] derives a
// deterministic SHA-256 id from the record's identifying fields so reprocessing
// the same raw batch upserts instead of duplicating.
package domain
