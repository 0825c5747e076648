package silver

// Column-name variants across ingestion generations are resolved here.
// Each concept carries a priority-ordered list of historical spellings;
// the first one present in the actual bronze schema wins. A required
// concept with no match aborts the rebuild instead of silently
// yielding NULLs.

type colKind int

const (
	kindText colKind = iota
	kindInt
	kindBigint
	kindTimestamp
	kindDate
	kindMoney // BIGINT with negative values nulled
)

type colSpec struct {
	out        string
	candidates []string
	kind       colKind
	required   bool
}

// callsColumns maps bronze.calls spellings to calls_clean output
// columns. The ugly neighborhood variants are real: one sanitizer
// generation collapsed underscore runs, an earlier one did not.
var callsColumns = []colSpec{
	{out: "call_number", candidates: []string{"call_number", "callnumber"}, kind: kindBigint, required: true},
	{out: "incident_number", candidates: []string{"incident_number", "incidentnumber"}, kind: kindBigint},
	{out: "unit_id", candidates: []string{"unit_id", "unitid"}, kind: kindText},

	{out: "call_type", candidates: []string{"call_type", "calltype"}, kind: kindText},
	{out: "call_type_group", candidates: []string{"call_type_group", "calltypegroup"}, kind: kindText},
	{out: "original_priority", candidates: []string{"original_priority", "originalpriority"}, kind: kindInt},
	{out: "priority", candidates: []string{"priority"}, kind: kindInt},
	{out: "final_priority", candidates: []string{"final_priority", "finalpriority"}, kind: kindInt},
	{out: "als_unit", candidates: []string{"als_unit", "alsunit"}, kind: kindText},

	{out: "call_date", candidates: []string{"call_date", "calldate"}, kind: kindDate},
	{out: "watch_date", candidates: []string{"watch_date", "watchdate"}, kind: kindDate},

	{out: "received_ts", candidates: []string{"received_dt_tm", "received_dttm", "receiveddttm"}, kind: kindTimestamp, required: true},
	{out: "entry_ts", candidates: []string{"entry_dt_tm", "entry_dttm", "entrydttm"}, kind: kindTimestamp},
	{out: "dispatch_ts", candidates: []string{"dispatch_dt_tm", "dispatch_dttm", "dispatchdttm"}, kind: kindTimestamp, required: true},
	{out: "response_ts", candidates: []string{"response_dt_tm", "response_dttm", "responsedttm"}, kind: kindTimestamp},
	{out: "on_scene_ts", candidates: []string{"on_scene_dt_tm", "on_scene_dttm", "onscenedttm"}, kind: kindTimestamp},
	{out: "transport_ts", candidates: []string{"transport_dt_tm", "transport_dttm", "transportdttm"}, kind: kindTimestamp},
	{out: "hospital_ts", candidates: []string{"hospital_dt_tm", "hospital_dttm", "hospitaldttm"}, kind: kindTimestamp},
	{out: "available_ts", candidates: []string{"available_dt_tm", "available_dttm", "availabledttm"}, kind: kindTimestamp},

	{out: "address", candidates: []string{"address"}, kind: kindText},
	{out: "city", candidates: []string{"city"}, kind: kindText},
	{out: "zipcode_of_incident", candidates: []string{"zipcode_of_incident", "zipcodeofincident", "zipcode_ofincident"}, kind: kindInt},
	{out: "battalion", candidates: []string{"battalion"}, kind: kindText},
	{out: "station_area", candidates: []string{"station_area", "stationarea"}, kind: kindText},
	{out: "box", candidates: []string{"box"}, kind: kindText},
	{out: "supervisor_district", candidates: []string{"supervisor_district", "supervisordistrict"}, kind: kindInt},
	{out: "neighborhoods_analysis_boundaries", candidates: []string{
		"neighborhooods_analysis_boundaries",
		"neighborhooods___analysis_boundaries",
		"neighborhoods_analysis_boundaries",
	}, kind: kindText},
	{out: "location", candidates: []string{"location"}, kind: kindText},

	{out: "call_final_disposition", candidates: []string{"call_final_disposition", "callfinaldisposition"}, kind: kindText},
	{out: "number_of_alarms", candidates: []string{"number_of_alarms", "numberof_alarms", "numberofalarms"}, kind: kindInt},
	{out: "unit_type", candidates: []string{"unit_type", "unittype"}, kind: kindText},
	{out: "unit_sequence_in_call_dispatch", candidates: []string{
		"unit_sequence_in_call_dispatch",
		"unitsequence_in_call_dispatch",
		"unitsequenceincalldispatch",
	}, kind: kindInt},
	{out: "fire_prevention_district", candidates: []string{"fire_prevention_district", "firepreventiondistrict"}, kind: kindText},
}

// incidentsColumns maps bronze.incidents spellings to incidents_clean.
// Most incident extracts predate the snake_case sanitizer, so the
// squashed spellings come first.
var incidentsColumns = []colSpec{
	{out: "incident_number", candidates: []string{"incident_number", "incidentnumber"}, kind: kindBigint, required: true},
	{out: "call_number", candidates: []string{"call_number", "callnumber"}, kind: kindBigint},
	{out: "exposure_number", candidates: []string{"exposure_number", "exposurenumber"}, kind: kindInt},

	{out: "incident_date", candidates: []string{"incident_date", "incidentdate"}, kind: kindDate},
	{out: "alarm_ts", candidates: []string{"alarm_dt_tm", "alarm_dttm", "alarmdttm"}, kind: kindTimestamp},
	{out: "arrival_ts", candidates: []string{"arrival_dt_tm", "arrival_dttm", "arrivaldttm"}, kind: kindTimestamp},
	{out: "close_ts", candidates: []string{"close_dt_tm", "close_dttm", "closedttm"}, kind: kindTimestamp},

	{out: "address", candidates: []string{"address"}, kind: kindText},
	{out: "city", candidates: []string{"city"}, kind: kindText},
	{out: "zipcode", candidates: []string{"zipcode", "zip_code", "zip"}, kind: kindInt},
	{out: "battalion", candidates: []string{"battalion"}, kind: kindText},
	{out: "station_area", candidates: []string{"station_area", "stationarea"}, kind: kindText},
	{out: "box", candidates: []string{"box"}, kind: kindText},
	{out: "supervisor_district", candidates: []string{"supervisor_district", "supervisordistrict"}, kind: kindInt},
	{out: "neighborhood_district", candidates: []string{"neighborhood_district", "neighborhooddistrict"}, kind: kindText},
	{out: "location", candidates: []string{"location"}, kind: kindText},

	{out: "number_of_alarms", candidates: []string{"number_of_alarms", "numberof_alarms", "numberofalarms"}, kind: kindInt},
	{out: "suppression_units", candidates: []string{"suppression_units", "suppressionunits"}, kind: kindInt},
	{out: "suppression_personnel", candidates: []string{"suppression_personnel", "suppressionpersonnel"}, kind: kindInt},
	{out: "ems_units", candidates: []string{"ems_units", "emsunits"}, kind: kindInt},
	{out: "ems_personnel", candidates: []string{"ems_personnel", "emspersonnel"}, kind: kindInt},
	{out: "other_units", candidates: []string{"other_units", "otherunits"}, kind: kindInt},
	{out: "other_personnel", candidates: []string{"other_personnel", "otherpersonnel"}, kind: kindInt},

	{out: "estimated_property_loss", candidates: []string{"estimated_property_loss", "estimatedpropertyloss"}, kind: kindMoney},
	{out: "estimated_contents_loss", candidates: []string{"estimated_contents_loss", "estimatedcontentsloss"}, kind: kindMoney},

	{out: "fire_fatalities", candidates: []string{"fire_fatalities", "firefatalities"}, kind: kindBigint},
	{out: "fire_injuries", candidates: []string{"fire_injuries", "fireinjuries"}, kind: kindBigint},
	{out: "civilian_fatalities", candidates: []string{"civilian_fatalities", "civilianfatalities"}, kind: kindBigint},
	{out: "civilian_injuries", candidates: []string{"civilian_injuries", "civilianinjuries"}, kind: kindBigint},

	{out: "primary_situation", candidates: []string{"primary_situation", "primarysituation"}, kind: kindText},
	{out: "mutual_aid", candidates: []string{"mutual_aid", "mutualaid"}, kind: kindText},
	{out: "action_taken_primary", candidates: []string{"action_taken_primary", "actiontakenprimary"}, kind: kindText},
	{out: "property_use", candidates: []string{"property_use", "propertyuse"}, kind: kindText},
	{out: "area_of_fire_origin", candidates: []string{"area_of_fire_origin", "areaoffireorigin"}, kind: kindText},
	{out: "ignition_cause", candidates: []string{"ignition_cause", "ignitioncause"}, kind: kindText},
	{out: "heat_source", candidates: []string{"heat_source", "heatsource"}, kind: kindText},
	{out: "item_first_ignited", candidates: []string{"item_first_ignited", "itemfirstignited"}, kind: kindText},
	{out: "structure_type", candidates: []string{"structure_type", "structuretype"}, kind: kindText},
	{out: "detectors_present", candidates: []string{"detectors_present", "detectorspresent"}, kind: kindText},
	{out: "first_unit_on_scene", candidates: []string{"first_unit_on_scene", "firstunitonscene"}, kind: kindText},
}

// sqlType returns the DuckDB type of a column kind.
func (k colKind) sqlType() string {
	switch k {
	case kindInt:
		return "INTEGER"
	case kindBigint, kindMoney:
		return "BIGINT"
	case kindTimestamp:
		return "TIMESTAMP"
	case kindDate:
		return "DATE"
	default:
		return "VARCHAR"
	}
}
