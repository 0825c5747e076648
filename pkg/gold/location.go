package gold

import "strings"

// Location attributes live on both silver tables with the call-side
// value preferred. The fact build and the dimension build must hash
// the exact same normalized tuple or fact rows lose their location
// join, so both fragments are generated here and nowhere else.

// locationBaseSQL aliases the raw location fields from the joined
// calls/incidents pair.
const locationBaseSQL = `
    c.address AS c_address,
    c.city AS c_city,
    c.zipcode_of_incident AS c_zipcode,
    c.neighborhoods_analysis_boundaries AS c_neighborhood,
    c.battalion AS c_battalion,
    c.station_area AS c_station_area,
    c.supervisor_district AS c_supervisor_district,
    c.fire_prevention_district AS c_fire_prevention_district,
    c.box AS c_box,
    c.location AS c_location_point,
    i.address AS i_address,
    i.city AS i_city,
    i.zipcode AS i_zipcode,
    i.neighborhood_district AS i_neighborhood,
    i.battalion AS i_battalion,
    i.station_area AS i_station_area,
    i.supervisor_district AS i_supervisor_district,
    i.box AS i_box,
    i.location AS i_location_point`

// locationNormalizeSQL collapses the two sides into one normalized
// tuple: call-side wins, blanks become NULL.
const locationNormalizeSQL = `
    NULLIF(TRIM(COALESCE(c_address, i_address)), '') AS address,
    NULLIF(TRIM(COALESCE(c_city, i_city)), '') AS city,
    COALESCE(c_zipcode, i_zipcode) AS zipcode,
    NULLIF(TRIM(COALESCE(c_neighborhood, i_neighborhood)), '') AS neighborhood,
    NULLIF(TRIM(COALESCE(c_battalion, i_battalion)), '') AS battalion,
    NULLIF(TRIM(COALESCE(c_station_area, i_station_area)), '') AS station_area,
    COALESCE(c_supervisor_district, i_supervisor_district) AS supervisor_district,
    NULLIF(TRIM(c_fire_prevention_district), '') AS fire_prevention_district,
    NULLIF(TRIM(COALESCE(CAST(c_box AS VARCHAR), CAST(i_box AS VARCHAR))), '') AS box,
    NULLIF(TRIM(COALESCE(c_location_point, i_location_point)), '') AS location_point`

// locationKeySQL hashes the normalized tuple into the stable join key.
// Integer components are cast to VARCHAR first so the concatenation is
// deterministic.
func locationKeySQL() string {
	parts := []string{
		"COALESCE(address,'')",
		"COALESCE(city,'')",
		"COALESCE(CAST(zipcode AS VARCHAR),'')",
		"COALESCE(neighborhood,'')",
		"COALESCE(battalion,'')",
		"COALESCE(station_area,'')",
		"COALESCE(CAST(supervisor_district AS VARCHAR),'')",
		"COALESCE(fire_prevention_district,'')",
		"COALESCE(box,'')",
		"COALESCE(location_point,'')",
	}
	return "md5(" + strings.Join(parts, " || '|' || ") + ")"
}
