package gold

import (
	"context"

	"github.com/fireflow/fireflow/pkg/errors"
)

// KPI views recomputed over the current fact table. Views rather than
// tables: they are cheap at this grain and never go stale.
var kpiViews = []struct {
	name string
	sql  string
}{
	{"v_kpi_response_time_month", `
CREATE VIEW gold.v_kpi_response_time_month AS
SELECT
    d.year,
    d.month,
    AVG(f.response_time_sec) AS avg_response_time_sec,
    COUNT(*) AS n_incidents
FROM gold.fact_incident f
JOIN gold.dim_date d ON d.date_id = f.date_id
WHERE f.response_time_sec IS NOT NULL
GROUP BY 1, 2
ORDER BY 1, 2`},

	{"v_kpi_incident_volume_month", `
CREATE VIEW gold.v_kpi_incident_volume_month AS
SELECT
    d.year,
    d.month,
    COUNT(*) AS incident_count
FROM gold.fact_incident f
JOIN gold.dim_date d ON d.date_id = f.date_id
GROUP BY 1, 2
ORDER BY 1, 2`},

	{"v_kpi_top_incident_type", `
CREATE VIEW gold.v_kpi_top_incident_type AS
SELECT
    it.call_type_group,
    it.call_type,
    COUNT(*) AS incident_count,
    AVG(f.response_time_sec) AS avg_response_time_sec
FROM gold.fact_incident f
JOIN gold.dim_incident_type it ON it.incident_type_id = f.incident_type_id
GROUP BY 1, 2
ORDER BY incident_count DESC`},
}

// CreateKPIViews drops and recreates the reporting views.
func (b *Builder) CreateKPIViews(ctx context.Context) error {
	for _, v := range kpiViews {
		if _, err := b.db.ExecContext(ctx, "DROP VIEW IF EXISTS gold."+v.name); err != nil {
			return errors.Wrap(err, errors.CodeGoldBuild, "drop gold."+v.name)
		}
		if _, err := b.db.ExecContext(ctx, v.sql); err != nil {
			return errors.Wrap(err, errors.CodeGoldBuild, "create gold."+v.name)
		}
	}
	return nil
}
