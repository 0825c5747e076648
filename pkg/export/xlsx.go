package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/fireflow/fireflow/pkg/errors"
)

// Workbook writes one xlsx file with a sheet per KPI view, read from
// an already-open warehouse handle. Values land as strings; the KPI
// views are small aggregates, so fidelity beats spreadsheet typing
// games.
func Workbook(ctx context.Context, db *sql.DB, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return errors.Wrap(err, errors.CodeExport, "create export directory")
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, view := range KPIViews {
		sheet := sheetName(view)
		if i == 0 {
			f.SetSheetName(f.GetSheetName(0), sheet)
		} else {
			if _, err := f.NewSheet(sheet); err != nil {
				return errors.Wrap(err, errors.CodeExport, "create sheet "+sheet)
			}
		}
		if err := writeSheet(ctx, db, f, sheet, view); err != nil {
			return err
		}
	}

	if err := f.SaveAs(outputPath); err != nil {
		return errors.Wrap(err, errors.CodeExport, "save workbook")
	}
	return nil
}

// sheetName trims the v_kpi_ prefix; Excel caps sheet names at 31.
func sheetName(view string) string {
	name := view
	if len(name) > 6 && name[:6] == "v_kpi_" {
		name = name[6:]
	}
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}

func writeSheet(ctx context.Context, db *sql.DB, f *excelize.File, sheet, view string) error {
	rows, err := db.QueryContext(ctx, "SELECT * FROM gold."+view)
	if err != nil {
		return errors.Wrap(err, errors.CodeExport, "read gold."+view)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return errors.Wrap(err, errors.CodeExport, "describe gold."+view)
	}

	header := make([]interface{}, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}

	values := make([]interface{}, len(cols))
	scan := make([]interface{}, len(cols))
	for i := range values {
		scan[i] = &values[i]
	}

	rowNum := 2
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return errors.Wrap(err, errors.CodeExport, "scan gold."+view)
		}
		out := make([]interface{}, len(cols))
		for i, v := range values {
			switch t := v.(type) {
			case nil:
				out[i] = ""
			case []byte:
				out[i] = string(t)
			default:
				out[i] = t
			}
		}
		if err := setRow(f, sheet, rowNum, out); err != nil {
			return err
		}
		rowNum++
	}
	return rows.Err()
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return errors.Wrap(err, errors.CodeExport, "cell coordinates")
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return errors.Wrap(err, errors.CodeExport, fmt.Sprintf("write %s row %d", sheet, row))
	}
	return nil
}
