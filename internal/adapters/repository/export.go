package repository

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
)

// LedgerSheet is the worksheet name used by ExportLedgerXLSX.
const LedgerSheet = "Ledger"

// LedgerHeader is the fixed column order of the ledger.
var LedgerHeader = []string{
	"finished_at", "team", "dungeon", "level", "upgrades", "blizz_rating", "in_time",
	"points", "deaths", "duration_ms", "boss_kills", "character", "realm", "region",
}

// ExportLedgerXLSX writes runs as a single-sheet workbook to w.
func ExportLedgerXLSX(w io.Writer, runs []model.RunRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), LedgerSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]interface{}, len(LedgerHeader))
	for i, h := range LedgerHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(LedgerSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, r := range runs {
		kills := r.BossKills
		if kills == nil {
			kills = []int64{}
		}
		killsJSON, err := json.Marshal(kills)
		if err != nil {
			return fmt.Errorf("failed to encode boss kills: %w", err)
		}
		inTime := 0
		if r.InTime {
			inTime = 1
		}
		row := []interface{}{
			r.FinishedAt.UTC().Format(time.RFC3339), r.Team, r.Dungeon, r.Level, r.Upgrades, r.Rating, inTime,
			r.Points, r.Deaths, r.DurationMS, string(killsJSON), r.Character, r.Realm, r.Region,
		}
		axis, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(LedgerSheet, axis, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
