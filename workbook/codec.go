// Package workbook maps a workspace to and from a tabular xlsx workbook, one
// worksheet per sheet. The worksheet layout is fixed:
//
//	row 1  evaluation names (two columns each, starting at column C)
//	row 2  "P. Máx:" label and per-evaluation max scores
//	row 3  "Exig:" label and per-evaluation exigencies
//	row 4  differentiated flag ("SI"/"NO") and "green,yellow,blue" values
//	row 5  header row: "#", student header, "Puntaje"/"Nota" pairs,
//	       "Promedio Final", "Highlight"
//	row 6+ one row per student
package workbook

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/nats-io/nuid"
	"github.com/xuri/excelize/v2"

	"gradebook-server-go/grading"
	"gradebook-server-go/models"
)

// ExportFilename is the fixed output filename for exports.
const ExportFilename = "calculadora_notas.xlsx"

const (
	labelMaxScore       = "P. Máx:"
	labelExigency       = "Exig:"
	labelDifferentiated = "Diferenciados"
	labelEnabled        = "SI"
	labelDisabled       = "NO"
	labelIndex          = "#"
	labelScore          = "Puntaje"
	labelGrade          = "Nota"
	labelAverage        = "Promedio Final"
	labelHighlight      = "Highlight"
)

// ErrEmptyWorkspace indicates an export of a workspace without sheets.
var ErrEmptyWorkspace = errors.New("workspace has no sheets to export")

// ErrNoUsableSheets indicates that no worksheet of an imported file could be
// reconstructed into a sheet.
var ErrNoUsableSheets = errors.New("no valid grading data found in the workbook")

// DecodeResult carries the sheets reconstructed from a workbook plus the
// names of worksheets that had to be skipped.
type DecodeResult struct {
	Sheets  []models.Sheet
	Skipped []string
}

// scoreCol returns the 0-based column of evaluation i's score cell; the grade
// cell is the one right of it.
func scoreCol(i int) int {
	return 2 + i*2
}

// Encode builds a workbook from the workspace. Every grade and average is
// recomputed against the current global settings at encode time; grades are
// never persisted pre-computed. Invalid grades serialize as empty cells,
// valid ones with one decimal place.
func Encode(ws models.Workspace) (*excelize.File, error) {
	if len(ws.Sheets) == 0 {
		return nil, ErrEmptyWorkspace
	}
	f := excelize.NewFile()
	used := make(map[string]bool, len(ws.Sheets))
	for i, sheet := range ws.Sheets {
		// Sheet names are not unique in the workspace, worksheet names must
		// be. NewSheet with a taken name reuses the existing worksheet, so a
		// duplicate gets an " (n)" suffix instead.
		name := sheet.Name
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s (%d)", sheet.Name, n)
		}
		used[name] = true
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
				return nil, fmt.Errorf("failed to name worksheet %q: %w", name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("failed to add worksheet %q: %w", name, err)
		}
		if err := encodeSheet(f, name, sheet, ws.GlobalSettings); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func encodeSheet(f *excelize.File, worksheet string, sheet models.Sheet, settings models.Settings) error {
	n := len(sheet.Evaluations)

	nameRow := make([]interface{}, 2+n*2)
	maxRow := make([]interface{}, 2+n*2)
	exiRow := make([]interface{}, 2+n*2)
	diffRow := make([]interface{}, 2+n*2)
	headRow := make([]interface{}, 0, 4+n*2)

	maxRow[1] = labelMaxScore
	exiRow[1] = labelExigency
	diffRow[1] = labelDifferentiated
	headRow = append(headRow, labelIndex, sheet.StudentHeader)

	for i, ev := range sheet.Evaluations {
		col := scoreCol(i)
		nameRow[col] = ev.Name
		maxRow[col] = ev.MaxScore
		exiRow[col] = ev.Exigency
		if ev.Differentiated.Enabled {
			diffRow[col] = labelEnabled
		} else {
			diffRow[col] = labelDisabled
		}
		// the three color values are always written, even when disabled
		diffRow[col+1] = strings.Join([]string{
			formatNumber(ev.Differentiated.Green),
			formatNumber(ev.Differentiated.Yellow),
			formatNumber(ev.Differentiated.Blue),
		}, ",")
		headRow = append(headRow, labelScore, labelGrade)
	}
	headRow = append(headRow, labelAverage, labelHighlight)

	rows := [][]interface{}{nameRow, maxRow, exiRow, diffRow, headRow}
	for idx, st := range sheet.Students {
		grades, avg := grading.StudentGrades(sheet, st, settings)
		row := make([]interface{}, 0, 4+n*2)
		row = append(row, idx+1, st.Name)
		for i, ev := range sheet.Evaluations {
			row = append(row, st.Scores[ev.ID], formatGrade(grades[i]))
		}
		row = append(row, formatGrade(avg), string(st.Highlight))
		rows = append(rows, row)
	}

	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(worksheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d of worksheet %q: %w", r+1, worksheet, err)
		}
	}
	return nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatGrade(g grading.Grade) string {
	if !g.Valid {
		return ""
	}
	return strconv.FormatFloat(g.Value, 'f', 1, 64)
}

// Decode reconstructs sheets from a workbook stream. Worksheets that cannot
// be reconstructed (fewer than 5 rows, no evaluations, no students) are
// skipped and reported; decoding fails as a whole only when nothing survives.
func Decode(r io.Reader) (DecodeResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return DecodeResult{}, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("Error closing workbook: %v", err)
		}
	}()

	var result DecodeResult
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			log.Printf("Skipping worksheet %q: %v", name, err)
			result.Skipped = append(result.Skipped, name)
			continue
		}
		sheet, ok := decodeSheet(name, rows)
		if !ok {
			log.Printf("Skipping worksheet %q: no usable grading data", name)
			result.Skipped = append(result.Skipped, name)
			continue
		}
		result.Sheets = append(result.Sheets, sheet)
	}
	if len(result.Sheets) == 0 {
		return result, ErrNoUsableSheets
	}
	return result, nil
}

func decodeSheet(name string, rows [][]string) (models.Sheet, bool) {
	if len(rows) < 5 {
		return models.Sheet{}, false
	}

	header := models.DefaultStudentHeader
	if h := cell(rows, 4, 1); h != "" {
		header = h
	}
	highlightCol := -1
	for i, h := range rows[4] {
		if h == labelHighlight {
			highlightCol = i
			break
		}
	}

	// evalCols keeps each surviving evaluation's source column so student
	// scores are read from the right cells even when columns were skipped.
	var (
		evaluations []models.Evaluation
		evalCols    []int
	)
	for col := 2; col < len(rows[0]); col += 2 {
		evName := cell(rows, 0, col)
		if evName == "" {
			continue
		}
		maxScore, ok := parseCell(cell(rows, 1, col))
		if !ok {
			continue
		}
		exigency, ok := parseCell(cell(rows, 2, col))
		if !ok {
			continue
		}
		ev := models.Evaluation{
			ID:             nuid.Next(),
			Name:           evName,
			MaxScore:       maxScore,
			Exigency:       exigency,
			Differentiated: decodeDifferentiated(cell(rows, 3, col), cell(rows, 3, col+1), maxScore),
		}
		evaluations = append(evaluations, ev)
		evalCols = append(evalCols, col)
	}
	if len(evaluations) == 0 {
		return models.Sheet{}, false
	}

	var students []models.Student
	for r := 5; r < len(rows); r++ {
		stName := cell(rows, r, 1)
		if stName == "" {
			continue
		}
		st := models.Student{
			ID:     nuid.Next(),
			Name:   stName,
			Scores: make(map[string]string, len(evaluations)),
		}
		for j, ev := range evaluations {
			st.Scores[ev.ID] = cell(rows, r, evalCols[j])
		}
		if highlightCol >= 0 {
			st.Highlight = models.ParseHighlight(cell(rows, r, highlightCol))
		}
		students = append(students, st)
	}
	if len(students) == 0 {
		return models.Sheet{}, false
	}

	return models.Sheet{
		ID:                 nuid.Next(),
		Name:               name,
		StudentHeader:      header,
		Evaluations:        evaluations,
		Students:           students,
		StudentColumnWidth: models.DefaultStudentColumnWidth,
	}, true
}

func decodeDifferentiated(flag, values string, maxScore float64) models.DifferentiatedScores {
	d := models.NewDifferentiatedScores(maxScore)
	d.Enabled = flag == labelEnabled
	parts := strings.Split(values, ",")
	colors := []*float64{&d.Green, &d.Yellow, &d.Blue}
	for i, target := range colors {
		if i >= len(parts) {
			break
		}
		// absent, non-numeric or non-positive values fall back to maxScore
		if v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64); err == nil && v > 0 {
			*target = v
		}
	}
	return d
}

// cell reads a cell from the ragged row matrix GetRows returns, "" when out
// of bounds.
func cell(rows [][]string, r, c int) string {
	if r >= len(rows) || c >= len(rows[r]) {
		return ""
	}
	return rows[r][c]
}

// parseCell parses a numeric header cell. The empty cell counts as zero;
// anything unparsable reports false.
func parseCell(s string) (float64, bool) {
	if s == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
