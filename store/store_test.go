package store

import (
	"errors"
	"reflect"
	"testing"

	"gradebook-server-go/models"
)

func newTestStore(t *testing.T) (*Store, models.Sheet) {
	t.Helper()
	s := New(models.NewWorkspace(), nil)
	sh := s.CreateSheet("")
	return s, sh
}

// sheetState extracts the evaluation names and positional score rows for
// round-trip comparisons.
func sheetState(t *testing.T, s *Store, sheetID string) ([]string, [][]string) {
	t.Helper()
	ws := s.Workspace()
	sh := ws.SheetByID(sheetID)
	if sh == nil {
		t.Fatalf("sheet %q not found", sheetID)
	}
	names := make([]string, len(sh.Evaluations))
	for i, ev := range sh.Evaluations {
		names[i] = ev.Name
	}
	rows := make([][]string, len(sh.Students))
	for i, st := range sh.Students {
		rows[i] = sh.ScoreRow(st)
	}
	return names, rows
}

func addEval(t *testing.T, s *Store, sheetID, name string) models.Evaluation {
	t.Helper()
	ev, err := s.AddEvaluation(sheetID, name, 10, 60)
	if err != nil {
		t.Fatalf("AddEvaluation(%s): %v", name, err)
	}
	return ev
}

func TestCreateSheetDefaults(t *testing.T) {
	s := New(models.NewWorkspace(), nil)
	sh := s.CreateSheet("")
	if sh.Name != "Hoja 1" {
		t.Errorf("sheet name = %q, expected \"Hoja 1\"", sh.Name)
	}
	if sh.StudentHeader != models.DefaultStudentHeader {
		t.Errorf("student header = %q", sh.StudentHeader)
	}
	if sh.StudentColumnWidth != models.DefaultStudentColumnWidth {
		t.Errorf("column width = %d", sh.StudentColumnWidth)
	}
	ws := s.Workspace()
	if ws.ActiveSheetID != sh.ID {
		t.Errorf("new sheet should become active")
	}
	second := s.CreateSheet("")
	if second.Name != "Hoja 2" {
		t.Errorf("second sheet name = %q", second.Name)
	}
	if sh.ID == second.ID {
		t.Errorf("sheet ids must be unique")
	}
	named := s.CreateSheet("8°B")
	if named.Name != "8°B" {
		t.Errorf("explicit sheet name = %q", named.Name)
	}
}

func TestDeleteSheetActiveFallback(t *testing.T) {
	s := New(models.NewWorkspace(), nil)
	first := s.CreateSheet("")
	second := s.CreateSheet("")

	if err := s.DeleteSheet(second.ID); err != nil {
		t.Fatalf("DeleteSheet: %v", err)
	}
	if ws := s.Workspace(); ws.ActiveSheetID != first.ID {
		t.Errorf("active sheet = %q, expected first remaining %q", ws.ActiveSheetID, first.ID)
	}
	if err := s.DeleteSheet(first.ID); err != nil {
		t.Fatalf("DeleteSheet: %v", err)
	}
	ws := s.Workspace()
	if len(ws.Sheets) != 0 || ws.ActiveSheetID != "" {
		t.Errorf("empty workspace should have no active sheet, got %q", ws.ActiveSheetID)
	}
	if err := s.DeleteSheet(first.ID); !errors.Is(err, ErrSheetNotFound) {
		t.Errorf("deleting a missing sheet: %v, expected ErrSheetNotFound", err)
	}
}

func TestReorderSheets(t *testing.T) {
	s := New(models.NewWorkspace(), nil)
	a := s.CreateSheet("")
	b := s.CreateSheet("")
	c := s.CreateSheet("")

	if err := s.ReorderSheets(0, 2); err != nil {
		t.Fatalf("ReorderSheets: %v", err)
	}
	ws := s.Workspace()
	got := []string{ws.Sheets[0].ID, ws.Sheets[1].ID, ws.Sheets[2].ID}
	want := []string{b.ID, c.ID, a.ID}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order after reorder = %v, expected %v", got, want)
	}
	if err := s.ReorderSheets(0, 3); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("out-of-range reorder: %v", err)
	}
}

func TestAddEvaluationAppendsScoreSlots(t *testing.T) {
	s, sh := newTestStore(t)
	if _, err := s.AddStudent(sh.ID); err != nil {
		t.Fatalf("AddStudent: %v", err)
	}
	ev := addEval(t, s, sh.ID, "Prueba 1")
	if !reflect.DeepEqual(ev.Differentiated, models.NewDifferentiatedScores(10)) {
		t.Errorf("new evaluation differentiated config = %+v", ev.Differentiated)
	}

	_, rows := sheetState(t, s, sh.ID)
	if len(rows) != 1 || len(rows[0]) != 1 || rows[0][0] != "" {
		t.Errorf("student rows after add = %v, expected one ungraded slot", rows)
	}

	// students added later also get one slot per evaluation
	if _, err := s.AddStudent(sh.ID); err != nil {
		t.Fatalf("AddStudent: %v", err)
	}
	_, rows = sheetState(t, s, sh.ID)
	if len(rows) != 2 || len(rows[1]) != 1 {
		t.Errorf("second student rows = %v", rows)
	}
}

func TestAddEvaluationValidation(t *testing.T) {
	s, sh := newTestStore(t)
	cases := []struct {
		name     string
		maxScore float64
		exigency float64
	}{
		{"", 10, 60},
		{"Prueba", 0, 60},
		{"Prueba", -5, 60},
		{"Prueba", 10, -1},
		{"Prueba", 10, 101},
	}
	for _, c := range cases {
		if _, err := s.AddEvaluation(sh.ID, c.name, c.maxScore, c.exigency); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("AddEvaluation(%q,%v,%v): %v, expected ErrInvalidInput", c.name, c.maxScore, c.exigency, err)
		}
	}
	if _, rows := sheetState(t, s, sh.ID); len(rows) != 0 {
		t.Errorf("rejected adds must not mutate")
	}
}

func TestRemoveEvaluationRoundTrip(t *testing.T) {
	s, sh := newTestStore(t)
	addEval(t, s, sh.ID, "E1")
	addEval(t, s, sh.ID, "E2")
	if _, err := s.AddStudent(sh.ID); err != nil {
		t.Fatalf("AddStudent: %v", err)
	}
	if _, err := s.SetScore(sh.ID, 0, 0, "4"); err != nil {
		t.Fatalf("SetScore: %v", err)
	}
	if _, err := s.SetScore(sh.ID, 0, 1, "7"); err != nil {
		t.Fatalf("SetScore: %v", err)
	}

	beforeNames, beforeRows := sheetState(t, s, sh.ID)

	addEval(t, s, sh.ID, "E3")
	if err := s.RemoveEvaluation(sh.ID, 2); err != nil {
		t.Fatalf("RemoveEvaluation: %v", err)
	}

	afterNames, afterRows := sheetState(t, s, sh.ID)
	if !reflect.DeepEqual(beforeNames, afterNames) || !reflect.DeepEqual(beforeRows, afterRows) {
		t.Errorf("add+remove should restore prior state: %v/%v vs %v/%v",
			beforeNames, beforeRows, afterNames, afterRows)
	}
}

func TestReorderEvaluationsKeepsScoresAligned(t *testing.T) {
	s, sh := newTestStore(t)
	addEval(t, s, sh.ID, "E1")
	addEval(t, s, sh.ID, "E2")
	addEval(t, s, sh.ID, "E3")
	if _, err := s.AddStudent(sh.ID); err != nil {
		t.Fatalf("AddStudent: %v", err)
	}
	for col, raw := range []string{"1", "2", "3"} {
		if _, err := s.SetScore(sh.ID, 0, col, raw); err != nil {
			t.Fatalf("SetScore col %d: %v", col, err)
		}
	}

	origNames, origRows := sheetState(t, s, sh.ID)

	if err := s.ReorderEvaluations(sh.ID, 0, 2); err != nil {
		t.Fatalf("ReorderEvaluations: %v", err)
	}
	names, rows := sheetState(t, s, sh.ID)
	if !reflect.DeepEqual(names, []string{"E2", "E3", "E1"}) {
		t.Fatalf("names after reorder = %v", names)
	}
	// each score follows its evaluation
	if !reflect.DeepEqual(rows[0], []string{"2", "3", "1"}) {
		t.Fatalf("scores after reorder = %v", rows[0])
	}

	// inverse permutation restores the original state
	if err := s.ReorderEvaluations(sh.ID, 2, 0); err != nil {
		t.Fatalf("inverse ReorderEvaluations: %v", err)
	}
	names, rows = sheetState(t, s, sh.ID)
	if !reflect.DeepEqual(names, origNames) || !reflect.DeepEqual(rows, origRows) {
		t.Errorf("inverse reorder should restore: %v/%v vs %v/%v", names, rows, origNames, origRows)
	}
}

func TestSetScoreRejectsInvalidInput(t *testing.T) {
	s, sh := newTestStore(t)
	addEval(t, s, sh.ID, "E1")
	if _, err := s.AddStudent(sh.ID); err != nil {
		t.Fatalf("AddStudent: %v", err)
	}
	if _, err := s.SetScore(sh.ID, 0, 0, "3,5"); err != nil {
		t.Fatalf("SetScore: %v", err)
	}
	if _, err := s.SetScore(sh.ID, 0, 0, "3.5x"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("invalid keystroke: %v, expected ErrInvalidInput", err)
	}
	// rejected keystroke must leave the prior value in place
	_, rows := sheetState(t, s, sh.ID)
	if rows[0][0] != "3.5" {
		t.Errorf("score after rejected keystroke = %q, expected \"3.5\"", rows[0][0])
	}
}

func TestCommitScoreClampsToEffectiveMax(t *testing.T) {
	s, sh := newTestStore(t)
	ev := addEval(t, s, sh.ID, "E1")
	if _, err := s.AddStudent(sh.ID); err != nil {
		t.Fatalf("AddStudent: %v", err)
	}

	if _, err := s.SetScore(sh.ID, 0, 0, "12.5"); err != nil {
		t.Fatalf("SetScore: %v", err)
	}
	committed, err := s.CommitScore(sh.ID, 0, 0)
	if err != nil {
		t.Fatalf("CommitScore: %v", err)
	}
	if committed != "10" {
		t.Errorf("committed = %q, expected clamp to \"10\"", committed)
	}

	// differentiated max applies to the clamp
	cfg := models.DifferentiatedScores{Enabled: true, Green: 5, Yellow: 10, Blue: 10}
	if err := s.SaveDifferentiatedScores(sh.ID, ev.ID, cfg); err != nil {
		t.Fatalf("SaveDifferentiatedScores: %v", err)
	}
	if _, err := s.SetHighlight(sh.ID, 0); err != nil { // none -> green
		t.Fatalf("SetHighlight: %v", err)
	}
	if _, err := s.SetScore(sh.ID, 0, 0, "8"); err != nil {
		t.Fatalf("SetScore: %v", err)
	}
	committed, err = s.CommitScore(sh.ID, 0, 0)
	if err != nil {
		t.Fatalf("CommitScore: %v", err)
	}
	if committed != "5" {
		t.Errorf("committed with green override = %q, expected \"5\"", committed)
	}

	// empty and partial texts commit to ungraded
	if _, err := s.SetScore(sh.ID, 0, 0, ""); err != nil {
		t.Fatalf("SetScore: %v", err)
	}
	committed, err = s.CommitScore(sh.ID, 0, 0)
	if err != nil || committed != "" {
		t.Errorf("empty commit = (%q, %v), expected ungraded", committed, err)
	}
}

func TestCommitScoreOnEmptyCellSchedulesNoSave(t *testing.T) {
	saver := &recordingSaver{}
	s := New(models.NewWorkspace(), saver)
	sh := s.CreateSheet("")
	addEval(t, s, sh.ID, "E1")
	if _, err := s.AddStudent(sh.ID); err != nil {
		t.Fatalf("AddStudent: %v", err)
	}

	before := len(saver.snapshots)
	committed, err := s.CommitScore(sh.ID, 0, 0)
	if err != nil || committed != "" {
		t.Fatalf("CommitScore on empty cell = (%q, %v)", committed, err)
	}
	if len(saver.snapshots) != before {
		t.Errorf("committing an untouched cell scheduled %d save(s)", len(saver.snapshots)-before)
	}
}

func TestSetHighlightCycles(t *testing.T) {
	s, sh := newTestStore(t)
	if _, err := s.AddStudent(sh.ID); err != nil {
		t.Fatalf("AddStudent: %v", err)
	}
	want := []models.Highlight{
		models.HighlightGreen, models.HighlightYellow, models.HighlightBlue, models.HighlightNone,
	}
	for i, expected := range want {
		got, err := s.SetHighlight(sh.ID, 0)
		if err != nil {
			t.Fatalf("SetHighlight %d: %v", i, err)
		}
		if got != expected {
			t.Errorf("cycle step %d = %q, expected %q", i, got, expected)
		}
	}
}

func TestSetEvaluationField(t *testing.T) {
	s, sh := newTestStore(t)
	addEval(t, s, sh.ID, "E1")

	if err := s.SetEvaluationField(sh.ID, 0, "maxScore", "20,5"); err != nil {
		t.Fatalf("SetEvaluationField: %v", err)
	}
	ws := s.Workspace()
	if got := ws.Sheets[0].Evaluations[0].MaxScore; got != 20.5 {
		t.Errorf("maxScore = %v, expected 20.5", got)
	}

	if err := s.SetEvaluationField(sh.ID, 0, "exigency", ""); err != nil {
		t.Fatalf("SetEvaluationField empty: %v", err)
	}
	ws = s.Workspace()
	if got := ws.Sheets[0].Evaluations[0].Exigency; got != 0 {
		t.Errorf("empty exigency = %v, expected 0", got)
	}

	if err := s.SetEvaluationField(sh.ID, 0, "maxScore", "abc"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("non-numeric field edit: %v", err)
	}
	ws = s.Workspace()
	if got := ws.Sheets[0].Evaluations[0].MaxScore; got != 20.5 {
		t.Errorf("rejected edit mutated maxScore to %v", got)
	}

	if err := s.SetEvaluationField(sh.ID, 0, "name", "1"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unknown field: %v", err)
	}
}

func TestUpdateGlobalSettingInvariant(t *testing.T) {
	s := New(models.NewWorkspace(), nil)

	if _, err := s.UpdateGlobalSetting("passingGrade", 5); err != nil {
		t.Fatalf("UpdateGlobalSetting: %v", err)
	}
	if got := s.Settings().PassingGrade; got != 5 {
		t.Errorf("passingGrade = %v, expected 5", got)
	}

	// would break min < passing < max
	if _, err := s.UpdateGlobalSetting("minGrade", 6); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("invariant-breaking edit: %v", err)
	}
	if got := s.Settings(); got.MinGrade != 1 || got.PassingGrade != 5 {
		t.Errorf("rejected edit must retain prior settings, got %+v", got)
	}

	if _, err := s.UpdateGlobalSetting("median", 3); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unknown key: %v", err)
	}
}

func TestResizeStudentColumnFloor(t *testing.T) {
	s, sh := newTestStore(t)
	if err := s.ResizeStudentColumn(sh.ID, 99); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("below-floor resize: %v", err)
	}
	if err := s.ResizeStudentColumn(sh.ID, 320); err != nil {
		t.Fatalf("ResizeStudentColumn: %v", err)
	}
	if got := s.Workspace().Sheets[0].StudentColumnWidth; got != 320 {
		t.Errorf("width = %d, expected 320", got)
	}
}

func TestImportStaging(t *testing.T) {
	s := New(models.NewWorkspace(), nil)
	existing := s.CreateSheet("")

	first := []models.Sheet{{ID: "imp1", Name: "Curso A"}}
	second := []models.Sheet{{ID: "imp2", Name: "Curso B"}, {ID: "imp3", Name: "Curso C"}}

	s.StageImport(first)
	s.StageImport(second) // supersedes first, which is discarded
	if got := s.StagedImportCount(); got != 2 {
		t.Fatalf("staged count = %d, expected 2", got)
	}

	if err := s.ResolveImport(ImportAppend); err != nil {
		t.Fatalf("ResolveImport: %v", err)
	}
	ws := s.Workspace()
	if len(ws.Sheets) != 3 {
		t.Fatalf("sheets after append = %d, expected 3", len(ws.Sheets))
	}
	for _, sh := range ws.Sheets {
		if sh.ID == "imp1" {
			t.Errorf("superseded staging must never be applied")
		}
	}
	// appending into a non-empty workspace keeps the active sheet
	if ws.ActiveSheetID != existing.ID {
		t.Errorf("active after append = %q, expected %q", ws.ActiveSheetID, existing.ID)
	}

	if err := s.ResolveImport(ImportAppend); !errors.Is(err, ErrNoStagedImport) {
		t.Errorf("resolve with empty slot: %v", err)
	}

	s.StageImport(first)
	if err := s.ResolveImport(ImportReplace); err != nil {
		t.Fatalf("ResolveImport replace: %v", err)
	}
	ws = s.Workspace()
	if len(ws.Sheets) != 1 || ws.Sheets[0].ID != "imp1" || ws.ActiveSheetID != "imp1" {
		t.Errorf("replace result = %+v active %q", ws.Sheets, ws.ActiveSheetID)
	}

	s.StageImport(second)
	s.DiscardImport()
	if err := s.ResolveImport(ImportAppend); !errors.Is(err, ErrNoStagedImport) {
		t.Errorf("resolve after discard: %v", err)
	}
}

type recordingSaver struct {
	snapshots []models.Workspace
}

func (r *recordingSaver) Schedule(ws models.Workspace) {
	r.snapshots = append(r.snapshots, ws)
}

func TestMutationsScheduleSaves(t *testing.T) {
	saver := &recordingSaver{}
	s := New(models.NewWorkspace(), saver)
	sh := s.CreateSheet("")
	addEval(t, s, sh.ID, "E1")
	if _, err := s.AddStudent(sh.ID); err != nil {
		t.Fatalf("AddStudent: %v", err)
	}
	if len(saver.snapshots) != 3 {
		t.Fatalf("expected 3 scheduled saves, got %d", len(saver.snapshots))
	}
	// snapshots are deep copies: mutating the store later must not leak into
	// an already-scheduled snapshot
	snap := saver.snapshots[2]
	if _, err := s.SetScore(sh.ID, 0, 0, "7"); err != nil {
		t.Fatalf("SetScore: %v", err)
	}
	evID := snap.Sheets[0].Evaluations[0].ID
	if snap.Sheets[0].Students[0].Scores[evID] != "" {
		t.Errorf("scheduled snapshot was mutated after the fact")
	}
}
