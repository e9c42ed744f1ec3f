// Package store owns the in-memory workspace and every structural mutation on
// it. Operations are atomic: they validate first, mutate second, so observers
// never see a partially-applied edit. Each successful mutation hands a deep
// snapshot to the configured saver, which persists it fire-and-forget.
package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nats-io/nuid"

	"gradebook-server-go/grading"
	"gradebook-server-go/models"
)

var (
	ErrSheetNotFound   = errors.New("sheet not found")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNoStagedImport  = errors.New("no staged import")
)

// Saver receives a workspace snapshot after every successful mutation.
// Implementations must not block; persistence failure never reaches the store.
type Saver interface {
	Schedule(ws models.Workspace)
}

// ImportMode selects how a staged import is applied to the workspace.
type ImportMode string

const (
	ImportReplace ImportMode = "replace"
	ImportAppend  ImportMode = "append"
)

// Store is the sheet store. All exported methods are safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	ws     models.Workspace
	staged []models.Sheet
	saver  Saver
}

// New builds a store around a loaded workspace. The workspace is normalized
// so the structural invariants hold regardless of what the blob contained.
// saver may be nil (no persistence, used by tests).
func New(ws models.Workspace, saver Saver) *Store {
	ws = ws.Clone()
	ws.Normalize()
	return &Store{ws: ws, saver: saver}
}

func newID() string {
	return nuid.Next()
}

// changed must be called with the lock held, after a successful mutation.
func (s *Store) changed() {
	if s.saver != nil {
		s.saver.Schedule(s.ws.Clone())
	}
}

// Workspace returns a deep snapshot of the current state.
func (s *Store) Workspace() models.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.Clone()
}

// Settings returns the current global grading settings.
func (s *Store) Settings() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.GlobalSettings
}

func (s *Store) sheet(id string) (*models.Sheet, error) {
	sh := s.ws.SheetByID(id)
	if sh == nil {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, id)
	}
	return sh, nil
}

// --- Sheet operations ---

// CreateSheet appends an empty sheet and makes it active. A blank name gets
// the default "Hoja N".
func (s *Store) CreateSheet(name string) models.Sheet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(name) == "" {
		name = fmt.Sprintf("Hoja %d", len(s.ws.Sheets)+1)
	}
	sh := models.Sheet{
		ID:                 newID(),
		Name:               name,
		StudentHeader:      models.DefaultStudentHeader,
		StudentColumnWidth: models.DefaultStudentColumnWidth,
	}
	s.ws.Sheets = append(s.ws.Sheets, sh)
	s.ws.ActiveSheetID = sh.ID
	s.changed()
	return sh.Clone()
}

// DeleteSheet removes a sheet. If it was active, the first remaining sheet
// becomes active (or none when the workspace is left empty).
func (s *Store) DeleteSheet(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i := range s.ws.Sheets {
		if s.ws.Sheets[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrSheetNotFound, id)
	}
	s.ws.Sheets = append(s.ws.Sheets[:idx], s.ws.Sheets[idx+1:]...)
	if s.ws.ActiveSheetID == id {
		s.ws.ActiveSheetID = ""
		if len(s.ws.Sheets) > 0 {
			s.ws.ActiveSheetID = s.ws.Sheets[0].ID
		}
	}
	s.changed()
	return nil
}

// RenameSheet sets a sheet's display name. Blank names are rejected.
func (s *Store) RenameSheet(id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty sheet name", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, err := s.sheet(id)
	if err != nil {
		return err
	}
	sh.Name = name
	s.changed()
	return nil
}

// ResizeStudentColumn sets the student column width, rejecting widths below
// the minimum floor.
func (s *Store) ResizeStudentColumn(id string, width int) error {
	if width < models.MinStudentColumnWidth {
		return fmt.Errorf("%w: width %d below minimum %d", ErrInvalidInput, width, models.MinStudentColumnWidth)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, err := s.sheet(id)
	if err != nil {
		return err
	}
	sh.StudentColumnWidth = width
	s.changed()
	return nil
}

// ReorderSheets moves the sheet at from to position to, shifting the rest.
func (s *Store) ReorderSheets(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.ws.Sheets)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("%w: reorder sheets %d -> %d of %d", ErrIndexOutOfRange, from, to, n)
	}
	if from == to {
		return nil
	}
	moved := s.ws.Sheets[from]
	rest := append(s.ws.Sheets[:from], s.ws.Sheets[from+1:]...)
	s.ws.Sheets = append(rest[:to], append([]models.Sheet{moved}, rest[to:]...)...)
	s.changed()
	return nil
}

// SelectSheet makes an existing sheet the active one.
func (s *Store) SelectSheet(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.sheet(id); err != nil {
		return err
	}
	s.ws.ActiveSheetID = id
	s.changed()
	return nil
}

// --- Evaluation operations ---

// AddEvaluation appends a new evaluation and, in the same step, an ungraded
// score slot for every existing student of the sheet.
func (s *Store) AddEvaluation(sheetID, name string, maxScore, exigency float64) (models.Evaluation, error) {
	if strings.TrimSpace(name) == "" {
		return models.Evaluation{}, fmt.Errorf("%w: empty evaluation name", ErrInvalidInput)
	}
	if maxScore <= 0 {
		return models.Evaluation{}, fmt.Errorf("%w: max score must be positive", ErrInvalidInput)
	}
	if exigency < 0 || exigency > 100 {
		return models.Evaluation{}, fmt.Errorf("%w: exigency must be within 0-100", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, err := s.sheet(sheetID)
	if err != nil {
		return models.Evaluation{}, err
	}
	ev := models.Evaluation{
		ID:             newID(),
		Name:           name,
		MaxScore:       maxScore,
		Exigency:       exigency,
		Differentiated: models.NewDifferentiatedScores(maxScore),
	}
	sh.Evaluations = append(sh.Evaluations, ev)
	for i := range sh.Students {
		sh.Students[i].Scores[ev.ID] = ""
	}
	s.changed()
	return ev, nil
}

// RemoveEvaluation removes the evaluation at index together with every
// student's score slot for it.
func (s *Store) RemoveEvaluation(sheetID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, err := s.sheet(sheetID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(sh.Evaluations) {
		return fmt.Errorf("%w: evaluation %d of %d", ErrIndexOutOfRange, index, len(sh.Evaluations))
	}
	id := sh.Evaluations[index].ID
	sh.Evaluations = append(sh.Evaluations[:index], sh.Evaluations[index+1:]...)
	for i := range sh.Students {
		delete(sh.Students[i].Scores, id)
	}
	s.changed()
	return nil
}

// ReorderEvaluations moves the evaluation at from to position to. Scores are
// keyed by evaluation id, so they follow their evaluation structurally and no
// per-student permutation is needed.
func (s *Store) ReorderEvaluations(sheetID string, from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, err := s.sheet(sheetID)
	if err != nil {
		return err
	}
	n := len(sh.Evaluations)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("%w: reorder evaluations %d -> %d of %d", ErrIndexOutOfRange, from, to, n)
	}
	if from == to {
		return nil
	}
	moved := sh.Evaluations[from]
	rest := append(sh.Evaluations[:from], sh.Evaluations[from+1:]...)
	sh.Evaluations = append(rest[:to], append([]models.Evaluation{moved}, rest[to:]...)...)
	s.changed()
	return nil
}

// SetEvaluationName sets the display name of the evaluation at index.
func (s *Store) SetEvaluationName(sheetID string, index int, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, err := s.sheet(sheetID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(sh.Evaluations) {
		return fmt.Errorf("%w: evaluation %d of %d", ErrIndexOutOfRange, index, len(sh.Evaluations))
	}
	sh.Evaluations[index].Name = name
	s.changed()
	return nil
}

// SetEvaluationField updates maxScore or exigency from raw user text. Invalid
// numeric text rejects the edit without mutation; empty text is stored as 0.
func (s *Store) SetEvaluationField(sheetID string, index int, field, raw string) error {
	normalized, ok := grading.NormalizeNumber(raw)
	if !ok {
		return fmt.Errorf("%w: %q is not numeric", ErrInvalidInput, raw)
	}
	value, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		value = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, err := s.sheet(sheetID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(sh.Evaluations) {
		return fmt.Errorf("%w: evaluation %d of %d", ErrIndexOutOfRange, index, len(sh.Evaluations))
	}
	switch field {
	case "maxScore":
		sh.Evaluations[index].MaxScore = value
	case "exigency":
		sh.Evaluations[index].Exigency = value
	default:
		return fmt.Errorf("%w: unknown evaluation field %q", ErrInvalidInput, field)
	}
	s.changed()
	return nil
}

// SaveDifferentiatedScores replaces one evaluation's differentiated-scores
// config wholesale.
func (s *Store) SaveDifferentiatedScores(sheetID, evalID string, cfg models.DifferentiatedScores) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, err := s.sheet(sheetID)
	if err != nil {
		return err
	}
	for i := range sh.Evaluations {
		if sh.Evaluations[i].ID == evalID {
			sh.Evaluations[i].Differentiated = cfg
			s.changed()
			return nil
		}
	}
	return fmt.Errorf("%w: evaluation %q", ErrSheetNotFound, evalID)
}

// --- Student operations ---

// AddStudent appends a new student ("Estudiante N") with an ungraded score
// slot per current evaluation and no highlight.
func (s *Store) AddStudent(sheetID string) (models.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, err := s.sheet(sheetID)
	if err != nil {
		return models.Student{}, err
	}
	st := models.Student{
		ID:     newID(),
		Name:   fmt.Sprintf("Estudiante %d", len(sh.Students)+1),
		Scores: make(map[string]string, len(sh.Evaluations)),
	}
	for _, ev := range sh.Evaluations {
		st.Scores[ev.ID] = ""
	}
	sh.Students = append(sh.Students, st)
	s.changed()
	out := st
	out.Scores = make(map[string]string, len(st.Scores))
	for k, v := range st.Scores {
		out.Scores[k] = v
	}
	return out, nil
}

// RemoveStudent removes the student at index.
func (s *Store) RemoveStudent(sheetID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, err := s.sheet(sheetID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(sh.Students) {
		return fmt.Errorf("%w: student %d of %d", ErrIndexOutOfRange, index, len(sh.Students))
	}
	sh.Students = append(sh.Students[:index], sh.Students[index+1:]...)
	s.changed()
	return nil
}

// RenameStudent sets a student's name. Empty names are allowed while typing.
func (s *Store) RenameStudent(sheetID string, index int, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, err := s.sheet(sheetID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(sh.Students) {
		return fmt.Errorf("%w: student %d of %d", ErrIndexOutOfRange, index, len(sh.Students))
	}
	sh.Students[index].Name = name
	s.changed()
	return nil
}

// SetHighlight cycles the student's highlight one step and returns the new
// value.
func (s *Store) SetHighlight(sheetID string, index int) (models.Highlight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, err := s.sheet(sheetID)
	if err != nil {
		return models.HighlightNone, err
	}
	if index < 0 || index >= len(sh.Students) {
		return models.HighlightNone, fmt.Errorf("%w: student %d of %d", ErrIndexOutOfRange, index, len(sh.Students))
	}
	sh.Students[index].Highlight = sh.Students[index].Highlight.Next()
	s.changed()
	return sh.Students[index].Highlight, nil
}

// --- Score operations ---

func (s *Store) scoreCell(sheetID string, row, col int) (*models.Sheet, *models.Student, models.Evaluation, error) {
	sh, err := s.sheet(sheetID)
	if err != nil {
		return nil, nil, models.Evaluation{}, err
	}
	if row < 0 || row >= len(sh.Students) {
		return nil, nil, models.Evaluation{}, fmt.Errorf("%w: student %d of %d", ErrIndexOutOfRange, row, len(sh.Students))
	}
	if col < 0 || col >= len(sh.Evaluations) {
		return nil, nil, models.Evaluation{}, fmt.Errorf("%w: evaluation %d of %d", ErrIndexOutOfRange, col, len(sh.Evaluations))
	}
	return sh, &sh.Students[row], sh.Evaluations[col], nil
}

// SetScore stores normalized raw text in the cell addressed by row/col.
// Invalid numeric text rejects the keystroke: no mutation, ErrInvalidInput.
// The stored value stays text so partial typing states survive.
func (s *Store) SetScore(sheetID string, row, col int, raw string) (string, error) {
	normalized, ok := grading.NormalizeNumber(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q is not numeric", ErrInvalidInput, raw)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, st, ev, err := s.scoreCell(sheetID, row, col)
	if err != nil {
		return "", err
	}
	st.Scores[ev.ID] = normalized
	s.changed()
	return normalized, nil
}

// CommitScore finalizes the cell on input completion: the stored text is
// parsed, clamped to the effective max score (differentiated rules applied)
// and written back in canonical form. Unparsable or empty text leaves the
// cell ungraded.
func (s *Store) CommitScore(sheetID string, row, col int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, st, ev, err := s.scoreCell(sheetID, row, col)
	if err != nil {
		return "", err
	}
	raw := st.Scores[ev.ID]
	if raw == "" {
		return "", nil
	}
	value, perr := strconv.ParseFloat(raw, 64)
	if perr != nil {
		st.Scores[ev.ID] = ""
		s.changed()
		return "", nil
	}
	if max := ev.EffectiveMaxScore(st.Highlight); value > max {
		value = max
	}
	committed := strconv.FormatFloat(value, 'f', -1, 64)
	st.Scores[ev.ID] = committed
	s.changed()
	return committed, nil
}

// --- Settings ---

// UpdateGlobalSetting updates one settings key. An edit that would break
// minGrade < passingGrade < maxGrade is rejected and the prior settings are
// retained.
func (s *Store) UpdateGlobalSetting(key string, value float64) (models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.ws.GlobalSettings
	switch key {
	case "minGrade":
		next.MinGrade = value
	case "passingGrade":
		next.PassingGrade = value
	case "maxGrade":
		next.MaxGrade = value
	default:
		return s.ws.GlobalSettings, fmt.Errorf("%w: unknown settings key %q", ErrInvalidInput, key)
	}
	if !next.Valid() {
		return s.ws.GlobalSettings, fmt.Errorf("%w: settings must satisfy min < passing < max", ErrInvalidInput)
	}
	s.ws.GlobalSettings = next
	s.changed()
	return next, nil
}

// --- Import staging ---

// StageImport holds a decoded sheet set until the caller resolves it. A new
// staging supersedes any unresolved one (last-write-wins); the superseded set
// is discarded, never applied.
func (s *Store) StageImport(sheets []models.Sheet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := make([]models.Sheet, len(sheets))
	for i, sh := range sheets {
		staged[i] = sh.Clone()
	}
	s.staged = staged
}

// StagedImportCount reports how many sheets are currently staged.
func (s *Store) StagedImportCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged)
}

// ResolveImport applies the staged sheet set: ImportReplace swaps the whole
// workspace sheet list, ImportAppend adds the staged sheets after the
// existing ones. Either way the staging slot is cleared.
func (s *Store) ResolveImport(mode ImportMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.staged) == 0 {
		return ErrNoStagedImport
	}
	switch mode {
	case ImportReplace:
		s.ws.Sheets = s.staged
		s.ws.ActiveSheetID = s.staged[0].ID
	case ImportAppend:
		s.ws.Sheets = append(s.ws.Sheets, s.staged...)
		if s.ws.ActiveSheetID == "" {
			s.ws.ActiveSheetID = s.staged[0].ID
		}
	default:
		return fmt.Errorf("%w: unknown import mode %q", ErrInvalidInput, mode)
	}
	s.staged = nil
	s.changed()
	return nil
}

// DiscardImport drops any staged sheet set without applying it.
func (s *Store) DiscardImport() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = nil
}
