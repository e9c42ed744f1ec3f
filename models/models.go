package models

// Default field values applied to newly created or freshly loaded entities.
const (
	DefaultStudentHeader      = "Alumnos"
	DefaultStudentColumnWidth = 200
	MinStudentColumnWidth     = 100
)

// Highlight is the per-student color tag. It drives both display grouping and
// differentiated max-score lookup. The empty string means "no highlight".
type Highlight string

const (
	HighlightNone   Highlight = ""
	HighlightGreen  Highlight = "green"
	HighlightYellow Highlight = "yellow"
	HighlightBlue   Highlight = "blue"
)

// ParseHighlight maps arbitrary text onto the closed highlight set. Anything
// outside the set collapses to HighlightNone.
func ParseHighlight(s string) Highlight {
	switch Highlight(s) {
	case HighlightGreen, HighlightYellow, HighlightBlue:
		return Highlight(s)
	}
	return HighlightNone
}

// Next cycles none -> green -> yellow -> blue -> none.
func (h Highlight) Next() Highlight {
	switch h {
	case HighlightNone:
		return HighlightGreen
	case HighlightGreen:
		return HighlightYellow
	case HighlightYellow:
		return HighlightBlue
	default:
		return HighlightNone
	}
}

// Settings is the global grading scale configuration.
type Settings struct {
	MinGrade     float64 `json:"minGrade"`
	PassingGrade float64 `json:"passingGrade"`
	MaxGrade     float64 `json:"maxGrade"`
}

// DefaultSettings returns the 1.0 / 4.0 / 7.0 scale used for fresh workspaces.
func DefaultSettings() Settings {
	return Settings{MinGrade: 1.0, PassingGrade: 4.0, MaxGrade: 7.0}
}

// Valid reports whether minGrade < passingGrade < maxGrade holds.
func (s Settings) Valid() bool {
	return s.MinGrade < s.PassingGrade && s.PassingGrade < s.MaxGrade
}

// DifferentiatedScores holds optional per-highlight override max scores for one
// evaluation. The three color slots are always present; they only take effect
// while Enabled is true.
type DifferentiatedScores struct {
	Enabled bool    `json:"enabled"`
	Green   float64 `json:"green"`
	Yellow  float64 `json:"yellow"`
	Blue    float64 `json:"blue"`
}

// NewDifferentiatedScores returns the disabled default with every color slot
// set to the evaluation's max score.
func NewDifferentiatedScores(maxScore float64) DifferentiatedScores {
	return DifferentiatedScores{Green: maxScore, Yellow: maxScore, Blue: maxScore}
}

// For returns the override max score for a highlight. The second return is
// false when the highlight has no positive override configured.
func (d DifferentiatedScores) For(h Highlight) (float64, bool) {
	var v float64
	switch h {
	case HighlightGreen:
		v = d.Green
	case HighlightYellow:
		v = d.Yellow
	case HighlightBlue:
		v = d.Blue
	default:
		return 0, false
	}
	if v <= 0 {
		return 0, false
	}
	return v, true
}

// Evaluation is one gradable assessment column of a sheet.
type Evaluation struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	MaxScore       float64              `json:"maxScore"`
	Exigency       float64              `json:"exigency"`
	Differentiated DifferentiatedScores `json:"differentiatedScores"`
}

// EffectiveMaxScore resolves the max score for a student: the differentiated
// override when enabled and the student carries a highlight with a positive
// override value, otherwise the evaluation's own max score.
func (e Evaluation) EffectiveMaxScore(h Highlight) float64 {
	if e.Differentiated.Enabled && h != HighlightNone {
		if v, ok := e.Differentiated.For(h); ok {
			return v
		}
	}
	return e.MaxScore
}

// Student is one row of a sheet. Scores are keyed by evaluation id so that
// reordering evaluations can never misalign them; the empty string marks an
// ungraded cell, never zero.
type Student struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Scores    map[string]string `json:"scores"`
	Highlight Highlight         `json:"highlight"`
}

// Sheet is one grading table: evaluations as columns, students as rows.
type Sheet struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	StudentHeader      string       `json:"studentHeader"`
	Evaluations        []Evaluation `json:"evaluations"`
	Students           []Student    `json:"studentData"`
	StudentColumnWidth int          `json:"studentColumnWidth"`
}

// ScoreRow is the positional view of a student's scores, aligned with the
// sheet's current evaluation order.
func (sh Sheet) ScoreRow(st Student) []string {
	row := make([]string, len(sh.Evaluations))
	for i, ev := range sh.Evaluations {
		row[i] = st.Scores[ev.ID]
	}
	return row
}

// Clone returns a deep copy of the sheet.
func (sh Sheet) Clone() Sheet {
	out := sh
	out.Evaluations = append([]Evaluation(nil), sh.Evaluations...)
	out.Students = make([]Student, len(sh.Students))
	for i, st := range sh.Students {
		cp := st
		cp.Scores = make(map[string]string, len(st.Scores))
		for k, v := range st.Scores {
			cp.Scores[k] = v
		}
		out.Students[i] = cp
	}
	return out
}

// Workspace is the full persisted state: all sheets, the active sheet id
// ("" when no sheet exists) and the global grading settings.
type Workspace struct {
	Sheets         []Sheet  `json:"sheets"`
	ActiveSheetID  string   `json:"activeSheetId"`
	GlobalSettings Settings `json:"globalSettings"`
}

// NewWorkspace returns an empty workspace with default settings.
func NewWorkspace() Workspace {
	return Workspace{GlobalSettings: DefaultSettings()}
}

// Clone returns a deep copy of the workspace.
func (w Workspace) Clone() Workspace {
	out := w
	out.Sheets = make([]Sheet, len(w.Sheets))
	for i, sh := range w.Sheets {
		out.Sheets[i] = sh.Clone()
	}
	return out
}

// SheetByID returns the sheet with the given id, or nil.
func (w *Workspace) SheetByID(id string) *Sheet {
	for i := range w.Sheets {
		if w.Sheets[i].ID == id {
			return &w.Sheets[i]
		}
	}
	return nil
}

// Normalize applies field-by-field defaults and repairs to a workspace loaded
// from an untrusted blob: column widths, student headers, highlight values,
// score slots and the active-sheet reference are all coerced back into a
// state that satisfies the structural invariants.
func (w *Workspace) Normalize() {
	if !w.GlobalSettings.Valid() {
		w.GlobalSettings = DefaultSettings()
	}
	for i := range w.Sheets {
		sh := &w.Sheets[i]
		if sh.StudentColumnWidth < MinStudentColumnWidth {
			sh.StudentColumnWidth = DefaultStudentColumnWidth
		}
		if sh.StudentHeader == "" {
			sh.StudentHeader = DefaultStudentHeader
		}
		for j := range sh.Students {
			st := &sh.Students[j]
			st.Highlight = ParseHighlight(string(st.Highlight))
			if st.Scores == nil {
				st.Scores = make(map[string]string, len(sh.Evaluations))
			}
			for _, ev := range sh.Evaluations {
				if _, ok := st.Scores[ev.ID]; !ok {
					st.Scores[ev.ID] = ""
				}
			}
		}
	}
	if w.SheetByID(w.ActiveSheetID) == nil {
		w.ActiveSheetID = ""
		if len(w.Sheets) > 0 {
			w.ActiveSheetID = w.Sheets[0].ID
		}
	}
}
