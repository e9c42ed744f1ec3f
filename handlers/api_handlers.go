package handlers

import (
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gradebook-server-go/db"
	"gradebook-server-go/models"
	"gradebook-server-go/store"
	"gradebook-server-go/workbook"
)

// APIHandler holds the dependencies for API handlers: the sheet store and the
// debounced saver (for save-status reporting).
type APIHandler struct {
	Store     *store.Store
	Saver     *db.DebouncedSaver
	ExportDir string
}

// NewAPIHandler creates a new APIHandler. saver may be nil in tests.
func NewAPIHandler(s *store.Store, saver *db.DebouncedSaver, exportDir string) *APIHandler {
	return &APIHandler{
		Store:     s,
		Saver:     saver,
		ExportDir: exportDir,
	}
}

// statusFor maps store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrSheetNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrNoStagedImport):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func indexParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid index: " + c.Param(name)})
		return 0, false
	}
	return v, true
}

// --- Workspace ---

// GetWorkspace handles GET /api/workspace
func (h *APIHandler) GetWorkspace(c *gin.Context) {
	var lastSaved *time.Time
	if h.Saver != nil {
		if t := h.Saver.LastSaved(); !t.IsZero() {
			lastSaved = &t
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"workspace":    h.Store.Workspace(),
		"stagedSheets": h.Store.StagedImportCount(),
		"lastSaved":    lastSaved,
	})
}

// UpdateGlobalSetting handles PUT /api/settings
func (h *APIHandler) UpdateGlobalSetting(c *gin.Context) {
	var req struct {
		Key   string  `json:"key"`
		Value float64 `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	settings, err := h.Store.UpdateGlobalSetting(req.Key, req.Value)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// --- Sheet handlers ---

// CreateSheet handles POST /api/sheets. The name is optional; a missing or
// blank one gets the default.
func (h *APIHandler) CreateSheet(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
	}
	c.JSON(http.StatusCreated, h.Store.CreateSheet(req.Name))
}

// DeleteSheet handles DELETE /api/sheets/:sheetId
func (h *APIHandler) DeleteSheet(c *gin.Context) {
	if err := h.Store.DeleteSheet(c.Param("sheetId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RenameSheet handles PUT /api/sheets/:sheetId/name
func (h *APIHandler) RenameSheet(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := h.Store.RenameSheet(c.Param("sheetId"), req.Name); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ResizeStudentColumn handles PUT /api/sheets/:sheetId/width
func (h *APIHandler) ResizeStudentColumn(c *gin.Context) {
	var req struct {
		Width int `json:"width"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := h.Store.ResizeStudentColumn(c.Param("sheetId"), req.Width); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReorderSheets handles POST /api/sheets/reorder
func (h *APIHandler) ReorderSheets(c *gin.Context) {
	var req struct {
		From int `json:"from"`
		To   int `json:"to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := h.Store.ReorderSheets(req.From, req.To); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SelectSheet handles POST /api/sheets/:sheetId/select
func (h *APIHandler) SelectSheet(c *gin.Context) {
	if err := h.Store.SelectSheet(c.Param("sheetId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Evaluation handlers ---

// AddEvaluation handles POST /api/sheets/:sheetId/evaluations.
// Missing fields take the defaults of a fresh evaluation.
func (h *APIHandler) AddEvaluation(c *gin.Context) {
	req := struct {
		Name     string   `json:"name"`
		MaxScore *float64 `json:"maxScore"`
		Exigency *float64 `json:"exigency"`
	}{Name: "Nueva Evaluación"}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
	}
	maxScore, exigency := 10.0, 60.0
	if req.MaxScore != nil {
		maxScore = *req.MaxScore
	}
	if req.Exigency != nil {
		exigency = *req.Exigency
	}
	ev, err := h.Store.AddEvaluation(c.Param("sheetId"), req.Name, maxScore, exigency)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

// RemoveEvaluation handles DELETE /api/sheets/:sheetId/evaluations/:index
func (h *APIHandler) RemoveEvaluation(c *gin.Context) {
	index, ok := indexParam(c, "index")
	if !ok {
		return
	}
	if err := h.Store.RemoveEvaluation(c.Param("sheetId"), index); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReorderEvaluations handles POST /api/sheets/:sheetId/evaluations/reorder
func (h *APIHandler) ReorderEvaluations(c *gin.Context) {
	var req struct {
		From int `json:"from"`
		To   int `json:"to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := h.Store.ReorderEvaluations(c.Param("sheetId"), req.From, req.To); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetEvaluationName handles PUT /api/sheets/:sheetId/evaluations/:index/name
func (h *APIHandler) SetEvaluationName(c *gin.Context) {
	index, ok := indexParam(c, "index")
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := h.Store.SetEvaluationName(c.Param("sheetId"), index, req.Name); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetEvaluationField handles PUT /api/sheets/:sheetId/evaluations/:index/field
func (h *APIHandler) SetEvaluationField(c *gin.Context) {
	index, ok := indexParam(c, "index")
	if !ok {
		return
	}
	var req struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := h.Store.SetEvaluationField(c.Param("sheetId"), index, req.Field, req.Value); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SaveDifferentiatedScores handles PUT /api/sheets/:sheetId/evaluations/:index/differentiated.
// The index segment carries the evaluation id here.
func (h *APIHandler) SaveDifferentiatedScores(c *gin.Context) {
	var cfg models.DifferentiatedScores
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := h.Store.SaveDifferentiatedScores(c.Param("sheetId"), c.Param("index"), cfg); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Student handlers ---

// AddStudent handles POST /api/sheets/:sheetId/students
func (h *APIHandler) AddStudent(c *gin.Context) {
	st, err := h.Store.AddStudent(c.Param("sheetId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

// RemoveStudent handles DELETE /api/sheets/:sheetId/students/:index
func (h *APIHandler) RemoveStudent(c *gin.Context) {
	index, ok := indexParam(c, "index")
	if !ok {
		return
	}
	if err := h.Store.RemoveStudent(c.Param("sheetId"), index); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RenameStudent handles PUT /api/sheets/:sheetId/students/:index/name
func (h *APIHandler) RenameStudent(c *gin.Context) {
	index, ok := indexParam(c, "index")
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := h.Store.RenameStudent(c.Param("sheetId"), index, req.Name); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetHighlight handles POST /api/sheets/:sheetId/students/:index/highlight
func (h *APIHandler) SetHighlight(c *gin.Context) {
	index, ok := indexParam(c, "index")
	if !ok {
		return
	}
	highlight, err := h.Store.SetHighlight(c.Param("sheetId"), index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"highlight": highlight})
}

// SetScore handles PUT /api/sheets/:sheetId/students/:index/scores/:col
func (h *APIHandler) SetScore(c *gin.Context) {
	row, ok := indexParam(c, "index")
	if !ok {
		return
	}
	col, ok := indexParam(c, "col")
	if !ok {
		return
	}
	var req struct {
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	normalized, err := h.Store.SetScore(c.Param("sheetId"), row, col, req.Value)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": normalized})
}

// CommitScore handles POST /api/sheets/:sheetId/students/:index/scores/:col/commit
func (h *APIHandler) CommitScore(c *gin.Context) {
	row, ok := indexParam(c, "index")
	if !ok {
		return
	}
	col, ok := indexParam(c, "col")
	if !ok {
		return
	}
	committed, err := h.Store.CommitScore(c.Param("sheetId"), row, col)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": committed})
}

// --- Import / export handlers ---

// ImportWorkbook handles POST /api/import. The decoded sheet set is staged,
// not applied: the caller resolves it via ResolveImport (replace or append).
// A new upload supersedes any unresolved staging.
func (h *APIHandler) ImportWorkbook(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		log.Printf("Error getting form file: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error retrieving uploaded file: " + err.Error()})
		return
	}
	defer file.Close()

	log.Printf("Received workbook upload: %s", header.Filename)

	result, err := workbook.Decode(file)
	if err != nil {
		log.Printf("Error decoding workbook %s: %v", header.Filename, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "No valid grading data was found in the file"})
		return
	}
	h.Store.StageImport(result.Sheets)
	c.JSON(http.StatusOK, gin.H{
		"staged":  len(result.Sheets),
		"skipped": result.Skipped,
	})
}

// ResolveImport handles POST /api/import/resolve
func (h *APIHandler) ResolveImport(c *gin.Context) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := h.Store.ResolveImport(store.ImportMode(req.Mode)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Store.Workspace())
}

// DiscardImport handles DELETE /api/import
func (h *APIHandler) DiscardImport(c *gin.Context) {
	h.Store.DiscardImport()
	c.Status(http.StatusNoContent)
}

// ExportWorkbook handles GET /api/export: the workspace is encoded with
// freshly computed grades, written to the fixed export filename and streamed
// back as an attachment.
func (h *APIHandler) ExportWorkbook(c *gin.Context) {
	f, err := workbook.Encode(h.Store.Workspace())
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	path := filepath.Join(h.ExportDir, workbook.ExportFilename)
	if err := f.SaveAs(path); err != nil {
		log.Printf("Error writing export file %s: %v", path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to write export file"})
		return
	}
	c.FileAttachment(path, workbook.ExportFilename)
}

// PingHandler handles GET /api/ping
func PingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Pong!"})
}
