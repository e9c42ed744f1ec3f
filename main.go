package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/peterbourgon/ff/v3"

	"gradebook-server-go/db"
	"gradebook-server-go/handlers"
	"gradebook-server-go/store"
)

func main() {
	fs := flag.NewFlagSet("gradebook-server", flag.ExitOnError)
	var (
		_          = fs.String("config", "", "config file (optional), json format.")
		listenAddr = fs.String("listen", ":8080", "address to serve the API on")
		redisAddr  = fs.String("redisAddr", "127.0.0.1:6379", "redis server address")
		redisPass  = fs.String("redisPassword", "", "redis password")
		redisDB    = fs.Int("redisDb", 0, "redis database number")
		exportDir  = fs.String("exportDir", ".", "directory the export workbook is written to")
		saveDelay  = fs.Duration("saveDelay", 500*time.Millisecond, "debounce window for persisting workspace changes")
	)
	if err := ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.JSONParser),
		ff.WithEnvVarPrefix("GRADEBOOK"),
	); err != nil {
		log.Fatalf("Failed to parse configuration: %v", err)
	}

	// Initialize Redis Client
	redisClient := db.InitializeRedisClient(*redisAddr, *redisPass, *redisDB)
	stateStore := db.NewStateStore(redisClient)
	saver := db.NewDebouncedSaver(stateStore, *saveDelay)

	ws := stateStore.Load()
	log.Printf("Loaded workspace with %d sheet(s)", len(ws.Sheets))
	sheetStore := store.New(ws, saver)

	// Create API Handler
	apiHandler := handlers.NewAPIHandler(sheetStore, saver, *exportDir)

	// Initialize Gin router
	router := gin.Default()

	// Setup API routes
	api := router.Group("/api")
	{
		api.GET("/ping", handlers.PingHandler)
		api.GET("/workspace", apiHandler.GetWorkspace)
		api.PUT("/settings", apiHandler.UpdateGlobalSetting)

		api.POST("/sheets", apiHandler.CreateSheet)
		api.POST("/sheets/reorder", apiHandler.ReorderSheets)
		api.DELETE("/sheets/:sheetId", apiHandler.DeleteSheet)
		api.PUT("/sheets/:sheetId/name", apiHandler.RenameSheet)
		api.PUT("/sheets/:sheetId/width", apiHandler.ResizeStudentColumn)
		api.POST("/sheets/:sheetId/select", apiHandler.SelectSheet)

		api.POST("/sheets/:sheetId/evaluations", apiHandler.AddEvaluation)
		api.POST("/sheets/:sheetId/evaluations/reorder", apiHandler.ReorderEvaluations)
		api.DELETE("/sheets/:sheetId/evaluations/:index", apiHandler.RemoveEvaluation)
		api.PUT("/sheets/:sheetId/evaluations/:index/name", apiHandler.SetEvaluationName)
		api.PUT("/sheets/:sheetId/evaluations/:index/field", apiHandler.SetEvaluationField)
		api.PUT("/sheets/:sheetId/evaluations/:index/differentiated", apiHandler.SaveDifferentiatedScores)

		api.POST("/sheets/:sheetId/students", apiHandler.AddStudent)
		api.DELETE("/sheets/:sheetId/students/:index", apiHandler.RemoveStudent)
		api.PUT("/sheets/:sheetId/students/:index/name", apiHandler.RenameStudent)
		api.POST("/sheets/:sheetId/students/:index/highlight", apiHandler.SetHighlight)
		api.PUT("/sheets/:sheetId/students/:index/scores/:col", apiHandler.SetScore)
		api.POST("/sheets/:sheetId/students/:index/scores/:col/commit", apiHandler.CommitScore)

		api.POST("/import", apiHandler.ImportWorkbook)
		api.POST("/import/resolve", apiHandler.ResolveImport)
		api.DELETE("/import", apiHandler.DiscardImport)
		api.GET("/export", apiHandler.ExportWorkbook)
	}

	// Start the server. The error channel lets the flush below run whether
	// the process ends by signal or by a failed listen.
	srv := &http.Server{Addr: *listenAddr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", *listenAddr)
		errCh <- srv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	failed := false
	select {
	case err := <-errCh:
		log.Printf("Server stopped: %v", err)
		failed = true
	case <-sig:
		log.Println("Shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down server: %v", err)
		}
	}

	// Flush any pending debounced save before exiting
	log.Println("Flushing workspace state")
	saver.Flush(sheetStore.Workspace())
	if failed {
		os.Exit(1)
	}
}
