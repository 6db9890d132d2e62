package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/docuflow/docuflow/internal/app"
	"github.com/docuflow/docuflow/internal/clients/docai"
	"github.com/docuflow/docuflow/internal/clients/docstore"
	"github.com/docuflow/docuflow/internal/clients/openai"
	"github.com/docuflow/docuflow/internal/clients/schema"
	"github.com/docuflow/docuflow/internal/config"
	"github.com/docuflow/docuflow/internal/constants"
	"github.com/docuflow/docuflow/internal/db"
	"github.com/docuflow/docuflow/internal/db/repos"
	"github.com/docuflow/docuflow/internal/events"
	"github.com/docuflow/docuflow/internal/governor"
	"github.com/docuflow/docuflow/internal/logger"
	"github.com/docuflow/docuflow/internal/pipeline"
	"github.com/docuflow/docuflow/internal/registry"
	"github.com/docuflow/docuflow/internal/router"
	"github.com/docuflow/docuflow/internal/scoring"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}
	logger.InitializeAndConfigure()

	ctx := context.Background()

	database, err := db.New(db.Options{
		Host:     config.GetEnv(constants.EnvDBHost, db.DefaultHost),
		User:     config.GetEnv(constants.EnvDBUser, db.DefaultUser),
		Password: config.GetEnv(constants.EnvDBPassword, db.DefaultPassword),
		DBName:   config.GetEnv(constants.EnvDBName, db.DefaultDBName),
		Port:     config.GetEnvInt(constants.EnvDBPort, db.DefaultPort),
	})
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	settings, err := config.NewStore(config.DefaultSettings())
	if err != nil {
		logger.Fatalf("Invalid default settings: %v", err)
	}

	gov := governor.New(governorLimits(settings.Current().Governor))

	ocr, err := docai.NewOCRInvoker(ctx, docai.ConfigFromEnv())
	if err != nil {
		logger.Fatalf("Failed to create document ai client: %v", err)
	}
	defer func() { _ = ocr.Close() }()

	llm, err := openai.New()
	if err != nil {
		logger.Fatalf("Failed to create openai client: %v", err)
	}

	validator, err := schema.NewValidatorFromDir(config.GetEnv(constants.EnvSchemaDir, "schemas"))
	if err != nil {
		logger.Fatalf("Failed to load validation schemas: %v", err)
	}

	reg := registry.New(repos.NewJobRepository(database))
	orchestrator := pipeline.New(pipeline.Config{
		Settings: settings,
		Registry: reg,
		Router:   router.New(settings),
		Scorer:   scoring.New(settings),
		Store:    docstore.NewFileStore(config.GetEnv(constants.EnvDocumentStoreRoot, "documents")),
		Runners: pipeline.BuildRunners(pipeline.Services{
			OCR:                ocr,
			Classifier:         llm.Classifier(),
			Extractor:          llm.Extractor(),
			SecondaryExtractor: llm.SecondaryExtractor(),
			Validator:          validator,
			Reasoner:           llm,
		}, gov),
		RequiredFields: validator.RequiredFields,
	})
	events.Subscribe(events.EventJobTerminal, func(_ context.Context, e events.Event) error {
		logger.InfoWithFields("Job audit", map[string]interface{}{
			"job_id":       e.JobID,
			"document_ref": e.DocumentRef,
			"state":        e.State.String(),
			"reason":       e.Reason,
			"decision":     string(e.Decision),
		})
		return nil
	})
	events.Start(ctx)

	if err := orchestrator.Start(ctx); err != nil {
		logger.Fatalf("Failed to start pipeline: %v", err)
	}

	server := app.NewApp(app.Deps{
		Settings: settings,
		Registry: reg,
		Pipeline: orchestrator,
		Governor: gov,
	})

	go func() {
		addr := ":" + config.GetEnv(constants.EnvPort, "8080")
		if err := server.Listen(addr); err != nil {
			logger.Fatalf("Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	if err := server.Shutdown(); err != nil {
		logger.Errorf("Server shutdown error: %v", err)
	}
	orchestrator.Stop()
}

func governorLimits(in map[string]config.GovernorLimits) map[string]governor.Limits {
	out := make(map[string]governor.Limits, len(in))
	for class, l := range in {
		out[class] = governor.Limits{
			RefillRate:  l.RefillRate,
			Burst:       l.Burst,
			PoolSize:    l.PoolSize,
			WaitTimeout: l.WaitTimeout,
		}
	}
	return out
}
