package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/stemsi/clonearena-backend/internal/config"
	"github.com/stemsi/clonearena-backend/internal/database"
	"github.com/stemsi/clonearena-backend/internal/grading"
	"github.com/stemsi/clonearena-backend/internal/logger"
	"github.com/stemsi/clonearena-backend/internal/model"
	"github.com/stemsi/clonearena-backend/internal/repository"
	"golang.org/x/term"
)

func main() {
	targetPath := flag.String("target", "", "target design screenshot (PNG or JPEG)")
	resultPath := flag.String("result", "", "implementation screenshot (PNG or JPEG)")
	recent := flag.Int("recent", 0, "print the N most recent grade audit records and exit")
	timeout := flag.Duration("timeout", 90*time.Second, "grading timeout")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	// stdout carries results only; logs go to stderr.
	format := cfg.LogFormat
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		format = "json"
	}
	log := logger.SetupWriter(cfg.LogLevel, format, os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// ─── Open Grade Audit Database ─────────────────────────────────────
	auditDB, err := database.OpenSQLite(ctx, cfg.AuditDBPath, repository.GradeAuditSchema, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open grade audit database")
	}
	defer auditDB.Close()
	auditRepo := repository.NewGradeAuditRepository(auditDB)

	if *recent > 0 {
		records, err := auditRepo.Recent(ctx, *recent)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read grade audit records")
		}
		printJSON(records)
		return
	}

	if *targetPath == "" || *resultPath == "" {
		fmt.Fprintln(os.Stderr, "usage: grade -target design.png -result attempt.png")
		flag.PrintDefaults()
		os.Exit(2)
	}

	target, err := readImage(*targetPath)
	if err != nil {
		log.Fatal().Err(err).Str("file", *targetPath).Msg("Failed to read target screenshot")
	}
	result, err := readImage(*resultPath)
	if err != nil {
		log.Fatal().Err(err).Str("file", *resultPath).Msg("Failed to read result screenshot")
	}
	if err := grading.Validate(target, result); err != nil {
		log.Fatal().Err(err).Msg("Invalid screenshots")
	}

	// ─── API Key ───────────────────────────────────────────────────────
	apiKey := cfg.GeminiAPIKey
	if apiKey == "" && term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprint(os.Stderr, "Enter Gemini API key: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read API key")
		}
		apiKey = strings.TrimSpace(string(raw))
	}
	if apiKey == "" {
		log.Fatal().Msg("GEMINI_API_KEY is required")
	}

	visionModel, err := grading.NewGenAIModel(ctx, apiKey, cfg.GradingModel)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create grading model client")
	}

	grader := grading.NewGrader(visionModel, grading.NewDirectAuditSink(auditRepo), log)
	requestID := fmt.Sprintf("cli-%d", time.Now().UnixMilli())

	res, gradeErr := grader.Grade(ctx, *target, *result)
	grader.Audit(ctx, requestID, res, gradeErr)
	if gradeErr != nil {
		log.Error().Err(gradeErr).Msg("Grading failed")
		printJSON(model.NewGradeFailure())
		os.Exit(1)
	}
	printJSON(res)
}

func readImage(path string) (*grading.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &grading.Image{Data: data, MIMEType: http.DetectContentType(data)}, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
