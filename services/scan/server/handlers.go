// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianScan/services/scan/engine"
	"github.com/AleutianAI/AleutianScan/services/scan/rules"
	"github.com/AleutianAI/AleutianScan/services/scan/telemetry"
)

// HandleAnalyze handles POST /v1/analyze.
//
// Description:
//
//	Decodes the submitted file, verifies and decodes every rule, and runs
//	the accepted rules against the file. Rules of another language than
//	the file, rules whose checksum does not verify (including rules
//	without a checksum) and rules whose payloads cannot be decoded are
//	excluded one by one; their codes are listed in the response errors
//	and the other rules still run.
//
// Request Body:
//
//	AnalysisRequest
//
// Response:
//
//	200 OK: AnalysisResponse
//	400 Bad Request: Malformed or invalid request body
func (s *Server) HandleAnalyze(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), s.logger).With("request_id", requestID, "handler", "HandleAnalyze")

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxBodyBytes)

	var req AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}
	if !req.Language.Valid() {
		logger.Warn("Unsupported language", "language", string(req.Language))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: "unsupported language " + strings.ToUpper(string(req.Language)),
		})
		return
	}

	resp := AnalysisResponse{
		RuleResponses: []rules.RuleResult{},
		Errors:        []string{},
	}

	code, err := rules.DecodeBase64Text(req.CodeBase64)
	if err != nil {
		logger.Warn("Code is not base64 text", "filename", req.Filename)
		resp.Errors = append(resp.Errors, rules.CodeCodeNotBase64)
		c.JSON(http.StatusOK, resp)
		return
	}

	decoded := make([]*rules.DecodedRule, 0, len(req.Rules))
	for i := range req.Rules {
		r := req.Rules[i].toRule()
		if r.Language != req.Language {
			addCode(&resp.Errors, rules.CodeLanguageMismatch)
			continue
		}
		d, err := rules.VerifyAndDecode(&r)
		if err != nil {
			errCode := rules.ErrorCode(err)
			logger.Warn("rule excluded", "rule", r.Name, "code", errCode, "error", err)
			addCode(&resp.Errors, errCode)
			continue
		}
		decoded = append(decoded, d)
	}

	start := time.Now()
	if req.Options != nil {
		opts := engine.AnalysisOptions{
			LogOutput: req.Options.LogOutput,
			UseDebug:  req.Options.UseDebug,
			Timeout:   time.Duration(req.Options.TimeoutMs) * time.Millisecond,
		}
		resp.RuleResponses = engine.Analyze(c.Request.Context(), req.Language, decoded, req.Filename, []byte(code), opts)
	} else {
		resp.RuleResponses = s.engine.Analyze(c.Request.Context(), req.Language, decoded, req.Filename, []byte(code))
	}

	logger.Info("Analysis complete",
		slog.String("filename", req.Filename),
		slog.String("language", string(req.Language)),
		slog.Int("rules", len(decoded)),
		slog.Int("excluded", len(req.Rules)-len(decoded)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	c.JSON(http.StatusOK, resp)
}

// HandleVersion handles GET /v1/version.
func (s *Server) HandleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, VersionResponse{
		Version:  s.config.Version,
		Revision: s.config.Revision,
	})
}

// HandleHealth handles GET /v1/health. Always 200 while running.
func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: s.config.Version,
	})
}

func (r RequestRule) toRule() rules.Rule {
	severity := r.Severity
	if severity == "" {
		severity = rules.SeverityError
	}
	category := r.Category
	if category == "" {
		category = rules.CategoryBestPractices
	}

	rule := rules.Rule{
		Name:       r.ID,
		Category:   category,
		Severity:   severity,
		Language:   r.Language,
		RuleType:   r.Type,
		CodeBase64: r.CodeBase64,
		Checksum:   r.Checksum,
		Variables:  r.Variables,
	}
	if r.TreeSitterQueryBase64 != "" {
		q := r.TreeSitterQueryBase64
		rule.TreeSitterQueryBase64 = &q
	}
	return rule
}

func addCode(codes *[]string, code string) {
	if !slices.Contains(*codes, code) {
		*codes = append(*codes, code)
	}
}

// getOrCreateRequestID returns the X-Request-ID header or a new UUID, and
// echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	if id, ok := c.Get(requestIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	c.Set(requestIDKey, requestID)
	return requestID
}

const requestIDKey = "request_id"

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		getOrCreateRequestID(c)
		c.Next()
	}
}
