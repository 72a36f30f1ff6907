// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the development backend's HTTP endpoints.
//
// Every error body is {"message": "..."} so the client's error
// normalization sees the same shape it sees from the hosted service.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AleutianAI/datalens/pkg/apierr"
	"github.com/AleutianAI/datalens/pkg/datatypes"
	"github.com/AleutianAI/datalens/pkg/logging"
	"github.com/AleutianAI/datalens/services/devbackend/analysis"
	"github.com/AleutianAI/datalens/services/devbackend/auth"
	"github.com/AleutianAI/datalens/services/devbackend/middleware"
	"github.com/AleutianAI/datalens/services/devbackend/observability"
	"github.com/AleutianAI/datalens/services/devbackend/store"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// AnalysisCost is the number of credits one analyze call consumes.
const AnalysisCost = 1

// allowedTypes maps accepted upload extensions to their content type.
var allowedTypes = map[string]string{
	".csv":  "text/csv",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
	".pdf":  "application/pdf",
}

var emailValidate = validator.New()

// Config tunes account and upload behaviour.
type Config struct {
	// StarterCredits is credited to every new account.
	StarterCredits int64

	// BcryptCost is the password hashing cost.
	BcryptCost int

	// MaxUploadBytes caps a single upload. Zero means 10 MiB.
	MaxUploadBytes int64
}

// Handler serves the backend's API routes.
type Handler struct {
	store   *store.Store
	issuer  *auth.Issuer
	metrics *observability.Metrics
	logger  *logging.Logger
	cfg     Config
}

// New creates a Handler. A nil logger discards output.
func New(s *store.Store, issuer *auth.Issuer, metrics *observability.Metrics, logger *logging.Logger, cfg Config) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	return &Handler{store: s, issuer: issuer, metrics: metrics, logger: logger, cfg: cfg}
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"message": message})
}

// bindRequest decodes the JSON body into req and applies its validation
// tags. It writes a 400 and returns false on failure.
func bindRequest(c *gin.Context, op string, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, http.StatusBadRequest, "malformed request body")
		return false
	}
	if err := datatypes.Validate(op, req); err != nil {
		respondError(c, http.StatusBadRequest, apierr.MessageOf(err))
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// =============================================================================
// Auth
// =============================================================================

// issueTokens mints an access token and, when withRefresh is set, a
// fresh single-use refresh token.
func (h *Handler) issueTokens(u store.User, withRefresh bool) (datatypes.Tokens, error) {
	access, err := h.issuer.Issue(u.ID, u.Email)
	if err != nil {
		return datatypes.Tokens{}, err
	}
	tokens := datatypes.Tokens{AccessToken: access}
	if withRefresh {
		tokens.RefreshToken = auth.NewRefreshToken()
		h.store.SaveRefreshToken(tokens.RefreshToken, u.ID)
	}
	return tokens, nil
}

// Register creates an account. The response carries only the access
// token; a refresh token is issued on the first login.
func (h *Handler) Register(c *gin.Context) {
	var req datatypes.RegisterRequest
	if !bindRequest(c, "auth.register", &req) {
		h.metrics.RecordAuth("register", false)
		return
	}
	if err := emailValidate.Var(strings.TrimSpace(req.Email), "email"); err != nil {
		h.metrics.RecordAuth("register", false)
		respondError(c, http.StatusBadRequest, "email is invalid")
		return
	}

	hash, err := auth.HashPassword(req.Password, h.cfg.BcryptCost)
	if err != nil {
		h.logger.Error("Failed to hash password", "error", err)
		respondError(c, http.StatusInternalServerError, "registration failed")
		return
	}
	user, err := h.store.CreateUser(req.Email, req.Name, hash, h.cfg.StarterCredits)
	if errors.Is(err, store.ErrEmailTaken) {
		h.metrics.RecordAuth("register", false)
		respondError(c, http.StatusConflict, "Email already registered")
		return
	}
	if err != nil {
		h.logger.Error("Failed to create user", "error", err)
		respondError(c, http.StatusInternalServerError, "registration failed")
		return
	}
	if h.cfg.StarterCredits > 0 {
		h.metrics.RecordCredits("topup", h.cfg.StarterCredits)
	}

	tokens, err := h.issueTokens(user, false)
	if err != nil {
		h.logger.Error("Failed to issue token", "error", err)
		respondError(c, http.StatusInternalServerError, "registration failed")
		return
	}
	h.metrics.RecordAuth("register", true)
	h.logger.Info("Registered user", "user_id", user.ID)
	c.JSON(http.StatusOK, gin.H{"token": tokens.AccessToken, "user": toUser(user)})
}

// Login exchanges credentials for an access and refresh token.
func (h *Handler) Login(c *gin.Context) {
	var req datatypes.LoginRequest
	if !bindRequest(c, "auth.login", &req) {
		h.metrics.RecordAuth("login", false)
		return
	}
	user, err := h.store.UserByEmail(req.Email)
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		h.metrics.RecordAuth("login", false)
		respondError(c, http.StatusUnauthorized, "Bad credentials")
		return
	}
	tokens, err := h.issueTokens(user, true)
	if err != nil {
		h.logger.Error("Failed to issue token", "error", err)
		respondError(c, http.StatusInternalServerError, "login failed")
		return
	}
	h.metrics.RecordAuth("login", true)
	c.JSON(http.StatusOK, tokens)
}

// Refresh rotates a refresh token.
func (h *Handler) Refresh(c *gin.Context) {
	var req datatypes.RefreshRequest
	if !bindRequest(c, "auth.refresh", &req) {
		h.metrics.RecordAuth("refresh", false)
		return
	}
	userID, err := h.store.ConsumeRefreshToken(req.RefreshToken)
	if err != nil {
		h.metrics.RecordAuth("refresh", false)
		respondError(c, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	user, err := h.store.User(userID)
	if err != nil {
		h.metrics.RecordAuth("refresh", false)
		respondError(c, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	tokens, err := h.issueTokens(user, true)
	if err != nil {
		h.logger.Error("Failed to issue token", "error", err)
		respondError(c, http.StatusInternalServerError, "refresh failed")
		return
	}
	h.metrics.RecordAuth("refresh", true)
	c.JSON(http.StatusOK, tokens)
}

// Me returns the caller's profile.
func (h *Handler) Me(c *gin.Context) {
	user, err := h.store.User(middleware.UserID(c))
	if err != nil {
		respondError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	c.JSON(http.StatusOK, toUser(user))
}

func toUser(u store.User) datatypes.User {
	return datatypes.User{ID: u.ID, Email: u.Email, Name: u.Name}
}

// =============================================================================
// Files
// =============================================================================

func toUploadedFile(f store.File) datatypes.UploadedFile {
	return datatypes.UploadedFile{
		ID:         f.ID,
		FileName:   f.Name,
		FileType:   f.Type,
		FileSize:   f.Size(),
		UploadedAt: datatypes.Timestamp{Time: f.UploadedAt},
	}
}

// Upload stores the multipart "file" part.
func (h *Handler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes+1<<20)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		respondError(c, http.StatusBadRequest, "file is required")
		return
	}
	if header.Size > h.cfg.MaxUploadBytes {
		respondError(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	name := filepath.Base(header.Filename)
	contentType, ok := allowedTypes[strings.ToLower(filepath.Ext(name))]
	if !ok {
		respondError(c, http.StatusBadRequest, "unsupported file type (allowed: .csv, .xlsx, .xls, .pdf)")
		return
	}

	src, err := header.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "could not read upload")
		return
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		respondError(c, http.StatusBadRequest, "could not read upload")
		return
	}

	file := h.store.AddFile(middleware.UserID(c), name, contentType, data)
	h.metrics.UploadBytesTotal.Add(float64(file.Size()))
	h.logger.Info("Stored upload", "file_id", file.ID, "bytes", file.Size())
	c.JSON(http.StatusCreated, toUploadedFile(file))
}

// ListFiles lists the caller's files, newest first.
func (h *Handler) ListFiles(c *gin.Context) {
	files := h.store.Files(middleware.UserID(c))
	out := make([]datatypes.UploadedFile, 0, len(files))
	for _, f := range files {
		out = append(out, toUploadedFile(f))
	}
	c.JSON(http.StatusOK, out)
}

// DeleteFile removes a file and its mappings.
func (h *Handler) DeleteFile(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteFile(middleware.UserID(c), id); err != nil {
		respondError(c, http.StatusNotFound, "File not found")
		return
	}
	c.Status(http.StatusNoContent)
}

// Download streams the stored bytes as an attachment.
func (h *Handler) Download(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	file, err := h.store.File(middleware.UserID(c), id)
	if err != nil {
		respondError(c, http.StatusNotFound, "File not found")
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Name}))
	c.Data(http.StatusOK, file.Type, file.Data)
}

// loadTable parses a stored CSV file, answering 404 or 422 on failure.
func (h *Handler) loadTable(c *gin.Context) (analysis.Table, int64, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return analysis.Table{}, 0, false
	}
	file, err := h.store.File(middleware.UserID(c), id)
	if err != nil {
		respondError(c, http.StatusNotFound, "File not found")
		return analysis.Table{}, 0, false
	}
	if file.Type != allowedTypes[".csv"] {
		respondError(c, http.StatusUnprocessableEntity, "only CSV files can be previewed or analyzed")
		return analysis.Table{}, 0, false
	}
	table, err := analysis.ParseCSV(file.Data)
	if err != nil {
		respondError(c, http.StatusUnprocessableEntity, err.Error())
		return analysis.Table{}, 0, false
	}
	return table, id, true
}

// Preview returns the header and the first rows of a CSV file.
func (h *Handler) Preview(c *gin.Context) {
	table, _, ok := h.loadTable(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, datatypes.FilePreview{
		Columns: table.Columns,
		Sample:  table.Records(analysis.PreviewRows),
	})
}

// =============================================================================
// Mappings
// =============================================================================

func toMappings(list []store.Mapping) []datatypes.ColumnMapping {
	out := make([]datatypes.ColumnMapping, 0, len(list))
	for _, m := range list {
		out = append(out, datatypes.ColumnMapping{ID: m.ID, SourceColumn: m.Source, TargetField: m.Target})
	}
	return out
}

func (h *Handler) ListMappings(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	list, err := h.store.Mappings(middleware.UserID(c), id)
	if err != nil {
		respondError(c, http.StatusNotFound, "File not found")
		return
	}
	c.JSON(http.StatusOK, toMappings(list))
}

// CreateMapping maps a column of a CSV file to a target field. The source
// column must exist in the file's header.
func (h *Handler) CreateMapping(c *gin.Context) {
	table, id, ok := h.loadTable(c)
	if !ok {
		return
	}
	var req datatypes.CreateMappingRequest
	if !bindRequest(c, "mapping.create", &req) {
		return
	}
	if !table.HasColumn(req.SourceColumn) {
		respondError(c, http.StatusUnprocessableEntity, fmt.Sprintf("unknown column %q", req.SourceColumn))
		return
	}
	m, err := h.store.AddMapping(middleware.UserID(c), id, req.SourceColumn, strings.TrimSpace(req.TargetField))
	if err != nil {
		respondError(c, http.StatusNotFound, "File not found")
		return
	}
	c.JSON(http.StatusCreated, toMappings([]store.Mapping{m})[0])
}

func (h *Handler) UpdateMapping(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	mid, ok := pathID(c, "mid")
	if !ok {
		return
	}
	var req datatypes.UpdateMappingRequest
	if !bindRequest(c, "mapping.update", &req) {
		return
	}
	m, err := h.store.UpdateMapping(middleware.UserID(c), id, mid, strings.TrimSpace(req.TargetField))
	if err != nil {
		respondError(c, http.StatusNotFound, "Mapping not found")
		return
	}
	c.JSON(http.StatusOK, toMappings([]store.Mapping{m})[0])
}

func (h *Handler) ClearMappings(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.store.ClearMappings(middleware.UserID(c), id); err != nil {
		respondError(c, http.StatusNotFound, "File not found")
		return
	}
	c.Status(http.StatusNoContent)
}

// =============================================================================
// Credits
// =============================================================================

func (h *Handler) Balance(c *gin.Context) {
	c.JSON(http.StatusOK, datatypes.CreditBalance{Balance: h.store.Balance(middleware.UserID(c))})
}

func (h *Handler) History(c *gin.Context) {
	entries := h.store.History(middleware.UserID(c))
	out := make([]datatypes.CreditHistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, datatypes.CreditHistoryEntry{
			ID:        e.ID,
			Amount:    e.Amount,
			Type:      e.Type,
			CreatedAt: datatypes.Timestamp{Time: e.CreatedAt},
		})
	}
	c.JSON(http.StatusOK, out)
}

// AddCredits tops up the caller's balance.
func (h *Handler) AddCredits(c *gin.Context) {
	var req datatypes.TopUpRequest
	if !bindRequest(c, "credits.add", &req) {
		return
	}
	balance, err := h.store.TopUp(middleware.UserID(c), req.Amount)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	h.metrics.RecordCredits("topup", req.Amount)
	c.JSON(http.StatusOK, datatypes.CreditBalance{Balance: balance})
}

// =============================================================================
// Analysis
// =============================================================================

// Analyze renames columns per the file's mappings, describes every
// column and debits AnalysisCost credits.
//
// # Description
//
// The table is parsed and described before any credit moves, so a file
// that cannot be analyzed never costs anything. The debit is atomic: two
// concurrent calls on a balance of one produce one result and one 402.
//
// # Outputs
//
//   - 200 datatypes.AnalysisResult
//   - 402 {"message": "insufficient credit"}; balance unchanged
//   - 404 unknown file, 422 non-CSV or unparsable file
func (h *Handler) Analyze(c *gin.Context) {
	table, id, ok := h.loadTable(c)
	if !ok {
		h.metrics.RecordAnalysis("unsupported")
		return
	}
	userID := middleware.UserID(c)
	mappings, err := h.store.Mappings(userID, id)
	if err != nil {
		h.metrics.RecordAnalysis("error")
		respondError(c, http.StatusNotFound, "File not found")
		return
	}
	// Later mappings of the same column win.
	renames := make(map[string]string, len(mappings))
	for _, m := range mappings {
		renames[m.Source] = m.Target
	}
	table = table.Rename(renames)
	result := datatypes.AnalysisResult{
		RowCount: len(table.Rows),
		Columns:  table.Columns,
		Describe: analysis.Describe(table),
		Data:     table.Records(-1),
	}

	balance, err := h.store.Debit(userID, AnalysisCost, store.EntryAnalysis)
	if errors.Is(err, store.ErrInsufficientCredit) {
		h.metrics.RecordAnalysis("insufficient_credit")
		respondError(c, http.StatusPaymentRequired, "insufficient credit")
		return
	}
	if err != nil {
		h.metrics.RecordAnalysis("error")
		respondError(c, http.StatusInternalServerError, "analysis failed")
		return
	}
	h.metrics.RecordCredits("debit", AnalysisCost)
	h.metrics.RecordAnalysis("success")
	h.logger.Info("Analyzed file", "file_id", id, "rows", result.RowCount, "balance", balance)
	c.JSON(http.StatusOK, result)
}
