// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow coordinates the per-file analysis steps: preview,
// column mappings and the paid analysis call.
//
// # State Machine
//
//	Idle ──Load ok──► PreviewLoaded ──Analyze──► Analyzing ──► Analyzed
//	  │                    ▲  │                      │
//	  └──Load failed──► LoadFailed                   └──► AnalysisFailed
//
// Mapping edits are allowed from PreviewLoaded onwards and never change
// the state. Analyze may be retried from Analyzed and AnalysisFailed.
//
// # Instances
//
// A Navigator owns the notion of the current instance. Opening a file
// mints a new instance and makes the previous one stale; any result that
// arrives for a stale instance is dropped with ErrStale.
package workflow

import (
	"context"
	"errors"
	"sync"

	"github.com/AleutianAI/datalens/pkg/apierr"
	"github.com/AleutianAI/datalens/pkg/datatypes"
	"github.com/AleutianAI/datalens/pkg/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// State is the phase of one workflow instance.
type State int

const (
	StateIdle State = iota
	StatePreviewLoaded
	StateAnalyzing
	StateAnalyzed
	StateAnalysisFailed
	StateLoadFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreviewLoaded:
		return "preview_loaded"
	case StateAnalyzing:
		return "analyzing"
	case StateAnalyzed:
		return "analyzed"
	case StateAnalysisFailed:
		return "analysis_failed"
	case StateLoadFailed:
		return "load_failed"
	default:
		return "invalid"
	}
}

// previewReady reports whether the preview has been loaded in s.
func (s State) previewReady() bool {
	return s == StatePreviewLoaded || s == StateAnalyzing || s == StateAnalyzed || s == StateAnalysisFailed
}

var (
	// ErrStale is returned when a result arrives for an instance that is
	// no longer current. The result is not applied.
	ErrStale = errors.New("workflow instance is no longer current")

	// ErrAnalysisInFlight rejects a second Analyze while one is running.
	ErrAnalysisInFlight = apierr.Validation("workflow.analyze", "analysis already in progress")
)

// FileAPI is the subset of the backend the workflow needs.
type FileAPI interface {
	Preview(ctx context.Context, fileID int64) (datatypes.FilePreview, error)
	ListMappings(ctx context.Context, fileID int64) ([]datatypes.ColumnMapping, error)
	CreateMapping(ctx context.Context, fileID int64, req datatypes.CreateMappingRequest) error
	UpdateMapping(ctx context.Context, fileID, mappingID int64, req datatypes.UpdateMappingRequest) error
	DeleteMappings(ctx context.Context, fileID int64) error
	Analyze(ctx context.Context, fileID int64) (datatypes.AnalysisResult, error)
}

// Snapshot is a read-only view of one instance.
type Snapshot struct {
	FileID   int64
	State    State
	Preview  *datatypes.FilePreview
	Mappings []datatypes.ColumnMapping
	Result   *datatypes.AnalysisResult

	// Err is the message of the last failed load or analysis.
	Err string
}

// =============================================================================
// Navigator
// =============================================================================

// Option configures a Navigator.
type Option func(*Navigator)

// WithCreditRefresh sets a hook run after every analysis attempt that
// reached the backend, except authorization failures. Callers use it to
// re-read the balance.
func WithCreditRefresh(fn func(ctx context.Context)) Option {
	return func(n *Navigator) { n.refreshCredits = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(n *Navigator) { n.logger = logger }
}

// Navigator tracks which workflow instance is current.
type Navigator struct {
	api            FileAPI
	refreshCredits func(ctx context.Context)
	logger         *logging.Logger

	mu      sync.Mutex
	current uuid.UUID
}

// NewNavigator creates a Navigator with no current instance.
func NewNavigator(api FileAPI, opts ...Option) *Navigator {
	n := &Navigator{api: api}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = logging.Discard()
	}
	n.logger = n.logger.With("component", "workflow")
	return n
}

// Open starts a new instance for fileID and makes it current.
func (n *Navigator) Open(fileID int64) *Workflow {
	token := uuid.New()
	n.mu.Lock()
	n.current = token
	n.mu.Unlock()

	return &Workflow{
		nav:    n,
		token:  token,
		fileID: fileID,
		logger: n.logger.With("file_id", fileID, "instance", token.String()),
	}
}

// Leave makes no instance current.
func (n *Navigator) Leave() {
	n.mu.Lock()
	n.current = uuid.Nil
	n.mu.Unlock()
}

func (n *Navigator) isCurrent(token uuid.UUID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current == token
}

// =============================================================================
// Workflow
// =============================================================================

// Workflow is one file's analysis session. Safe for concurrent use.
type Workflow struct {
	nav    *Navigator
	token  uuid.UUID
	fileID int64
	logger *logging.Logger

	mu          sync.Mutex
	state       State
	preview     *datatypes.FilePreview
	mappings    []datatypes.ColumnMapping
	result      *datatypes.AnalysisResult
	lastErr     string
	mappingsSeq uint64
}

// FileID returns the file this instance works on.
func (w *Workflow) FileID() int64 {
	return w.fileID
}

// Snapshot returns the current view.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := Snapshot{
		FileID:   w.fileID,
		State:    w.state,
		Preview:  w.preview,
		Result:   w.result,
		Err:      w.lastErr,
		Mappings: append([]datatypes.ColumnMapping(nil), w.mappings...),
	}
	return snap
}

// Load fetches the preview and the mapping list concurrently.
//
// # Description
//
// Both reads must succeed to reach PreviewLoaded; otherwise the instance
// is LoadFailed and holds no preview, mappings or result. Loading while
// an analysis is running is rejected, and a load that an analysis
// overtakes is abandoned without touching the instance.
//
// # Outputs
//
//   - error: the first failed read, ErrAnalysisInFlight, or ErrStale
func (w *Workflow) Load(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateAnalyzing {
		w.mu.Unlock()
		return ErrAnalysisInFlight
	}
	w.mappingsSeq++
	seq := w.mappingsSeq
	w.mu.Unlock()

	var preview datatypes.FilePreview
	var mappings []datatypes.ColumnMapping
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		preview, err = w.nav.api.Preview(gctx, w.fileID)
		return err
	})
	g.Go(func() error {
		var err error
		mappings, err = w.nav.api.ListMappings(gctx, w.fileID)
		return err
	})
	err := g.Wait()

	if !w.nav.isCurrent(w.token) {
		return ErrStale
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateAnalyzing {
		w.logger.Debug("load abandoned, analysis in flight")
		return ErrAnalysisInFlight
	}
	if err != nil {
		w.state = StateLoadFailed
		w.preview = nil
		w.mappings = nil
		w.result = nil
		w.lastErr = apierr.MessageOf(err)
		w.logger.Debug("load failed", "error", w.lastErr)
		return err
	}
	w.state = StatePreviewLoaded
	w.preview = &preview
	w.result = nil
	w.lastErr = ""
	if seq >= w.mappingsSeq {
		w.mappings = mappings
	}
	w.logger.Debug("preview loaded", "columns", len(preview.Columns), "mappings", len(mappings))
	return nil
}

// AddMapping creates a mapping and re-fetches the list.
func (w *Workflow) AddMapping(ctx context.Context, source, target string) error {
	req := datatypes.CreateMappingRequest{SourceColumn: source, TargetField: target}
	if err := datatypes.Validate("workflow.add_mapping", req); err != nil {
		return err
	}
	if err := w.requirePreview("workflow.add_mapping"); err != nil {
		return err
	}
	if err := w.nav.api.CreateMapping(ctx, w.fileID, req); err != nil {
		return err
	}
	return w.reloadMappings(ctx)
}

// UpdateMapping changes a mapping's target field and re-fetches the list.
func (w *Workflow) UpdateMapping(ctx context.Context, mappingID int64, target string) error {
	req := datatypes.UpdateMappingRequest{TargetField: target}
	if err := datatypes.Validate("workflow.update_mapping", req); err != nil {
		return err
	}
	if err := w.requirePreview("workflow.update_mapping"); err != nil {
		return err
	}
	if err := w.nav.api.UpdateMapping(ctx, w.fileID, mappingID, req); err != nil {
		return err
	}
	return w.reloadMappings(ctx)
}

// ClearMappings deletes every mapping and re-fetches the list.
func (w *Workflow) ClearMappings(ctx context.Context) error {
	if err := w.requirePreview("workflow.clear_mappings"); err != nil {
		return err
	}
	if err := w.nav.api.DeleteMappings(ctx, w.fileID); err != nil {
		return err
	}
	return w.reloadMappings(ctx)
}

func (w *Workflow) requirePreview(op string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.state.previewReady() {
		return apierr.Validation(op, "file preview is not loaded")
	}
	return nil
}

// reloadMappings replaces the mapping list with the backend's. A reload
// that finishes after a newer one started is discarded.
func (w *Workflow) reloadMappings(ctx context.Context) error {
	w.mu.Lock()
	w.mappingsSeq++
	seq := w.mappingsSeq
	w.mu.Unlock()

	mappings, err := w.nav.api.ListMappings(ctx, w.fileID)
	if err != nil {
		return err
	}
	if !w.nav.isCurrent(w.token) {
		return ErrStale
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if seq == w.mappingsSeq {
		w.mappings = mappings
	}
	return nil
}

// Analyze runs the paid analysis.
//
// # Description
//
// Allowed from PreviewLoaded, Analyzed and AnalysisFailed. A call while
// another is running fails with ErrAnalysisInFlight before any request
// is made. Failure keeps the preview and mappings and records the
// backend's message. The credit refresh hook runs after every attempt
// that reached the backend, unless it ended in an authorization failure.
// A stale instance is put back the way the call found it.
//
// # Outputs
//
//   - *datatypes.AnalysisResult: on success
//   - error: validation, backend, or ErrStale
func (w *Workflow) Analyze(ctx context.Context) (*datatypes.AnalysisResult, error) {
	w.mu.Lock()
	switch w.state {
	case StateAnalyzing:
		w.mu.Unlock()
		return nil, ErrAnalysisInFlight
	case StateIdle, StateLoadFailed:
		w.mu.Unlock()
		return nil, apierr.Validation("workflow.analyze", "load the file preview before analyzing")
	}
	prevState, prevErr := w.state, w.lastErr
	w.state = StateAnalyzing
	w.lastErr = ""
	w.mu.Unlock()
	w.logger.Debug("analysis started")

	result, err := w.nav.api.Analyze(ctx, w.fileID)

	if w.nav.refreshCredits != nil && reachedBackend(err) {
		w.nav.refreshCredits(ctx)
	}

	if !w.nav.isCurrent(w.token) {
		w.mu.Lock()
		w.state = prevState
		w.lastErr = prevErr
		w.mu.Unlock()
		return nil, ErrStale
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.state = StateAnalysisFailed
		w.result = nil
		w.lastErr = apierr.MessageOf(err)
		w.logger.Debug("analysis failed", "error", w.lastErr)
		return nil, err
	}
	w.state = StateAnalyzed
	w.result = &result
	w.logger.Debug("analysis finished", "rows", result.RowCount)
	return &result, nil
}

// reachedBackend reports whether err (or success) implies the backend
// processed the analysis call and may have debited a credit.
func reachedBackend(err error) bool {
	if err == nil {
		return true
	}
	switch apierr.KindOf(err) {
	case apierr.KindNetwork, apierr.KindAuthorization, apierr.KindValidation:
		return false
	default:
		return true
	}
}
