// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/datalens/pkg/apierr"
	"github.com/AleutianAI/datalens/pkg/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Double
// =============================================================================

// fakeFileAPI behaves like the backend for a single file: it assigns
// mapping ids, charges one credit per analysis and refuses at zero.
type fakeFileAPI struct {
	mu         sync.Mutex
	balance    int64
	mappings   []datatypes.ColumnMapping
	nextID     int64
	previewErr error
	analyzeErr error

	// analyzeGate, when set, blocks Analyze until closed.
	analyzeGate    chan struct{}
	analyzeStarted chan struct{}
	analyzeCalls   atomic.Int32

	// loadBarrier makes Preview and ListMappings wait for each other.
	loadBarrier *sync.WaitGroup

	// previewEntered, when set, is closed as Preview starts.
	previewEntered chan struct{}
}

func (f *fakeFileAPI) Preview(context.Context, int64) (datatypes.FilePreview, error) {
	if f.previewEntered != nil {
		close(f.previewEntered)
	}
	f.waitBarrier()
	if f.previewErr != nil {
		return datatypes.FilePreview{}, f.previewErr
	}
	return datatypes.FilePreview{
		Columns: []string{"price", "qty"},
		Sample:  []map[string]any{{"price": 1.5, "qty": 2}},
	}, nil
}

func (f *fakeFileAPI) ListMappings(context.Context, int64) ([]datatypes.ColumnMapping, error) {
	f.waitBarrier()
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]datatypes.ColumnMapping(nil), f.mappings...), nil
}

func (f *fakeFileAPI) waitBarrier() {
	if f.loadBarrier == nil {
		return
	}
	f.loadBarrier.Done()
	f.loadBarrier.Wait()
}

func (f *fakeFileAPI) CreateMapping(_ context.Context, _ int64, req datatypes.CreateMappingRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.mappings = append(f.mappings, datatypes.ColumnMapping{
		ID: f.nextID, SourceColumn: req.SourceColumn, TargetField: req.TargetField,
	})
	return nil
}

func (f *fakeFileAPI) UpdateMapping(_ context.Context, _ int64, mappingID int64, req datatypes.UpdateMappingRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.mappings {
		if f.mappings[i].ID == mappingID {
			f.mappings[i].TargetField = req.TargetField
			return nil
		}
	}
	return apierr.FromStatus("mapping.update", 404, "mapping not found")
}

func (f *fakeFileAPI) DeleteMappings(context.Context, int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mappings = nil
	return nil
}

func (f *fakeFileAPI) Analyze(context.Context, int64) (datatypes.AnalysisResult, error) {
	f.analyzeCalls.Add(1)
	if f.analyzeStarted != nil {
		close(f.analyzeStarted)
	}
	if f.analyzeGate != nil {
		<-f.analyzeGate
	}
	if f.analyzeErr != nil {
		return datatypes.AnalysisResult{}, f.analyzeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance <= 0 {
		return datatypes.AnalysisResult{}, apierr.FromStatus("ai.analyze", 402, "insufficient credit")
	}
	f.balance--
	return datatypes.AnalysisResult{RowCount: 1, Columns: []string{"price"}}, nil
}

func (f *fakeFileAPI) currentBalance() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance
}

func openLoaded(t *testing.T, fake *fakeFileAPI, opts ...Option) (*Navigator, *Workflow) {
	t.Helper()
	nav := NewNavigator(fake, opts...)
	w := nav.Open(42)
	require.NoError(t, w.Load(context.Background()))
	return nav, w
}

// =============================================================================
// Load
// =============================================================================

func TestLoad_FetchesPreviewAndMappingsConcurrently(t *testing.T) {
	barrier := &sync.WaitGroup{}
	barrier.Add(2)
	fake := &fakeFileAPI{
		mappings:    []datatypes.ColumnMapping{{ID: 1, SourceColumn: "price", TargetField: "amount"}},
		loadBarrier: barrier,
	}
	w := NewNavigator(fake).Open(42)

	done := make(chan error, 1)
	go func() { done <- w.Load(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("preview and mappings were not fetched concurrently")
	}

	snap := w.Snapshot()
	assert.Equal(t, StatePreviewLoaded, snap.State)
	assert.Equal(t, []string{"price", "qty"}, snap.Preview.Columns)
	assert.Len(t, snap.Mappings, 1)
}

func TestLoad_FailureHoldsNoPartialData(t *testing.T) {
	fake := &fakeFileAPI{
		previewErr: apierr.FromStatus("files.preview", 422, "preview is only available for CSV files"),
		mappings:   []datatypes.ColumnMapping{{ID: 1, SourceColumn: "a", TargetField: "b"}},
	}
	w := NewNavigator(fake).Open(42)

	err := w.Load(context.Background())

	assert.ErrorIs(t, err, apierr.ErrBusiness)
	snap := w.Snapshot()
	assert.Equal(t, StateLoadFailed, snap.State)
	assert.Nil(t, snap.Preview)
	assert.Empty(t, snap.Mappings)
	assert.Equal(t, "preview is only available for CSV files", snap.Err)

	// Reload is allowed from LoadFailed.
	fake.previewErr = nil
	require.NoError(t, w.Load(context.Background()))
	assert.Equal(t, StatePreviewLoaded, w.Snapshot().State)
}

// =============================================================================
// Mappings
// =============================================================================

func TestAddMapping_RefetchesList(t *testing.T) {
	fake := &fakeFileAPI{}
	_, w := openLoaded(t, fake)

	require.NoError(t, w.AddMapping(context.Background(), "price", "amount"))

	mappings := w.Snapshot().Mappings
	require.Len(t, mappings, 1)
	assert.Equal(t, int64(1), mappings[0].ID, "id comes from the backend, not an echo")
	assert.Equal(t, "price", mappings[0].SourceColumn)
	assert.Equal(t, "amount", mappings[0].TargetField)
	assert.Equal(t, StatePreviewLoaded, w.Snapshot().State)
}

func TestAddMapping_DuplicatesAreKept(t *testing.T) {
	fake := &fakeFileAPI{}
	_, w := openLoaded(t, fake)

	require.NoError(t, w.AddMapping(context.Background(), "price", "amount"))
	require.NoError(t, w.AddMapping(context.Background(), "price", "total"))

	assert.Len(t, w.Snapshot().Mappings, 2)
}

func TestAddMapping_Validation(t *testing.T) {
	fake := &fakeFileAPI{}
	_, w := openLoaded(t, fake)

	assert.ErrorIs(t, w.AddMapping(context.Background(), "", "amount"), apierr.ErrValidation)
	assert.ErrorIs(t, w.AddMapping(context.Background(), "price", ""), apierr.ErrValidation)
	assert.Empty(t, fake.mappings)
}

func TestMappingEdits_RequirePreview(t *testing.T) {
	w := NewNavigator(&fakeFileAPI{}).Open(42)

	assert.ErrorIs(t, w.AddMapping(context.Background(), "a", "b"), apierr.ErrValidation)
	assert.ErrorIs(t, w.UpdateMapping(context.Background(), 1, "b"), apierr.ErrValidation)
	assert.ErrorIs(t, w.ClearMappings(context.Background()), apierr.ErrValidation)
}

func TestUpdateAndClearMappings(t *testing.T) {
	fake := &fakeFileAPI{}
	_, w := openLoaded(t, fake)
	require.NoError(t, w.AddMapping(context.Background(), "price", "amount"))

	require.NoError(t, w.UpdateMapping(context.Background(), 1, "unit_price"))
	assert.Equal(t, "unit_price", w.Snapshot().Mappings[0].TargetField)

	err := w.UpdateMapping(context.Background(), 99, "x")
	assert.ErrorIs(t, err, apierr.ErrNotFound)

	require.NoError(t, w.ClearMappings(context.Background()))
	assert.Empty(t, w.Snapshot().Mappings)
}

// =============================================================================
// Analyze
// =============================================================================

func TestAnalyze_RequiresPreview(t *testing.T) {
	fake := &fakeFileAPI{balance: 5}
	w := NewNavigator(fake).Open(42)

	_, err := w.Analyze(context.Background())

	assert.ErrorIs(t, err, apierr.ErrValidation)
	assert.Equal(t, int32(0), fake.analyzeCalls.Load())
}

func TestAnalyze_Success(t *testing.T) {
	fake := &fakeFileAPI{balance: 2}
	var refreshed atomic.Int32
	_, w := openLoaded(t, fake, WithCreditRefresh(func(context.Context) { refreshed.Add(1) }))

	result, err := w.Analyze(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, result.RowCount)
	snap := w.Snapshot()
	assert.Equal(t, StateAnalyzed, snap.State)
	assert.Equal(t, result, snap.Result)
	assert.Equal(t, int32(1), refreshed.Load())
	assert.Equal(t, int64(1), fake.currentBalance())

	// Re-analysis is allowed from Analyzed.
	_, err = w.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.analyzeCalls.Load())
}

func TestAnalyze_InsufficientCredit(t *testing.T) {
	fake := &fakeFileAPI{balance: 0}
	var refreshed atomic.Int32
	_, w := openLoaded(t, fake, WithCreditRefresh(func(context.Context) { refreshed.Add(1) }))
	require.NoError(t, w.AddMapping(context.Background(), "price", "amount"))
	before := w.Snapshot()

	_, err := w.Analyze(context.Background())

	assert.ErrorIs(t, err, apierr.ErrBusiness)
	snap := w.Snapshot()
	assert.Equal(t, StateAnalysisFailed, snap.State)
	assert.Equal(t, "insufficient credit", snap.Err)
	assert.Nil(t, snap.Result)
	assert.Equal(t, before.Preview, snap.Preview)
	assert.Equal(t, before.Mappings, snap.Mappings)
	assert.Equal(t, int64(0), fake.currentBalance())
	assert.Equal(t, int32(1), refreshed.Load(), "balance view is re-read after the attempt")

	// Retry is allowed from AnalysisFailed.
	fake.mu.Lock()
	fake.balance = 1
	fake.mu.Unlock()
	_, err = w.Analyze(context.Background())
	assert.NoError(t, err)
}

func TestAnalyze_ConcurrentCallsReachBackendOnce(t *testing.T) {
	fake := &fakeFileAPI{
		balance:        5,
		analyzeGate:    make(chan struct{}),
		analyzeStarted: make(chan struct{}),
	}
	_, w := openLoaded(t, fake)

	first := make(chan error, 1)
	go func() {
		_, err := w.Analyze(context.Background())
		first <- err
	}()
	<-fake.analyzeStarted

	_, err := w.Analyze(context.Background())
	assert.ErrorIs(t, err, ErrAnalysisInFlight)
	assert.ErrorIs(t, err, apierr.ErrValidation)
	assert.ErrorIs(t, w.Load(context.Background()), ErrAnalysisInFlight)

	close(fake.analyzeGate)
	require.NoError(t, <-first)
	assert.Equal(t, int32(1), fake.analyzeCalls.Load())
}

func TestAnalyze_ReloadOvertakenByAnalysisIsAbandoned(t *testing.T) {
	fake := &fakeFileAPI{balance: 5}
	_, w := openLoaded(t, fake)

	var barrier sync.WaitGroup
	barrier.Add(3)
	fake.loadBarrier = &barrier
	fake.analyzeGate = make(chan struct{})
	fake.analyzeStarted = make(chan struct{})
	fake.previewEntered = make(chan struct{})

	loadDone := make(chan error, 1)
	go func() { loadDone <- w.Load(context.Background()) }()
	<-fake.previewEntered

	analyzeDone := make(chan error, 1)
	go func() {
		_, err := w.Analyze(context.Background())
		analyzeDone <- err
	}()
	<-fake.analyzeStarted
	barrier.Done()

	assert.ErrorIs(t, <-loadDone, ErrAnalysisInFlight)
	assert.Equal(t, StateAnalyzing, w.Snapshot().State)

	_, err := w.Analyze(context.Background())
	assert.ErrorIs(t, err, ErrAnalysisInFlight)

	close(fake.analyzeGate)
	require.NoError(t, <-analyzeDone)
	assert.Equal(t, int32(1), fake.analyzeCalls.Load())
	assert.Equal(t, StateAnalyzed, w.Snapshot().State)
}

func TestAnalyze_NoCreditRefreshWhenBackendNotReached(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"network", apierr.Network("ai.analyze", errors.New("connection refused"))},
		{"authorization", apierr.FromStatus("ai.analyze", 401, "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeFileAPI{analyzeErr: tt.err}
			var refreshed atomic.Int32
			_, w := openLoaded(t, fake, WithCreditRefresh(func(context.Context) { refreshed.Add(1) }))

			_, err := w.Analyze(context.Background())

			assert.Error(t, err)
			assert.Equal(t, int32(0), refreshed.Load())
			assert.Equal(t, StateAnalysisFailed, w.Snapshot().State)
		})
	}
}

// =============================================================================
// Navigator
// =============================================================================

func TestNavigator_StaleAnalysisIsDiscarded(t *testing.T) {
	fake := &fakeFileAPI{
		balance:        5,
		analyzeGate:    make(chan struct{}),
		analyzeStarted: make(chan struct{}),
	}
	nav, w := openLoaded(t, fake)

	done := make(chan error, 1)
	go func() {
		_, err := w.Analyze(context.Background())
		done <- err
	}()
	<-fake.analyzeStarted

	other := nav.Open(7)
	close(fake.analyzeGate)

	assert.ErrorIs(t, <-done, ErrStale)
	snap := w.Snapshot()
	assert.Nil(t, snap.Result)
	assert.Equal(t, StatePreviewLoaded, snap.State)
	assert.Empty(t, snap.Err)
	assert.Equal(t, StateIdle, other.Snapshot().State)
}

func TestNavigator_LeaveMakesLoadsStale(t *testing.T) {
	nav := NewNavigator(&fakeFileAPI{})
	w := nav.Open(42)
	nav.Leave()

	err := w.Load(context.Background())

	assert.ErrorIs(t, err, ErrStale)
	assert.Equal(t, StateIdle, w.Snapshot().State)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "preview_loaded", StatePreviewLoaded.String())
	assert.Equal(t, "load_failed", StateLoadFailed.String())
	assert.Equal(t, "invalid", State(99).String())
}
