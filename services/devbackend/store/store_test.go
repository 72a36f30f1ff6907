// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestCreateUser_StarterCreditsRecorded(t *testing.T) {
	s := New(fixedClock())

	u, err := s.CreateUser("A@B.com ", "A", []byte("hash"), 3)

	require.NoError(t, err)
	assert.Equal(t, "A@B.com", u.Email)
	assert.Equal(t, int64(3), s.Balance(u.ID))
	history := s.History(u.ID)
	require.Len(t, history, 1)
	assert.Equal(t, EntryBonus, history[0].Type)

	_, err = s.CreateUser("a@b.com", "Other", nil, 0)
	assert.ErrorIs(t, err, ErrEmailTaken)

	found, err := s.UserByEmail("a@B.COM")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)
}

func TestRefreshTokens_SingleUse(t *testing.T) {
	s := New(nil)
	s.SaveRefreshToken("r1", 7)

	id, err := s.ConsumeRefreshToken("r1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	_, err = s.ConsumeRefreshToken("r1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFiles_OwnershipHidesOthersFiles(t *testing.T) {
	s := New(nil)
	f1 := s.AddFile(1, "a.csv", "csv", []byte("x"))
	f2 := s.AddFile(1, "b.csv", "csv", []byte("yy"))
	s.AddFile(2, "c.csv", "csv", nil)

	files := s.Files(1)
	require.Len(t, files, 2)
	assert.Equal(t, f2.ID, files[0].ID, "newest first")
	assert.Equal(t, int64(2), files[0].Size())

	_, err := s.File(2, f1.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteFile(2, f1.ID), ErrNotFound)

	assert.Empty(t, s.Files(3))
}

func TestMappings_Lifecycle(t *testing.T) {
	s := New(nil)
	f := s.AddFile(1, "a.csv", "csv", nil)

	m, err := s.AddMapping(1, f.ID, "amt", "amount")
	require.NoError(t, err)
	dup, err := s.AddMapping(1, f.ID, "amt", "sum")
	require.NoError(t, err)
	assert.Greater(t, dup.ID, m.ID)

	updated, err := s.UpdateMapping(1, f.ID, m.ID, "total")
	require.NoError(t, err)
	assert.Equal(t, "total", updated.Target)

	_, err = s.UpdateMapping(1, f.ID, 999, "x")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.Mappings(1, f.ID)
	require.NoError(t, err)
	assert.Equal(t, []Mapping{
		{ID: m.ID, FileID: f.ID, Source: "amt", Target: "total"},
		{ID: dup.ID, FileID: f.ID, Source: "amt", Target: "sum"},
	}, list)

	require.NoError(t, s.ClearMappings(1, f.ID))
	list, err = s.Mappings(1, f.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.Mappings(2, f.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteFile_DropsMappings(t *testing.T) {
	s := New(nil)
	f := s.AddFile(1, "a.csv", "csv", nil)
	_, err := s.AddMapping(1, f.ID, "a", "b")
	require.NoError(t, err)

	require.NoError(t, s.DeleteFile(1, f.ID))

	_, err = s.Mappings(1, f.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCredits_DebitNeverOverdraws(t *testing.T) {
	s := New(nil)
	balance, err := s.TopUp(1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)

	_, err = s.TopUp(1, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Debit(1, 1, EntryAnalysis); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, succeeded)
	assert.Equal(t, int64(0), s.Balance(1))
	_, err = s.Debit(1, 1, EntryAnalysis)
	assert.ErrorIs(t, err, ErrInsufficientCredit)

	history := s.History(1)
	require.Len(t, history, 3)
	assert.Equal(t, EntryAnalysis, history[0].Type)
	assert.Equal(t, int64(-1), history[0].Amount)
	assert.Equal(t, EntryTopUp, history[2].Type)
}

func TestSetBalance(t *testing.T) {
	s := New(nil)
	s.SetBalance(4, 0)
	assert.Equal(t, int64(0), s.Balance(4))
	assert.Empty(t, s.History(4))
}
