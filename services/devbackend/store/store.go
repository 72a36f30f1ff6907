// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store keeps the development backend's accounts, files,
// mappings and credit ledger in memory.
//
// Every method is safe for concurrent use. Ownership is enforced here:
// a file that exists but belongs to someone else is reported as
// ErrNotFound, never as forbidden.
package store

import (
	"cmp"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrInvalidAmount      = errors.New("amount must be greater than 0")
)

// Ledger entry types.
const (
	EntryAnalysis = "ANALYSIS"
	EntryTopUp    = "TOPUP"
	EntryBonus    = "BONUS"
)

type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash []byte
	CreatedAt    time.Time
}

type File struct {
	ID         int64
	OwnerID    int64
	Name       string
	Type       string
	Data       []byte
	UploadedAt time.Time
}

// Size is the stored byte count.
func (f File) Size() int64 { return int64(len(f.Data)) }

type Mapping struct {
	ID     int64
	FileID int64
	Source string
	Target string
}

type LedgerEntry struct {
	ID        int64
	UserID    int64
	Amount    int64
	Type      string
	CreatedAt time.Time
}

// Store is the in-memory database.
type Store struct {
	mu  sync.Mutex
	now func() time.Time
	seq int64

	users    map[int64]*User
	byEmail  map[string]int64
	refresh  map[string]int64
	files    map[int64]*File
	mappings map[int64][]Mapping
	balances map[int64]int64
	ledger   map[int64][]LedgerEntry
}

// New creates an empty Store. now defaults to time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:      now,
		users:    make(map[int64]*User),
		byEmail:  make(map[string]int64),
		refresh:  make(map[string]int64),
		files:    make(map[int64]*File),
		mappings: make(map[int64][]Mapping),
		balances: make(map[int64]int64),
		ledger:   make(map[int64][]LedgerEntry),
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// =============================================================================
// Users
// =============================================================================

// CreateUser registers an account and credits it with starter credits.
func (s *Store) CreateUser(email, name string, passwordHash []byte, starterCredits int64) (User, error) {
	key := normalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[key]; taken {
		return User{}, ErrEmailTaken
	}
	u := &User{
		ID:           s.nextID(),
		Email:        strings.TrimSpace(email),
		Name:         strings.TrimSpace(name),
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	s.users[u.ID] = u
	s.byEmail[key] = u.ID
	if starterCredits > 0 {
		s.creditLocked(u.ID, starterCredits, EntryBonus)
	}
	return *u, nil
}

// UserByEmail looks an account up case-insensitively.
func (s *Store) UserByEmail(email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return *s.users[id], nil
}

func (s *Store) User(id int64) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return *u, nil
}

// SaveRefreshToken records an opaque refresh token for userID.
func (s *Store) SaveRefreshToken(token string, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[token] = userID
}

// ConsumeRefreshToken removes token and returns its owner. Tokens are
// single use.
func (s *Store) ConsumeRefreshToken(token string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.refresh[token]
	if !ok {
		return 0, ErrNotFound
	}
	delete(s.refresh, token)
	return id, nil
}

// =============================================================================
// Files
// =============================================================================

func (s *Store) AddFile(ownerID int64, name, fileType string, data []byte) File {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &File{
		ID:         s.nextID(),
		OwnerID:    ownerID,
		Name:       name,
		Type:       fileType,
		Data:       data,
		UploadedAt: s.now(),
	}
	s.files[f.ID] = f
	return *f
}

// Files lists the owner's files, newest first.
func (s *Store) Files(ownerID int64) []File {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]File, 0)
	for _, f := range s.files {
		if f.OwnerID == ownerID {
			out = append(out, *f)
		}
	}
	slices.SortFunc(out, func(a, b File) int { return cmp.Compare(b.ID, a.ID) })
	return out
}

func (s *Store) fileLocked(ownerID, fileID int64) (*File, error) {
	f, ok := s.files[fileID]
	if !ok || f.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return f, nil
}

func (s *Store) File(ownerID, fileID int64) (File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.fileLocked(ownerID, fileID)
	if err != nil {
		return File{}, err
	}
	return *f, nil
}

// DeleteFile removes a file together with its mappings.
func (s *Store) DeleteFile(ownerID, fileID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.fileLocked(ownerID, fileID); err != nil {
		return err
	}
	delete(s.files, fileID)
	delete(s.mappings, fileID)
	return nil
}

// =============================================================================
// Mappings
// =============================================================================

// Mappings returns the file's mappings in creation order.
func (s *Store) Mappings(ownerID, fileID int64) ([]Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.fileLocked(ownerID, fileID); err != nil {
		return nil, err
	}
	return append(make([]Mapping, 0, len(s.mappings[fileID])), s.mappings[fileID]...), nil
}

// AddMapping maps source to target. A source column may be mapped more
// than once; mappings keep creation order.
func (s *Store) AddMapping(ownerID, fileID int64, source, target string) (Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.fileLocked(ownerID, fileID); err != nil {
		return Mapping{}, err
	}
	m := Mapping{ID: s.nextID(), FileID: fileID, Source: source, Target: target}
	s.mappings[fileID] = append(s.mappings[fileID], m)
	return m, nil
}

func (s *Store) UpdateMapping(ownerID, fileID, mappingID int64, target string) (Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.fileLocked(ownerID, fileID); err != nil {
		return Mapping{}, err
	}
	list := s.mappings[fileID]
	for i := range list {
		if list[i].ID == mappingID {
			list[i].Target = target
			return list[i], nil
		}
	}
	return Mapping{}, ErrNotFound
}

func (s *Store) ClearMappings(ownerID, fileID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.fileLocked(ownerID, fileID); err != nil {
		return err
	}
	delete(s.mappings, fileID)
	return nil
}

// =============================================================================
// Credits
// =============================================================================

func (s *Store) Balance(userID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

// History lists ledger entries, newest first.
func (s *Store) History(userID int64) []LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.ledger[userID]
	out := make([]LedgerEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
	}
	return out
}

// TopUp adds amount and returns the new balance.
func (s *Store) TopUp(userID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creditLocked(userID, amount, EntryTopUp)
	return s.balances[userID], nil
}

// Debit removes amount if the balance covers it, recording entryType.
func (s *Store) Debit(userID, amount int64, entryType string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[userID] < amount {
		return s.balances[userID], ErrInsufficientCredit
	}
	s.creditLocked(userID, -amount, entryType)
	return s.balances[userID], nil
}

// SetBalance overwrites a balance without a ledger entry. Test fixtures
// use it to reach edge states.
func (s *Store) SetBalance(userID, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance
}

func (s *Store) creditLocked(userID, amount int64, entryType string) {
	s.balances[userID] += amount
	s.ledger[userID] = append(s.ledger[userID], LedgerEntry{
		ID:        s.nextID(),
		UserID:    userID,
		Amount:    amount,
		Type:      entryType,
		CreatedAt: s.now(),
	})
}
