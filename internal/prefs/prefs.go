// Package prefs holds the user's persisted lookup preferences: the last
// submitted city, recent searches and the temperature unit.
package prefs

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/lox/cityweather/internal/models"
	"github.com/lox/cityweather/internal/recent"
)

const (
	KeyLastCity       = "lastCity"
	KeyRecentSearches = "recentSearches"
	KeyUseCelsius     = "useCelsius"
)

// Backend is a synchronous string key-value store.
type Backend interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

type Store struct {
	mu         sync.Mutex
	backend    Backend
	lastCity   string
	recent     *recent.List
	useCelsius bool
}

func New(backend Backend) *Store {
	return &Store{
		backend:    backend,
		lastCity:   models.DefaultCity,
		recent:     recent.FromSlice(recent.DefaultCapacity, []string{models.DefaultCity}),
		useCelsius: true,
	}
}

// LoadInitial reads stored preferences, applying defaults for anything
// absent, empty or malformed.
func (s *Store) LoadInitial() (models.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lastCity, ok, err := s.backend.Get(KeyLastCity)
	if err != nil {
		return models.Preferences{}, fmt.Errorf("read %s: %w", KeyLastCity, err)
	}
	if !ok || lastCity == "" {
		lastCity = models.DefaultCity
	}

	var searches []string
	raw, ok, err := s.backend.Get(KeyRecentSearches)
	if err != nil {
		return models.Preferences{}, fmt.Errorf("read %s: %w", KeyRecentSearches, err)
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &searches); err != nil {
			log.Printf("prefs: ignoring malformed %s: %v", KeyRecentSearches, err)
			searches = nil
		}
	}
	list := recent.FromSlice(recent.DefaultCapacity, searches)
	if list.Len() == 0 {
		list = recent.FromSlice(recent.DefaultCapacity, []string{lastCity})
	}

	useCelsius := true
	if v, ok, err := s.backend.Get(KeyUseCelsius); err != nil {
		return models.Preferences{}, fmt.Errorf("read %s: %w", KeyUseCelsius, err)
	} else if ok {
		if b, err := strconv.ParseBool(v); err == nil {
			useCelsius = b
		}
	}

	s.lastCity = lastCity
	s.recent = list
	s.useCelsius = useCelsius
	return s.snapshot(), nil
}

// RecordSubmission makes city the current city and moves it to the front of
// the recent searches.
func (s *Store) RecordSubmission(city string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.setLastCity(city); err != nil {
		return err
	}
	return s.updateRecentSearches(city)
}

func (s *Store) UpdateRecentSearches(city string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateRecentSearches(city)
}

// SelectCity switches the current city without touching recent searches.
func (s *Store) SelectCity(city string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLastCity(city)
}

func (s *Store) SetUseCelsius(useCelsius bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Set(KeyUseCelsius, strconv.FormatBool(useCelsius)); err != nil {
		return fmt.Errorf("write %s: %w", KeyUseCelsius, err)
	}
	s.useCelsius = useCelsius
	return nil
}

// ToggleUnit flips the unit flag and returns the new value.
func (s *Store) ToggleUnit() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := !s.useCelsius
	if err := s.backend.Set(KeyUseCelsius, strconv.FormatBool(next)); err != nil {
		return s.useCelsius, fmt.Errorf("write %s: %w", KeyUseCelsius, err)
	}
	s.useCelsius = next
	return next, nil
}

func (s *Store) Preferences() models.Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Store) LastCity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCity
}

// Mutations write to the backend first; memory only changes once the write
// succeeds.
func (s *Store) setLastCity(city string) error {
	if err := s.backend.Set(KeyLastCity, city); err != nil {
		return fmt.Errorf("write %s: %w", KeyLastCity, err)
	}
	s.lastCity = city
	return nil
}

func (s *Store) updateRecentSearches(city string) error {
	next := s.recent.Clone()
	next.Add(city)
	b, err := json.Marshal(next.Items())
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyRecentSearches, err)
	}
	if err := s.backend.Set(KeyRecentSearches, string(b)); err != nil {
		return fmt.Errorf("write %s: %w", KeyRecentSearches, err)
	}
	s.recent = next
	return nil
}

func (s *Store) snapshot() models.Preferences {
	return models.Preferences{
		LastCity:       s.lastCity,
		RecentSearches: s.recent.Items(),
		UseCelsius:     s.useCelsius,
	}
}
