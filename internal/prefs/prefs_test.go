package prefs_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/lox/cityweather/internal/models"
	"github.com/lox/cityweather/internal/prefs"
	"github.com/lox/cityweather/internal/store"
)

func TestLoadInitial_Defaults(t *testing.T) {
	s := prefs.New(store.NewMemory())

	p, err := s.LoadInitial()
	if err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if p.LastCity != models.DefaultCity {
		t.Errorf("LastCity = %q, want %s", p.LastCity, models.DefaultCity)
	}
	if !reflect.DeepEqual(p.RecentSearches, []string{"london"}) {
		t.Errorf("RecentSearches = %v, want [london]", p.RecentSearches)
	}
	if !p.UseCelsius {
		t.Error("UseCelsius should default to true")
	}
}

func TestLoadInitial_FallsBackToLastCity(t *testing.T) {
	tests := []struct {
		name   string
		stored string
	}{
		{"empty array", "[]"},
		{"malformed", "{not json"},
		{"wrong type", `"Paris"`},
		{"empty string", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := store.NewMemory()
			backend.Set(prefs.KeyLastCity, "Madrid")
			backend.Set(prefs.KeyRecentSearches, tt.stored)

			p, err := prefs.New(backend).LoadInitial()
			if err != nil {
				t.Fatalf("LoadInitial: %v", err)
			}
			if !reflect.DeepEqual(p.RecentSearches, []string{"Madrid"}) {
				t.Errorf("RecentSearches = %v, want [Madrid]", p.RecentSearches)
			}
		})
	}
}

func TestLoadInitial_EmptyLastCity(t *testing.T) {
	backend := store.NewMemory()
	backend.Set(prefs.KeyLastCity, "")

	p, err := prefs.New(backend).LoadInitial()
	if err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if p.LastCity != "london" {
		t.Errorf("LastCity = %q, want london", p.LastCity)
	}
}

func TestRecordSubmission_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")

	backend, err := store.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	s := prefs.New(backend)
	if _, err := s.LoadInitial(); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	for _, city := range []string{"London", "Paris", "Tokyo"} {
		if err := s.RecordSubmission(city); err != nil {
			t.Fatalf("RecordSubmission(%q): %v", city, err)
		}
	}
	if err := s.SetUseCelsius(false); err != nil {
		t.Fatalf("SetUseCelsius: %v", err)
	}
	backend.Close()

	backend, err = store.OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer backend.Close()

	p, err := prefs.New(backend).LoadInitial()
	if err != nil {
		t.Fatalf("LoadInitial after restart: %v", err)
	}
	if p.LastCity != "Tokyo" {
		t.Errorf("LastCity = %q, want Tokyo", p.LastCity)
	}
	if want := []string{"Tokyo", "Paris", "London"}; !reflect.DeepEqual(p.RecentSearches, want) {
		t.Errorf("RecentSearches = %v, want %v", p.RecentSearches, want)
	}
	if p.UseCelsius {
		t.Error("UseCelsius should persist as false")
	}
}

func TestRecordSubmission_CanonicalReplacesDefault(t *testing.T) {
	s := prefs.New(store.NewMemory())
	s.LoadInitial()

	if err := s.RecordSubmission("London"); err != nil {
		t.Fatal(err)
	}

	p := s.Preferences()
	if p.LastCity != "London" {
		t.Errorf("LastCity = %q, want London", p.LastCity)
	}
	if !reflect.DeepEqual(p.RecentSearches, []string{"London"}) {
		t.Errorf("RecentSearches = %v, want [London]", p.RecentSearches)
	}
}

func TestUpdateRecentSearches_CaseInsensitive(t *testing.T) {
	s := prefs.New(store.NewMemory())
	s.LoadInitial()

	s.UpdateRecentSearches("Paris")
	s.UpdateRecentSearches("paris")

	p := s.Preferences()
	if want := []string{"paris", "london"}; !reflect.DeepEqual(p.RecentSearches, want) {
		t.Errorf("RecentSearches = %v, want %v", p.RecentSearches, want)
	}
}

func TestUpdateRecentSearches_Capacity(t *testing.T) {
	s := prefs.New(store.NewMemory())
	s.LoadInitial()

	for i := 0; i < 10; i++ {
		s.RecordSubmission(fmt.Sprintf("City %d", i))
		if n := len(s.Preferences().RecentSearches); n > 3 {
			t.Fatalf("RecentSearches has %d entries", n)
		}
	}
}

func TestMutationsPersistImmediately(t *testing.T) {
	backend := store.NewMemory()
	s := prefs.New(backend)
	s.LoadInitial()

	s.RecordSubmission("Rome")

	if v, _, _ := backend.Get(prefs.KeyLastCity); v != "Rome" {
		t.Errorf("stored lastCity = %q, want Rome", v)
	}
	if v, _, _ := backend.Get(prefs.KeyRecentSearches); v != `["Rome","london"]` {
		t.Errorf("stored recentSearches = %s", v)
	}

	got, err := s.ToggleUnit()
	if err != nil || got {
		t.Fatalf("ToggleUnit = %v, %v; want false, nil", got, err)
	}
	if v, _, _ := backend.Get(prefs.KeyUseCelsius); v != "false" {
		t.Errorf("stored useCelsius = %q, want false", v)
	}
}

func TestSelectCity_LeavesRecentSearches(t *testing.T) {
	s := prefs.New(store.NewMemory())
	s.LoadInitial()
	s.RecordSubmission("Rome")

	if err := s.SelectCity("london"); err != nil {
		t.Fatal(err)
	}

	p := s.Preferences()
	if p.LastCity != "london" {
		t.Errorf("LastCity = %q, want london", p.LastCity)
	}
	if want := []string{"Rome", "london"}; !reflect.DeepEqual(p.RecentSearches, want) {
		t.Errorf("RecentSearches = %v, want %v", p.RecentSearches, want)
	}
}

type failingBackend struct{ *store.Memory }

var errDiskFull = errors.New("disk full")

func (failingBackend) Set(string, string) error { return errDiskFull }

func TestRecordSubmission_BackendErrorKeepsState(t *testing.T) {
	s := prefs.New(failingBackend{store.NewMemory()})

	err := s.RecordSubmission("Oslo")
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("err = %v, want disk full", err)
	}
	p := s.Preferences()
	if p.LastCity != models.DefaultCity {
		t.Errorf("LastCity = %q, want %q", p.LastCity, models.DefaultCity)
	}
	if len(p.RecentSearches) != 1 || p.RecentSearches[0] != models.DefaultCity {
		t.Errorf("RecentSearches = %v, want [london]", p.RecentSearches)
	}
}

// flakyBackend fails writes to one key.
type flakyBackend struct {
	*store.Memory
	failKey string
}

func (b flakyBackend) Set(key, value string) error {
	if key == b.failKey {
		return errDiskFull
	}
	return b.Memory.Set(key, value)
}

func TestWriteFailures_LeaveMemoryMatchingStorage(t *testing.T) {
	tests := []struct {
		name    string
		failKey string
		mutate  func(*prefs.Store) error
	}{
		{"toggle unit", prefs.KeyUseCelsius, func(s *prefs.Store) error { _, err := s.ToggleUnit(); return err }},
		{"set unit", prefs.KeyUseCelsius, func(s *prefs.Store) error { return s.SetUseCelsius(false) }},
		{"select city", prefs.KeyLastCity, func(s *prefs.Store) error { return s.SelectCity("Oslo") }},
		{"recent searches", prefs.KeyRecentSearches, func(s *prefs.Store) error { return s.UpdateRecentSearches("Oslo") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := flakyBackend{Memory: store.NewMemory(), failKey: tt.failKey}
			s := prefs.New(backend)
			if _, err := s.LoadInitial(); err != nil {
				t.Fatalf("LoadInitial: %v", err)
			}
			before := s.Preferences()

			if err := tt.mutate(s); !errors.Is(err, errDiskFull) {
				t.Fatalf("err = %v, want disk full", err)
			}

			after := s.Preferences()
			if after.LastCity != before.LastCity || after.UseCelsius != before.UseCelsius ||
				strings.Join(after.RecentSearches, ",") != strings.Join(before.RecentSearches, ",") {
				t.Errorf("preferences changed after failed write: %+v -> %+v", before, after)
			}

			reloaded := prefs.New(backend)
			got, err := reloaded.LoadInitial()
			if err != nil {
				t.Fatalf("reload: %v", err)
			}
			if got.LastCity != after.LastCity || got.UseCelsius != after.UseCelsius ||
				strings.Join(got.RecentSearches, ",") != strings.Join(after.RecentSearches, ",") {
				t.Errorf("storage %+v disagrees with memory %+v", got, after)
			}
		})
	}
}

var _ prefs.Backend = (*store.Store)(nil)
