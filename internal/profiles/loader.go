// Package profiles loads named competition settings from YAML files.
package profiles

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/terra-clan/tanda-engine/internal/models"
)

// Profile is a reusable bracket configuration
type Profile struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	Settings    models.CompetitionSettings `json:"settings"`
}

// Loader manages loading and caching of profiles
type Loader struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewLoader creates a new profile loader
func NewLoader() *Loader {
	return &Loader{
		profiles: make(map[string]*Profile),
	}
}

// LoadFromDir loads every YAML profile in dir and its direct subdirectories.
// Files that fail to parse are logged and skipped.
func (l *Loader) LoadFromDir(dir string) error {
	slog.Info("loading competition profiles", "dir", dir)

	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("failed to open profiles directory: %w", err)
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml", "*/*.yaml", "*/*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		files = append(files, matches...)
	}

	loaded := 0
	for _, file := range files {
		if err := l.LoadFromFile(file); err != nil {
			slog.Warn("failed to load profile", "file", file, "error", err)
			continue
		}
		loaded++
	}

	slog.Info("competition profiles loaded", "count", loaded, "total_files", len(files))
	return nil
}

// LoadFromFile loads a single profile. The file name is used when the
// profile has no name of its own.
func (l *Loader) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var pf profileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	name := pf.Name
	if name == "" {
		base := filepath.Base(path)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	settings := pf.Settings
	ApplyDefaults(&settings)
	if err := Validate(settings); err != nil {
		return fmt.Errorf("profile %s: %w", name, err)
	}

	l.Add(&Profile{Name: name, Description: pf.Description, Settings: settings})
	slog.Info("competition profile loaded", "name", name, "format", settings.Format)
	return nil
}

// Get retrieves a profile by name
func (l *Loader) Get(name string) *Profile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.profiles[name]
}

// List returns all loaded profiles sorted by name
func (l *Loader) List() []*Profile {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*Profile, 0, len(l.profiles))
	for _, p := range l.profiles {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Add programmatically adds a profile
func (l *Loader) Add(p *Profile) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.profiles[p.Name] = p
}

// ApplyDefaults fills unset settings
func ApplyDefaults(s *models.CompetitionSettings) {
	if s.Format == "" {
		s.Format = models.FormatPuntaje
	}
	if s.ParticipantsPerBlock <= 0 {
		s.ParticipantsPerBlock = 4
	}
	if s.BlocksPerTanda <= 0 {
		s.BlocksPerTanda = 1
	}
}

// Validate checks settings for values the bracket cannot work with
func Validate(s models.CompetitionSettings) error {
	if s.Format != models.FormatPuntaje && s.Format != models.FormatSeriado {
		return fmt.Errorf("unknown format %q", s.Format)
	}
	if s.ParticipantsPerBlock < 0 || s.BlocksPerTanda < 0 || s.JudgesPerBlock < 0 {
		return fmt.Errorf("block sizes must not be negative")
	}
	if s.SemifinalThreshold < 0 || s.FinalParticipantsCount < 0 {
		return fmt.Errorf("phase cutoffs must not be negative")
	}
	if s.JudgesPerBlock > len(s.JudgeIDs) {
		return fmt.Errorf("judges_per_block %d exceeds the %d judges available", s.JudgesPerBlock, len(s.JudgeIDs))
	}
	seen := make(map[string]bool, len(s.JudgeIDs))
	for _, id := range s.JudgeIDs {
		if id == "" || seen[id] {
			return fmt.Errorf("judge ids must be unique and non-empty")
		}
		seen[id] = true
	}
	return nil
}

// profileFile represents the YAML structure of a profile file
type profileFile struct {
	Name        string                     `yaml:"name"`
	Description string                     `yaml:"description"`
	Settings    models.CompetitionSettings `yaml:"settings"`
}
