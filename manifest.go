package shellcache

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the deployed site description: the version tag, the asset
// list pre-warmed at install time, the page list refreshed in the
// background, and the engine thresholds. It is the same for every
// deployment of a version and not configurable at runtime.
type Manifest struct {
	Version string   `yaml:"version"`
	Shell   string   `yaml:"shell"`
	Assets  []string `yaml:"assets"`
	Pages   []string `yaml:"pages"`

	APIMarker       string `yaml:"apiMarker"`
	MaxAge          string `yaml:"maxAge"`
	RefreshInterval string `yaml:"refreshInterval"`
	SweepInterval   string `yaml:"sweepInterval"`
	SyncTag         string `yaml:"syncTag"`

	Storage struct {
		Quota string `yaml:"quota"`
	} `yaml:"storage"`

	// compiled
	maxAgeDur  time.Duration
	refreshDur time.Duration
	sweepDur   time.Duration
	quotaBytes int64
}

func LoadManifest(path string) (Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return Manifest{}, err
	}
	if err := m.compile(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (m *Manifest) compile() error {
	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if len(m.Assets) == 0 {
		return fmt.Errorf("assets list is required")
	}
	for i, a := range m.Assets {
		if !strings.HasPrefix(a, "/") {
			return fmt.Errorf("assets[%d]: %q is not an absolute path", i, a)
		}
	}
	for i, p := range m.Pages {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("pages[%d]: %q is not an absolute path", i, p)
		}
	}
	if m.Shell == "" {
		m.Shell = m.Assets[0]
	}
	var err error
	if m.maxAgeDur, err = parseDuration(m.MaxAge); err != nil {
		return fmt.Errorf("maxAge: %w", err)
	}
	if m.refreshDur, err = parseDuration(m.RefreshInterval); err != nil {
		return fmt.Errorf("refreshInterval: %w", err)
	}
	if m.sweepDur, err = parseDuration(m.SweepInterval); err != nil {
		return fmt.Errorf("sweepInterval: %w", err)
	}
	if m.quotaBytes, err = parseBytes(m.Storage.Quota); err != nil {
		return fmt.Errorf("storage.quota: %w", err)
	}
	return nil
}

// MaxAgeDuration returns the configured max-age, zero meaning default.
func (m Manifest) MaxAgeDuration() time.Duration { return m.maxAgeDur }

func (m Manifest) RefreshDuration() time.Duration { return m.refreshDur }

func (m Manifest) SweepDuration() time.Duration { return m.sweepDur }

// QuotaBytes returns the configured storage quota, zero meaning unlimited.
func (m Manifest) QuotaBytes() int64 { return m.quotaBytes }

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// parseBytes parses sizes like "512k", "50MB" or "1.5g" into bytes.
func parseBytes(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}
	mult := int64(1)
	last := s[len(s)-1]
	if last == 'b' {
		s = strings.TrimSpace(s[:len(s)-1])
		if s == "" {
			return 0, fmt.Errorf("invalid size")
		}
		last = s[len(s)-1]
	}
	switch last {
	case 'k':
		mult = 1024
		s = s[:len(s)-1]
	case 'm':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	case 'g':
		mult = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative size")
	}
	return int64(v * float64(mult)), nil
}
