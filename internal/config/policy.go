package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Policy holds the tunable constants of the pattern detector
type Policy struct {
	// SimilarityThreshold is the minimum cosine similarity for a ticket to
	// join an existing cluster
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// DefaultAlertThreshold applies to departments missing from DepartmentThresholds
	DefaultAlertThreshold int            `yaml:"default_alert_threshold"`
	DepartmentThresholds  map[string]int `yaml:"department_thresholds"`

	Spam     SpamPolicy     `yaml:"spam"`
	Severity SeverityPolicy `yaml:"severity"`
	Incident IncidentPolicy `yaml:"incident"`
}

// SpamPolicy configures the spam detector
type SpamPolicy struct {
	WindowMinutes                int     `yaml:"window_minutes"`
	RapidSubmissionThreshold     int     `yaml:"rapid_submission_threshold"`
	DuplicateSimilarityThreshold float64 `yaml:"duplicate_similarity_threshold"`
}

// SeverityPolicy maps cluster size to alert severity
type SeverityPolicy struct {
	HighAt     int `yaml:"high_at"`
	CriticalAt int `yaml:"critical_at"`
}

// IncidentPolicy configures incident escalation
type IncidentPolicy struct {
	UrgentAt int `yaml:"urgent_at"`
}

// DefaultPolicy returns the built-in detector policy
func DefaultPolicy() *Policy {
	return &Policy{
		SimilarityThreshold:   0.85,
		DefaultAlertThreshold: 3,
		DepartmentThresholds: map[string]int{
			"IT":         5,
			"HR":         3,
			"Finance":    3,
			"Admin":      4,
			"Facilities": 4,
		},
		Spam: SpamPolicy{
			WindowMinutes:                5,
			RapidSubmissionThreshold:     3,
			DuplicateSimilarityThreshold: 0.95,
		},
		Severity: SeverityPolicy{
			HighAt:     7,
			CriticalAt: 10,
		},
		Incident: IncidentPolicy{
			UrgentAt: 10,
		},
	}
}

// AlertThreshold returns the cluster size that triggers an alert for department
func (p *Policy) AlertThreshold(department string) int {
	if n, ok := p.DepartmentThresholds[department]; ok {
		return n
	}
	return p.DefaultAlertThreshold
}

// SpamWindow returns the rapid-submission window as a duration
func (p *Policy) SpamWindow() time.Duration {
	return time.Duration(p.Spam.WindowMinutes) * time.Minute
}

// Validate checks that the policy values are usable
func (p *Policy) Validate() error {
	if p.SimilarityThreshold <= 0 || p.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0, 1], got %v", p.SimilarityThreshold)
	}
	if p.DefaultAlertThreshold < 1 {
		return fmt.Errorf("default_alert_threshold must be at least 1, got %d", p.DefaultAlertThreshold)
	}
	for dept, n := range p.DepartmentThresholds {
		if n < 1 {
			return fmt.Errorf("department_thresholds.%s must be at least 1, got %d", dept, n)
		}
	}
	if p.Spam.WindowMinutes < 1 {
		return fmt.Errorf("spam.window_minutes must be at least 1, got %d", p.Spam.WindowMinutes)
	}
	if p.Spam.RapidSubmissionThreshold < 1 {
		return fmt.Errorf("spam.rapid_submission_threshold must be at least 1, got %d", p.Spam.RapidSubmissionThreshold)
	}
	if p.Spam.DuplicateSimilarityThreshold <= 0 || p.Spam.DuplicateSimilarityThreshold > 1 {
		return fmt.Errorf("spam.duplicate_similarity_threshold must be in (0, 1], got %v", p.Spam.DuplicateSimilarityThreshold)
	}
	if p.Severity.HighAt > p.Severity.CriticalAt {
		return fmt.Errorf("severity.high_at (%d) must not exceed severity.critical_at (%d)", p.Severity.HighAt, p.Severity.CriticalAt)
	}
	return nil
}

// LoadPolicy reads a YAML policy file. Fields missing from the file keep
// their default values; department thresholds are merged over the defaults.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	policy := DefaultPolicy()
	defaults := policy.DepartmentThresholds
	policy.DepartmentThresholds = nil
	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	merged := make(map[string]int, len(defaults)+len(policy.DepartmentThresholds))
	for dept, n := range defaults {
		merged[dept] = n
	}
	for dept, n := range policy.DepartmentThresholds {
		merged[dept] = n
	}
	policy.DepartmentThresholds = merged

	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

// PolicySource hands out the current policy. It is safe for concurrent use.
type PolicySource struct {
	current atomic.Pointer[Policy]
}

// NewPolicySource creates a source holding p
func NewPolicySource(p *Policy) *PolicySource {
	s := &PolicySource{}
	s.current.Store(p)
	return s
}

// Current returns the active policy. Callers must not modify it.
func (s *PolicySource) Current() *Policy {
	return s.current.Load()
}

// Set replaces the active policy
func (s *PolicySource) Set(p *Policy) {
	s.current.Store(p)
}

// Reload reads path and swaps in the new policy. The old policy stays active
// if the file is unreadable or invalid.
func (s *PolicySource) Reload(path string) error {
	p, err := LoadPolicy(path)
	if err != nil {
		return err
	}
	s.Set(p)
	return nil
}

// Watch reloads the policy whenever path changes until ctx is cancelled.
// The parent directory is watched so editors that replace the file by rename
// are picked up.
func (s *PolicySource) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch policy directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := s.Reload(path); err != nil {
					log.Printf("PolicySource: Keeping previous policy, reload of %s failed: %v", path, err)
					continue
				}
				log.Printf("PolicySource: Reloaded detector policy from %s", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("PolicySource: Watcher error: %v", err)
			}
		}
	}()

	return nil
}
