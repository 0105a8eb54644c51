package rules

import (
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-alerts/internal/model"
)

// ErrRuleNotFound is returned when an operator edits an unknown rule id.
var ErrRuleNotFound = eris.New("rules: rule not found")

// FileStore is an operator-editable rule set backed by a YAML file. The
// file is re-read on every Rules() call, so edits (via this process or a
// text editor) take effect on the next evaluation cycle without a
// restart.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore opens the rule file at path, seeding it with the default
// rule set if it does not exist.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.write(DefaultRules()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// DefaultRules returns the rule set a fresh installation starts with.
func DefaultRules() []model.AlertRule {
	return []model.AlertRule{
		{ID: "conversion-70", Name: "High conversion urgency", Type: model.AlertConversionOpportunity, Threshold: 70, Enabled: true},
		{ID: "followup-7d", Name: "Stale lead follow-up", Type: model.AlertFollowUp, Threshold: 7, Enabled: true},
		{ID: "drift-2pct", Name: "Model drift", Type: model.AlertDrift, Threshold: 0.02, Enabled: true},
		{ID: "perf-drop-3pct", Name: "Accuracy degradation", Type: model.AlertPerformance, Threshold: 0.03, Enabled: true},
		{ID: "health", Name: "Model health", Type: model.AlertHealth, Threshold: 0, Enabled: true},
		{ID: "abtest-95", Name: "Significant A/B outcome", Type: model.AlertABTest, Threshold: 0.95, Enabled: true},
	}
}

// Rules reads the current rule set from disk.
func (s *FileStore) Rules() ([]model.AlertRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Update applies mutate to the rule with the given id and persists the
// file. Returns the updated rule.
func (s *FileStore) Update(id string, mutate func(*model.AlertRule)) (model.AlertRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return model.AlertRule{}, err
	}
	for i := range all {
		if all[i].ID != id {
			continue
		}
		mutate(&all[i])
		if err := s.write(all); err != nil {
			return model.AlertRule{}, err
		}
		return all[i], nil
	}
	return model.AlertRule{}, eris.Wrapf(ErrRuleNotFound, "id %s", id)
}

// SetEnabled flips a rule on or off.
func (s *FileStore) SetEnabled(id string, enabled bool) (model.AlertRule, error) {
	return s.Update(id, func(r *model.AlertRule) { r.Enabled = enabled })
}

// SetThreshold changes a rule's threshold.
func (s *FileStore) SetThreshold(id string, threshold float64) (model.AlertRule, error) {
	return s.Update(id, func(r *model.AlertRule) { r.Threshold = threshold })
}

// MarkTriggered records when the rule last produced an alert.
func (s *FileStore) MarkTriggered(id string, at time.Time) error {
	_, err := s.Update(id, func(r *model.AlertRule) {
		t := at
		r.LastTriggered = &t
	})
	return err
}

func (s *FileStore) read() ([]model.AlertRule, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read %s", s.path)
	}
	var doc struct {
		Rules []model.AlertRule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "rules: parse %s", s.path)
	}
	return doc.Rules, nil
}

func (s *FileStore) write(rules []model.AlertRule) error {
	doc := struct {
		Rules []model.AlertRule `yaml:"rules"`
	}{Rules: rules}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "rules: marshal")
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return eris.Wrapf(err, "rules: write %s", s.path)
	}
	return nil
}
