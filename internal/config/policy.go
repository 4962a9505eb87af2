package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"vigil/internal/classify"
	"vigil/internal/domain"
	"vigil/internal/scoring"
	"vigil/internal/session"
)

// Policy is the deployment-tunable scoring and classification table. Every
// value ships with a default matching the documented behavior; operators
// recalibrate via YAML, never via code changes.
type Policy struct {
	Scoring struct {
		ContentPoints float64 `yaml:"content_points"`
		SenderPoints  float64 `yaml:"sender_points"`
	} `yaml:"scoring"`

	Bands struct {
		Low      float64 `yaml:"low"`
		Medium   float64 `yaml:"medium"`
		High     float64 `yaml:"high"`
		Critical float64 `yaml:"critical"`
	} `yaml:"bands"`

	Actions   map[string]string `yaml:"actions"`
	AutoBlock bool              `yaml:"auto_block"`

	Session struct {
		IdleTimeout Duration `yaml:"idle_timeout"`
		GapWait     Duration `yaml:"gap_wait"`
		GapBuffer   int      `yaml:"gap_buffer"`
	} `yaml:"session"`

	Alerts struct {
		QueueSize  int               `yaml:"queue_size"`
		Workers    int               `yaml:"workers"`
		WebhookURL string            `yaml:"webhook_url"`
		Headers    map[string]string `yaml:"webhook_headers"`
	} `yaml:"alerts"`
}

// DefaultPolicy returns the shipped defaults.
func DefaultPolicy() Policy {
	var p Policy
	p.Scoring.ContentPoints = 10
	p.Scoring.SenderPoints = 15
	p.Bands.Low = 20
	p.Bands.Medium = 40
	p.Bands.High = 60
	p.Bands.Critical = 80
	p.Actions = map[string]string{
		"none":     string(domain.ActionContinue),
		"low":      string(domain.ActionMonitor),
		"medium":   string(domain.ActionWarn),
		"high":     string(domain.ActionWarnOfferBlock),
		"critical": string(domain.ActionRecommendBlock),
	}
	p.Session.IdleTimeout = Duration(10 * time.Minute)
	p.Session.GapWait = Duration(3 * time.Second)
	p.Session.GapBuffer = 16
	p.Alerts.QueueSize = 1024
	p.Alerts.Workers = 2
	return p
}

// LoadPolicy reads the YAML policy file, layering it over the defaults. An
// empty path returns the defaults unchanged.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse policy: %w", err)
	}
	if _, err := p.Classifier(); err != nil {
		return p, err
	}
	return p, nil
}

// Classifier converts the table to the classify package's form, validating
// bands and actions.
func (p Policy) Classifier() (classify.Policy, error) {
	cp := classify.Policy{
		Low:       p.Bands.Low,
		Medium:    p.Bands.Medium,
		High:      p.Bands.High,
		Critical:  p.Bands.Critical,
		Actions:   map[domain.Band]domain.Action{},
		AutoBlock: p.AutoBlock,
	}
	for bandName, actionName := range p.Actions {
		band := domain.Band(bandName)
		if band.Rank() < 0 {
			return cp, fmt.Errorf("policy: unknown band %q", bandName)
		}
		switch action := domain.Action(actionName); action {
		case domain.ActionContinue, domain.ActionMonitor, domain.ActionWarn,
			domain.ActionWarnOfferBlock, domain.ActionRecommendBlock, domain.ActionBlock:
			cp.Actions[band] = action
		default:
			return cp, fmt.Errorf("policy: unknown action %q for band %q", actionName, bandName)
		}
	}
	if err := cp.Validate(); err != nil {
		return cp, err
	}
	return cp, nil
}

// Points converts the per-match-kind contributions.
func (p Policy) Points() scoring.Points {
	return scoring.Points{Content: p.Scoring.ContentPoints, Sender: p.Scoring.SenderPoints}
}

// SessionConfig converts the session bounds.
func (p Policy) SessionConfig() session.Config {
	return session.Config{
		IdleTimeout: time.Duration(p.Session.IdleTimeout),
		GapWait:     time.Duration(p.Session.GapWait),
		GapBuffer:   p.Session.GapBuffer,
	}
}

// Duration decodes YAML values like "10m" or "3s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		var n int64
		if err2 := value.Decode(&n); err2 == nil {
			*d = Duration(time.Duration(n) * time.Second)
			return nil
		}
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}
