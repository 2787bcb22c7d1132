package pipeline

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cineolabs/cineo-backend/internal/types"
)

// Policy collects the tunables of the pipeline. Zero fields fall back to the
// defaults, so a partial YAML file overrides only what it names.
type Policy struct {
	PoolSize    int `yaml:"pool_size"`
	QueueSize   int `yaml:"queue_size"`
	PerJobCap   int `yaml:"per_job_cap"`
	MaxAttempts int `yaml:"max_attempts"`

	ScriptTimeout     time.Duration `yaml:"-"`
	StoryboardTimeout time.Duration `yaml:"-"`
	VideoTimeout      time.Duration `yaml:"-"`
	PosterTimeout     time.Duration `yaml:"-"`
	TrailerTimeout    time.Duration `yaml:"-"`

	BackoffBase time.Duration `yaml:"-"`
	BackoffCap  time.Duration `yaml:"-"`

	ResumeInterval time.Duration `yaml:"-"`
}

// UnmarshalYAML accepts durations in time.ParseDuration form ("30s", "2m").
func (p *Policy) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		PoolSize    int `yaml:"pool_size"`
		QueueSize   int `yaml:"queue_size"`
		PerJobCap   int `yaml:"per_job_cap"`
		MaxAttempts int `yaml:"max_attempts"`

		ScriptTimeout     string `yaml:"script_timeout"`
		StoryboardTimeout string `yaml:"storyboard_timeout"`
		VideoTimeout      string `yaml:"video_timeout"`
		PosterTimeout     string `yaml:"poster_timeout"`
		TrailerTimeout    string `yaml:"trailer_timeout"`

		BackoffBase string `yaml:"backoff_base"`
		BackoffCap  string `yaml:"backoff_cap"`

		ResumeInterval string `yaml:"resume_interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.PoolSize > 0 {
		p.PoolSize = raw.PoolSize
	}
	if raw.QueueSize > 0 {
		p.QueueSize = raw.QueueSize
	}
	if raw.PerJobCap > 0 {
		p.PerJobCap = raw.PerJobCap
	}
	if raw.MaxAttempts > 0 {
		p.MaxAttempts = raw.MaxAttempts
	}
	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{
		{raw.ScriptTimeout, &p.ScriptTimeout},
		{raw.StoryboardTimeout, &p.StoryboardTimeout},
		{raw.VideoTimeout, &p.VideoTimeout},
		{raw.PosterTimeout, &p.PosterTimeout},
		{raw.TrailerTimeout, &p.TrailerTimeout},
		{raw.BackoffBase, &p.BackoffBase},
		{raw.BackoffCap, &p.BackoffCap},
		{raw.ResumeInterval, &p.ResumeInterval},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("bad duration %q: %w", f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

func DefaultPolicy() Policy {
	return Policy{
		PoolSize:          8,
		QueueSize:         32,
		PerJobCap:         3,
		MaxAttempts:       3,
		ScriptTimeout:     30 * time.Second,
		StoryboardTimeout: 60 * time.Second,
		VideoTimeout:      120 * time.Second,
		PosterTimeout:     30 * time.Second,
		TrailerTimeout:    30 * time.Second,
		BackoffBase:       2 * time.Second,
		BackoffCap:        60 * time.Second,
		ResumeInterval:    5 * time.Second,
	}
}

// LoadPolicy reads overrides from a YAML file on top of the defaults. A
// missing path returns the defaults unchanged.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	d := DefaultPolicy()
	if p.PoolSize <= 0 {
		p.PoolSize = d.PoolSize
	}
	if p.QueueSize <= 0 {
		p.QueueSize = d.QueueSize
	}
	if p.PerJobCap <= 0 {
		p.PerJobCap = d.PerJobCap
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = d.BackoffBase
	}
	if p.BackoffCap <= 0 {
		p.BackoffCap = d.BackoffCap
	}
	if p.ResumeInterval <= 0 {
		p.ResumeInterval = d.ResumeInterval
	}
	return p, nil
}

func (p Policy) Timeout(kind types.StageKind) time.Duration {
	var d time.Duration
	switch kind {
	case types.StageScript:
		d = p.ScriptTimeout
	case types.StageStoryboard:
		d = p.StoryboardTimeout
	case types.StageVideo:
		d = p.VideoTimeout
	case types.StagePoster:
		d = p.PosterTimeout
	case types.StageTrailer:
		d = p.TrailerTimeout
	}
	if d <= 0 {
		d = 30 * time.Second
	}
	return d
}

// Backoff returns the pause before re-running a stage after its nth failed
// attempt: base doubled per attempt, capped, with ±20% jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.BackoffCap {
			d = p.BackoffCap
			break
		}
	}
	if d > p.BackoffCap {
		d = p.BackoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5*2+1)) - d/5
	return d + jitter
}
