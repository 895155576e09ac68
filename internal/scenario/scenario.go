// Package scenario describes stream experiments in YAML and runs them.
//
// A scenario file holds one or more documents:
//
//	name: conflate
//	values: [1, 2, 3, 4, 5]
//	interval: 100ms
//	consumer_delay: 250ms
//	strategy: conflate
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy names accepted in scenario files.
const (
	StrategyNone       = ""
	StrategyRendezvous = "rendezvous"
	StrategyBuffer     = "buffer"
	StrategyConflate   = "conflate"
	StrategyLatest     = "latest"
)

// Scenario is one stream experiment: a producer emitting Values every
// Interval, an optional backpressure strategy, and a consumer that spends
// ConsumerDelay on every value.
type Scenario struct {
	Name          string        `yaml:"name"`
	Values        []int         `yaml:"values"`
	Interval      time.Duration `yaml:"interval"`
	ConsumerDelay time.Duration `yaml:"consumer_delay"`
	Strategy      string        `yaml:"strategy"`
	Buffer        int           `yaml:"buffer"`
	Timeout       time.Duration `yaml:"timeout"`
	// FailAfter makes the producer fail after emitting that many values.
	FailAfter *int `yaml:"fail_after,omitempty"`
	// Fallback is emitted by a catch stage when the producer fails.
	Fallback *int `yaml:"fallback,omitempty"`
	// Expect, when set, is compared with the observed values.
	Expect []int `yaml:"expect,omitempty"`
}

// Validate reports problems that would make the scenario meaningless.
func (s *Scenario) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	switch s.Strategy {
	case StrategyNone, StrategyRendezvous, StrategyBuffer, StrategyConflate, StrategyLatest:
	default:
		errs = append(errs, fmt.Errorf("unknown strategy %q", s.Strategy))
	}
	if s.Buffer < 0 {
		errs = append(errs, errors.New("buffer must be >= 0"))
	}
	if s.Interval < 0 || s.ConsumerDelay < 0 || s.Timeout < 0 {
		errs = append(errs, errors.New("durations must be >= 0"))
	}
	if s.FailAfter != nil && *s.FailAfter < 0 {
		errs = append(errs, errors.New("fail_after must be >= 0"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("scenario %q: %w", s.Name, err)
	}
	return nil
}

// Decode reads every YAML document from r.
func Decode(r io.Reader) ([]Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var out []Scenario
	for {
		var s Scenario
		err := dec.Decode(&s)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scenario: decode: %w", err)
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// LoadFile reads every scenario in the file at path.
func LoadFile(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	return Decode(bytes.NewReader(data))
}

// Encode writes scenarios as a multi-document YAML stream.
func Encode(w io.Writer, scenarios ...Scenario) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, s := range scenarios {
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("scenario: encode: %w", err)
		}
	}
	return enc.Close()
}

func intp(v int) *int { return &v }

// Builtin returns the reference scenarios.
func Builtin() []Scenario {
	return []Scenario{
		{
			Name:          "conflate",
			Values:        []int{1, 2, 3, 4, 5},
			Interval:      100 * time.Millisecond,
			ConsumerDelay: 250 * time.Millisecond,
			Strategy:      StrategyConflate,
			Expect:        []int{1, 3, 5},
		},
		{
			Name:          "collect-latest",
			Values:        []int{1, 2, 3, 4, 5},
			Interval:      100 * time.Millisecond,
			ConsumerDelay: 300 * time.Millisecond,
			Strategy:      StrategyLatest,
			Expect:        []int{5},
		},
		{
			Name:     "timeout",
			Values:   []int{1, 2, 3, 4, 5},
			Interval: time.Second,
			Timeout:  2500 * time.Millisecond,
			Expect:   []int{1, 2},
		},
		{
			Name:      "catch",
			Values:    []int{1, 2, 3},
			FailAfter: intp(1),
			Fallback:  intp(100),
			Expect:    []int{1, 100},
		},
	}
}
