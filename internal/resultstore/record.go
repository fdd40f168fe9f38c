package resultstore

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Status is the outcome of one evaluation.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
	// StatusPruned marks a point a constraint excluded before building.
	StatusPruned Status = "pruned"
)

// Error kinds of failed records.
const (
	KindTransform = "transform"
	KindBuild     = "build"
	KindRuntime   = "runtime"
	KindTimeout   = "timeout"
	KindInternal  = "internal"
)

// Record is one (point, measurement) pair of the results log.
type Record struct {
	RunID  string `yaml:"run_id"`
	Region int    `yaml:"region"`

	InputSeq int         `yaml:"input_seq"`
	Input    Assignments `yaml:"input,omitempty"`

	// Seq is the point's position in enumeration order; the baseline has
	// Seq -1.
	Seq      int         `yaml:"seq"`
	Point    Assignments `yaml:"point,omitempty"`
	Baseline bool        `yaml:"baseline,omitempty"`

	Status    Status `yaml:"status"`
	ErrorKind string `yaml:"error_kind,omitempty"`
	Error     string `yaml:"error,omitempty"`

	BuildFlags []string  `yaml:"build_flags,omitempty"`
	Samples    []float64 `yaml:"samples_ms,omitempty"`
	Mean       float64   `yaml:"mean_ms,omitempty"`
	StdDev     float64   `yaml:"stddev_ms,omitempty"`
}

// Assignment is the rendered value of one parameter.
type Assignment struct {
	Name  string
	Value string
}

// Assignments are the parameter values of a point in declaration order.
// They are written as a YAML mapping that keeps this order.
type Assignments []Assignment

// Get returns the value assigned to name.
func (a Assignments) Get(name string) (string, bool) {
	for _, v := range a {
		if v.Name == name {
			return v.Value, true
		}
	}
	return "", false
}

// String renders the assignments as space separated name=value pairs.
func (a Assignments) String() string {
	parts := make([]string, len(a))
	for i, v := range a {
		parts[i] = v.Name + "=" + v.Value
	}
	return strings.Join(parts, " ")
}

// MarshalYAML implements yaml.Marshaler.
func (a Assignments) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, v := range a {
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.Value},
		)
	}
	return n, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Assignments) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping of parameter values", n.Line)
	}
	out := make(Assignments, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		out = append(out, Assignment{Name: n.Content[i].Value, Value: n.Content[i+1].Value})
	}
	*a = out
	return nil
}

// Sort orders records by region, input point and sequence number.
func Sort(recs []Record) {
	slices.SortStableFunc(recs, func(a, b Record) int {
		return cmp.Or(
			cmp.Compare(a.Region, b.Region),
			cmp.Compare(a.InputSeq, b.InputSeq),
			cmp.Compare(a.Seq, b.Seq),
		)
	})
}
