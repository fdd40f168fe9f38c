package directive

import (
	"strings"

	"github.com/hashicorp/hcl/v2"
)

// Kind classifies a directive by its leading keyword.
type Kind int

const (
	KindLoop Kind = iota
	KindPerfTuning
	KindSpMV
	KindComposite
)

func (k Kind) String() string {
	switch k {
	case KindLoop:
		return "Loop"
	case KindPerfTuning:
		return "PerfTuning"
	case KindSpMV:
		return "SpMV"
	case KindComposite:
		return "Composite"
	}
	return "Unknown"
}

// Directive is the structured intent of one begin marker.
type Directive struct {
	Kind Kind

	// Options holds key/value options in declaration order. For Loop and
	// Composite directives each transform invocation is stored under its
	// name; SpMV directives store their role assignments; PerfTuning
	// directives store their top-level let bindings.
	Options *Options

	// Transforms lists the transform invocations of a Loop directive.
	Transforms []*Call

	// Sections holds the def blocks of a PerfTuning directive.
	Sections []*Section

	// Code is the loop code embedded in a Loop directive, if any.
	Code      string
	CodeStart hcl.Pos

	Range hcl.Range
}

// Section returns the named def block, or nil.
func (d *Directive) Section(name string) *Section {
	for _, s := range d.Sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Options is an insertion-ordered mapping of option names to values.
// Re-assigning a key keeps its original position.
type Options struct {
	keys   []string
	values map[string]Value
}

// NewOptions returns an empty option set.
func NewOptions() *Options {
	return &Options{values: make(map[string]Value)}
}

// Set assigns a value to a key.
func (o *Options) Set(key string, v Value) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Get returns the value stored under key.
func (o *Options) Get(key string) (Value, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Lookup returns the value stored under key, matched case-insensitively.
func (o *Options) Lookup(key string) (Value, bool) {
	if v, ok := o.values[key]; ok {
		return v, true
	}
	for _, k := range o.keys {
		if strings.EqualFold(k, key) {
			return o.values[k], true
		}
	}
	return nil, false
}

// Keys returns the option names in declaration order.
func (o *Options) Keys() []string {
	return append([]string(nil), o.keys...)
}

// Len returns the number of options.
func (o *Options) Len() int {
	return len(o.keys)
}

// StmtKind is the leading keyword of a PerfTuning statement.
type StmtKind int

const (
	StmtParam StmtKind = iota
	StmtArg
	StmtDecl
	StmtLet
	StmtConstraint
)

func (k StmtKind) String() string {
	return [...]string{"param", "arg", "decl", "let", "constraint"}[k]
}

// Section is one def block of a PerfTuning directive.
type Section struct {
	Name  string
	Stmts []*Stmt
	Range hcl.Range
}

// Stmt is one statement of a def block.
type Stmt struct {
	Kind StmtKind
	Name string

	// Value is the assigned value of param, arg and let statements, and the
	// optional initialiser of a decl.
	Value Value

	// Domain is set for `param name[] = ...`, which declares a list of
	// candidate values rather than a single one.
	Domain bool

	// Expr is the raw expression text of a constraint.
	Expr      string
	ExprRange hcl.Range

	// Decl is set for decl statements.
	Decl *Decl

	Range hcl.Range
}

// Decl is an input variable declaration.
type Decl struct {
	Storage string // "static", "dynamic" or empty
	Type    string
	Dims    []string
}

// Find returns the statements of the given kind in declaration order.
func (s *Section) Find(kind StmtKind) []*Stmt {
	var out []*Stmt
	for _, st := range s.Stmts {
		if st.Kind == kind {
			out = append(out, st)
		}
	}
	return out
}

// Arg returns the value of the named arg statement.
func (s *Section) Arg(name string) (Value, bool) {
	if s == nil {
		return nil, false
	}
	for _, st := range s.Stmts {
		if st.Kind == StmtArg && st.Name == name {
			return st.Value, true
		}
	}
	return nil, false
}
