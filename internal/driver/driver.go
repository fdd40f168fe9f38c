package driver

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/specialistvlad/looptune/internal/space"
	"github.com/zclconf/go-cty/cty"
)

// Names the driver introduces.
const (
	repsMacro = "LT_REPS"
	repVar    = "lt_rep"
	idxVar    = "lt_k"
	startVar  = "lt_start"
	stopVar   = "lt_stop"
)

// Local is a variable the code under test uses but does not declare.
type Local struct {
	Name string
	Type string
}

// Program is the input of Generate.
type Program struct {
	Problem *space.Problem
	Input   space.Point
	// Prelude holds file-scope definitions, such as kernels.
	Prelude string
	// Body is the code to time.
	Body   string
	Locals []Local
	// TimerVars accumulate device milliseconds. When set they replace the
	// host clock.
	TimerVars []string
}

// Generate returns the C source of the timing program.
func Generate(p Program) (string, error) {
	var b strings.Builder
	b.WriteString("#include <stdio.h>\n#include <stdlib.h>\n#include <time.h>\n\n")

	for i, name := range p.Input.Names {
		text, err := macroText(p.Input.Values[i])
		if err != nil {
			return "", fmt.Errorf("input parameter %s: %w", name, err)
		}
		fmt.Fprintf(&b, "#define %s %s\n", name, text)
	}
	fmt.Fprintf(&b, "#define %s %d\n\n", repsMacro, p.Problem.Repetitions)

	declared := make(map[string]bool)
	for _, name := range p.Input.Names {
		declared[name] = true
	}
	var inits []string
	for _, iv := range p.Problem.InputVars {
		decl, init, err := inputVar(iv)
		if err != nil {
			return "", err
		}
		declared[iv.Name] = true
		b.WriteString(decl + "\n")
		inits = append(inits, init...)
	}
	if len(p.Problem.InputVars) > 0 {
		b.WriteString("\n")
	}
	if prelude := strings.TrimSpace(p.Prelude); prelude != "" {
		b.WriteString(prelude + "\n\n")
	}

	b.WriteString("int main(void) {\n")
	for _, l := range p.Locals {
		if declared[l.Name] || slices.Contains(p.TimerVars, l.Name) {
			continue
		}
		declared[l.Name] = true
		fmt.Fprintf(&b, "  %s %s;\n", l.Type, l.Name)
	}
	for _, t := range p.TimerVars {
		fmt.Fprintf(&b, "  float %s = 0;\n", t)
	}
	fmt.Fprintf(&b, "  int %s, %s;\n", repVar, idxVar)
	hostClock := len(p.TimerVars) == 0
	if hostClock {
		fmt.Fprintf(&b, "  struct timespec %s, %s;\n", startVar, stopVar)
	}
	b.WriteString("  srand(1);\n")
	for _, line := range inits {
		b.WriteString("  " + line + "\n")
	}

	if hostClock {
		fmt.Fprintf(&b, "  clock_gettime(CLOCK_MONOTONIC, &%s);\n", startVar)
	}
	fmt.Fprintf(&b, "  for (%s = 0; %s < %s; %s++) {\n", repVar, repVar, repsMacro, repVar)
	b.WriteString(indent(p.Body, "    "))
	b.WriteString("  }\n")
	if hostClock {
		fmt.Fprintf(&b, "  clock_gettime(CLOCK_MONOTONIC, &%s);\n", stopVar)
		fmt.Fprintf(&b, "  printf(\"%%f\\n\", ((%[1]s.tv_sec - %[2]s.tv_sec) * 1e3 + (%[1]s.tv_nsec - %[2]s.tv_nsec) / 1e6) / %[3]s);\n",
			stopVar, startVar, repsMacro)
	} else {
		fmt.Fprintf(&b, "  printf(\"%%f\\n\", (%s) / %s);\n", strings.Join(p.TimerVars, " + "), repsMacro)
	}
	for _, iv := range p.Problem.InputVars {
		if iv.Storage == "dynamic" && len(iv.Dims) > 0 {
			fmt.Fprintf(&b, "  free(%s);\n", iv.Name)
		}
	}
	b.WriteString("  return 0;\n}\n")
	return b.String(), nil
}

// inputVar returns the declaration of iv and the statements filling it.
func inputVar(iv space.InputVar) (string, []string, error) {
	if iv.Type == "" {
		return "", nil, fmt.Errorf("%s: input variable %s has no type", iv.Range, iv.Name)
	}
	value, err := initValue(iv)
	if err != nil {
		return "", nil, err
	}

	if len(iv.Dims) == 0 {
		decl := fmt.Sprintf("%s %s;", iv.Type, iv.Name)
		if value == "" {
			return decl, nil, nil
		}
		return decl, []string{fmt.Sprintf("%s = %s;", iv.Name, value)}, nil
	}

	size := iv.Dims[0]
	if len(iv.Dims) > 1 {
		size = "(" + strings.Join(iv.Dims, ")*(") + ")"
	}
	var decl, elem string
	var inits []string
	switch {
	case iv.Storage == "dynamic":
		decl = fmt.Sprintf("%s *%s;", iv.Type, iv.Name)
		inits = append(inits, fmt.Sprintf("%s = (%s *) calloc(%s, sizeof(%s));", iv.Name, iv.Type, size, iv.Type))
		elem = iv.Name + "[" + idxVar + "]"
	case len(iv.Dims) == 1:
		decl = fmt.Sprintf("%s %s[%s];", iv.Type, iv.Name, size)
		elem = iv.Name + "[" + idxVar + "]"
	default:
		decl = fmt.Sprintf("%s %s[%s];", iv.Type, iv.Name, strings.Join(iv.Dims, "]["))
		elem = fmt.Sprintf("((%s *) %s)[%s]", iv.Type, iv.Name, idxVar)
	}
	if value != "" {
		inits = append(inits, fmt.Sprintf("for (%[1]s = 0; %[1]s < %[2]s; %[1]s++) %[3]s = %[4]s;", idxVar, size, elem, value))
	}
	return decl, inits, nil
}

// initValue returns the C expression an element of iv starts with, or ""
// when it keeps its zero value.
func initValue(iv space.InputVar) (string, error) {
	switch {
	case iv.Init == "":
		return "", nil
	case iv.Init == "random":
		if floating(iv.Type) {
			return fmt.Sprintf("(%s) rand() / RAND_MAX", iv.Type), nil
		}
		return "rand() % 100", nil
	case numeric(iv.Init):
		return iv.Init, nil
	}
	return "", fmt.Errorf("%s: input variable %s: unsupported initialiser %q", iv.Range, iv.Name, iv.Init)
}

func floating(typ string) bool {
	return strings.Contains(typ, "float") || strings.Contains(typ, "double")
}

func numeric(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	dot := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
		case c == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return s != "."
}

// macroText renders an input value as the replacement text of a macro.
func macroText(v cty.Value) (string, error) {
	switch {
	case v.IsNull() || !v.IsKnown():
		return "", errors.New("no value")
	case v.Type() == cty.Number:
		f := v.AsBigFloat()
		if f.IsInt() {
			i, _ := f.Int(nil)
			return i.String(), nil
		}
		return f.Text('g', -1), nil
	case v.Type() == cty.Bool:
		if v.True() {
			return "1", nil
		}
		return "0", nil
	case v.Type() == cty.String:
		return v.AsString(), nil
	}
	return "", fmt.Errorf("a %s cannot be a macro", v.Type().FriendlyName())
}

// indent replaces the common leading whitespace of the lines of text by
// prefix.
func indent(text, prefix string) string {
	text = strings.Trim(text, "\n")
	if strings.TrimSpace(text) == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	common := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " \t"))
		if common < 0 || n < common {
			common = n
		}
	}
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			lines[i] = ""
			continue
		}
		lines[i] = prefix + strings.TrimRight(l[common:], " \t")
	}
	return strings.Join(lines, "\n") + "\n"
}
