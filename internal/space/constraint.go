package space

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// Constraint is a boolean expression over a point. Points for which it is
// false are pruned from the search.
type Constraint struct {
	Name  string
	Text  string
	Expr  hcl.Expression
	Range hcl.Range
}

// ParseConstraint compiles a constraint expression. Python spellings of the
// logical operators (and, or, not, True, False) are accepted.
func ParseConstraint(name, text string, rng hcl.Range) (*Constraint, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(hclSpelling(text)), rng.Filename, rng.Start)
	if diags.HasErrors() {
		return nil, fmt.Errorf("constraint %s: %w", name, diags)
	}
	return &Constraint{Name: name, Text: text, Expr: expr, Range: rng}, nil
}

// Allows evaluates the constraint against a point.
func (c *Constraint) Allows(pt Point) (bool, error) {
	ctx := &hcl.EvalContext{Variables: pt.Map(), Functions: Functions}
	v, diags := c.Expr.Value(ctx)
	if diags.HasErrors() {
		return false, fmt.Errorf("constraint %s: %w", c.Name, diags)
	}
	if v.IsNull() || !v.IsKnown() || v.Type() != cty.Bool {
		return false, fmt.Errorf("%s: constraint %s does not evaluate to a boolean", c.Range, c.Name)
	}
	return v.True(), nil
}

var pythonWords = map[string]string{
	"and":   "&&",
	"or":    "||",
	"not":   "!",
	"True":  "true",
	"False": "false",
}

// hclSpelling rewrites Python operator words outside string literals.
func hclSpelling(text string) string {
	var b strings.Builder
	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '"' || c == '\'':
			j := i + 1
			for j < len(text) && text[j] != c {
				if text[j] == '\\' {
					j++
				}
				j++
			}
			// hcl only knows double quotes
			b.WriteByte('"')
			if j > len(text) {
				j = len(text)
			}
			b.WriteString(strings.ReplaceAll(text[i+1:min(j, len(text))], `"`, `\"`))
			b.WriteByte('"')
			i = j + 1
		case isWordByte(c):
			j := i
			for j < len(text) && isWordByte(text[j]) {
				j++
			}
			w := text[i:j]
			if r, ok := pythonWords[w]; ok {
				w = r
			}
			b.WriteString(w)
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
