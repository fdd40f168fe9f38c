package extract

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/looptune/internal/cir"
	"github.com/specialistvlad/looptune/internal/directive"
)

// LoopRegion is the parsed form of a region's loop code. It is built once
// per region and treated as immutable; transforms clone what they rewrite.
type LoopRegion struct {
	Region *Region

	// Text is the code the loop was parsed from: the directive's embedded
	// code when present, else the reference.
	Text string

	// Stmts is the whole parsed fragment and For its top-level loop.
	Stmts []cir.Stmt
	For   *cir.For
	*cir.LoopShape
	Body []cir.Stmt

	Symbols cir.Symbols
}

// Loop parses the region's loop. syms supplies declarations from the
// surrounding source. Code that does not parse, or that has no canonical
// top-level for loop, is a *directive.ParseError at the region.
func (r *Region) Loop(syms cir.Symbols) (*LoopRegion, error) {
	text := r.Reference
	if r.Directive.Code != "" {
		text = r.Directive.Code
	}
	stmts, err := cir.ParseStmts(text)
	if err != nil {
		return nil, &directive.ParseError{Range: r.Range, Msg: fmt.Sprintf("loop code: %s", err)}
	}
	var loop *cir.For
	for _, s := range stmts {
		if f, ok := s.(*cir.For); ok {
			if loop != nil {
				return nil, r.errorf("loop code must contain exactly one top-level for loop")
			}
			loop = f
		}
	}
	if loop == nil {
		return nil, r.errorf("loop code has no for loop")
	}
	shape, err := cir.Shape(loop)
	if err != nil {
		return nil, r.errorf("%s", err)
	}
	if syms == nil {
		syms = make(cir.Symbols)
	}
	return &LoopRegion{
		Region:    r,
		Text:      text,
		Stmts:     stmts,
		For:       loop,
		LoopShape: shape,
		Body:      cir.Body(loop.Body),
		Symbols:   syms,
	}, nil
}

func (r *Region) errorf(format string, args ...any) error {
	return &directive.ParseError{Range: r.Range, Msg: fmt.Sprintf(format, args...)}
}

// SrcRange returns the location of the region's begin marker.
func (l *LoopRegion) SrcRange() hcl.Range {
	return l.Region.Range
}
