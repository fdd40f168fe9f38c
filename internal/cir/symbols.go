package cir

// Symbol is the declared shape of a name found in surrounding source.
type Symbol struct {
	Base  string // element or scalar base type, e.g. "double"
	Array bool   // pointer or array
}

// Symbols maps names to their declarations.
type Symbols map[string]Symbol

// ScanSymbols collects declarations of function parameters and variables
// from C source. It tolerates code it does not understand and keeps the
// first declaration of each name.
func ScanSymbols(src string) Symbols {
	syms := make(Symbols)
	toks, err := tokenize(src)
	if err != nil {
		toks = tokenizeLoose(src)
	}
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.kind != tIdent || !typeWords[t.text] {
			continue
		}
		base := t.text
		j := i + 1
		for j < len(toks) && toks[j].kind == tIdent && typeWords[toks[j].text] {
			base = toks[j].text
			j++
		}
		for {
			ptr := false
			for j < len(toks) && toks[j].text == "*" {
				ptr = true
				j++
			}
			if j >= len(toks) || toks[j].kind != tIdent || typeWords[toks[j].text] || qualWords[toks[j].text] {
				break
			}
			name := toks[j].text
			j++
			if j < len(toks) && toks[j].text == "(" {
				// function name
				break
			}
			if j < len(toks) && toks[j].text == "[" {
				ptr = true
			}
			if _, seen := syms[name]; !seen {
				syms[name] = Symbol{Base: base, Array: ptr}
			}
			// skip dimensions and initialiser
			depth := 0
			for j < len(toks) {
				x := toks[j].text
				if depth == 0 && (x == "," || x == ";" || x == ")" || x == "{") {
					break
				}
				switch x {
				case "(", "[", "{":
					depth++
				case ")", "]", "}":
					depth--
				}
				j++
			}
			if j >= len(toks) || toks[j].text != "," {
				break
			}
			j++
			if j < len(toks) && toks[j].kind == tIdent && (typeWords[toks[j].text] || qualWords[toks[j].text]) {
				// next parameter starts a new declaration
				break
			}
		}
		i = j - 1
	}
	return syms
}

// tokenizeLoose splits source into identifier and single-character tokens
// without failing on literals it cannot scan.
func tokenizeLoose(src string) []tok {
	var toks []tok
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case isLetter(c):
			j := i
			for j < len(src) && (isLetter(src[j]) || isDigit(src[j])) {
				j++
			}
			toks = append(toks, tok{kind: tIdent, text: src[i:j]})
			i = j
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		default:
			toks = append(toks, tok{kind: tOp, text: string(c)})
			i++
		}
	}
	return toks
}

// Elem returns the element type of an array name, defaulting to double.
func (s Symbols) Elem(name string) string {
	if sym, ok := s[name]; ok && sym.Base != "" && sym.Base != "void" {
		return sym.Base
	}
	return "double"
}

// Scalar returns the type of a scalar name, or def when unknown.
func (s Symbols) Scalar(name, def string) string {
	if sym, ok := s[name]; ok && !sym.Array && sym.Base != "" {
		return sym.Base
	}
	return def
}
