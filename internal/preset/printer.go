package preset

import "strings"

// Print renders c in the canonical form spec.md §4.5 describes: one
// parameter per line, one space after each comma, identifiers lowercase,
// strings double-quoted. Parse(Print(c)) reproduces each preset of c under
// Preset.Equal — the DSL's round-trip law — though the emitted text
// itself need not byte-match whatever text originally produced c, since
// semantically-equivalent inputs (e.g. a bare preset reference vs. its
// expansion) print the same way.
func Print(c *Collection) string {
	var lines []string
	for _, p := range c.All() {
		lines = append(lines, printPreset(p))
	}
	return strings.Join(lines, ",\n")
}

func printPreset(p *Preset) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(p.FilterName))
	b.WriteByte('=')

	var elems []string
	if p.Name != "" {
		elems = append(elems, "name("+quote(p.Name)+")")
	}
	if p.Category != "" {
		elems = append(elems, "category("+quote(p.Category)+")")
	}

	switch p.FilterName {
	case "bwmixer", "splittone":
		if c, ok := p.Get("highlights"); ok {
			elems = append(elems, "highlights("+formatFloats(c.Color.R*255, c.Color.G*255, c.Color.B*255)+")")
		}
		if c, ok := p.Get("shadows"); ok {
			elems = append(elems, "shadows("+formatFloats(c.Color.R*255, c.Color.G*255, c.Color.B*255)+")")
		}
		if bal, ok := p.Get("balance"); ok {
			var n float64
			if p.FilterName == "splittone" {
				n = (bal.Float-0.75)*200 - 25
			} else {
				n = (bal.Float + 0.5) * 100
			}
			elems = append(elems, "weight("+formatNumber(n)+")")
		}
	case "curves", "filmgrain":
		if pts, ok := p.Get("points"); ok {
			elems = append(elems, "points("+formatTuples(pts.Points)+")")
		}
		if p.FilterName == "filmgrain" {
			if r, ok := p.Get("radius"); ok {
				elems = append(elems, "radius("+formatNumber(r.Float)+")")
			}
		}
	case "sharpen":
		if cas, ok := p.Get("cascades"); ok {
			for _, pt := range cas.Points {
				elems = append(elems, "cascade("+formatNumber(pt.Y)+")")
			}
		}
		if th, ok := p.Get("threshold"); ok {
			elems = append(elems, "threshold("+formatNumber(th.Float)+")")
		}
	case "vignette":
		if x, ok := p.Get("center_x"); ok {
			elems = append(elems, "x("+formatNumber(x.Float*100)+")")
		}
		if y, ok := p.Get("center_y"); ok {
			elems = append(elems, "y("+formatNumber(y.Float*100)+")")
		}
		if s, ok := p.Get("strength"); ok {
			elems = append(elems, "strength("+formatNumber(s.Float*100)+")")
		}
		if r, ok := p.Get("radius"); ok {
			elems = append(elems, "radius("+formatNumber(r.Float/2*100)+")")
		}
	}

	b.WriteString(strings.Join(elems, ", "))
	return b.String()
}

func quote(s string) string {
	return "\"" + s + "\""
}

func formatTuples(pts []Point) string {
	parts := make([]string, len(pts))
	for i, pt := range pts {
		parts[i] = formatNumber(pt.X) + ":" + formatNumber(pt.Y)
	}
	return strings.Join(parts, ", ")
}

func formatFloats(vs ...float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = formatNumber(v)
	}
	return strings.Join(parts, ", ")
}

// formatNumber renders v per spec.md §4.5's number grammar: an optional
// leading '-', digits, and an optional '.' followed by digits — no
// exponent notation, no trailing zeros beyond what's needed.
func formatNumber(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	// Round to 6 decimal places to keep the textual form finite and
	// stable, then trim trailing zeros.
	scaled := int64(v*1e6 + 0.5)
	intPart := scaled / 1e6
	fracPart := scaled % 1e6

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(itoa(intPart))
	if fracPart != 0 {
		frac := itoa(fracPart)
		for len(frac) < 6 {
			frac = "0" + frac
		}
		frac = strings.TrimRight(frac, "0")
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
