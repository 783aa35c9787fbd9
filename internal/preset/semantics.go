package preset

// keywordWhitelist is spec.md §4.5's per-filter keyword table. Filter
// names double as the set of recognised filter_name tokens.
var keywordWhitelist = map[string]map[string]bool{
	"bwmixer": {
		"name": true, "category": true, "highlights": true, "shadows": true, "weight": true,
	},
	"curves": {
		"name": true, "category": true, "points": true,
	},
	"filmgrain": {
		"name": true, "category": true, "points": true, "radius": true,
	},
	"sharpen": {
		"name": true, "category": true, "cascade": true, "threshold": true,
	},
	"splittone": {
		"name": true, "category": true, "highlights": true, "shadows": true, "weight": true,
	},
	"vignette": {
		"name": true, "category": true, "x": true, "y": true, "strength": true, "radius": true,
	},
}

// applyElement folds one parsed element into out, enforcing the
// keyword whitelist and the per-keyword value-shape/semantic mapping of
// spec.md §4.5. Unknown keywords, wrong-shaped values, and out-of-range
// numbers all surface as parse errors (via engineerr.Raise's sibling
// here, parseErr) and leave out's caller (Parse) to discard the whole
// Collection.
func applyElement(out *Preset, el rawElement) error {
	allowed, ok := keywordWhitelist[out.FilterName]
	if !ok || !allowed[el.name] {
		return &parseErr{expected: "a keyword valid for " + out.FilterName}
	}

	switch el.name {
	case "name":
		if !el.hasStr {
			return &parseErr{expected: "a quoted string for name(...)"}
		}
		out.Name = el.str
	case "category":
		if !el.hasStr {
			return &parseErr{expected: "a quoted string for category(...)"}
		}
		out.Category = el.str
	case "highlights", "shadows":
		c, err := colorFromElement(el)
		if err != nil {
			return err
		}
		out.Set(el.name, ColorVal(c))
	case "weight":
		n, err := singleNumber(el)
		if err != nil {
			return err
		}
		switch out.FilterName {
		case "splittone":
			if n < -25 || n > 25 {
				return &parseErr{expected: "weight(n) with n in [-25,25]"}
			}
			out.Set("balance", Float(0.75+(n+25)/200))
		default: // bwmixer
			if n < 0 || n > 100 {
				return &parseErr{expected: "weight(n) with n in [0,100]"}
			}
			out.Set("balance", Float(n/100-0.5))
		}
	case "points":
		if len(el.tuples) == 0 {
			return &parseErr{expected: "a tuple list for points(...)"}
		}
		out.Set("points", PointList(el.tuples))
	case "radius":
		n, err := singleNumber(el)
		if err != nil {
			return err
		}
		if out.FilterName == "filmgrain" {
			if n < 0 || n > 10 {
				return &parseErr{expected: "radius(n) with n in [0,10]"}
			}
			out.Set("radius", Float(n))
		} else { // vignette: percentage of the [0, 2] radius range
			out.Set("radius", Float(n/100*2))
		}
	case "cascade":
		n, err := singleNumber(el)
		if err != nil {
			return err
		}
		prev, _ := out.Get("cascades")
		out.Set("cascades", Value{Kind: KindPointList, Points: append(prev.Points, Point{X: float64(len(prev.Points)), Y: n})})
	case "threshold":
		n, err := singleNumber(el)
		if err != nil {
			return err
		}
		out.Set("threshold", Float(n))
	case "x":
		n, err := singleNumber(el)
		if err != nil {
			return err
		}
		out.Set("center_x", Float(n/100))
	case "y":
		n, err := singleNumber(el)
		if err != nil {
			return err
		}
		out.Set("center_y", Float(n/100))
	case "strength":
		n, err := singleNumber(el)
		if err != nil {
			return err
		}
		if n < -100 || n > 100 {
			return &parseErr{expected: "strength(n) with n in [-100,100]"}
		}
		out.Set("strength", Float(n/100))
	}
	return nil
}

func singleNumber(el rawElement) (float64, error) {
	if len(el.numbers) != 1 {
		return 0, &parseErr{expected: "a single number"}
	}
	return el.numbers[0], nil
}

func colorFromElement(el rawElement) (Color, error) {
	if el.hasID {
		c, ok := NamedColors[el.ident]
		if !ok {
			return Color{}, &parseErr{expected: "a known colour name"}
		}
		return c, nil
	}
	if len(el.numbers) != 3 {
		return Color{}, &parseErr{expected: "three numbers r,g,b"}
	}
	// Literal triples are 8-bit channel values (highlights(85,85,85)), not
	// already-fractional [0,1] components — divide down to match Color's
	// [0,1] domain, the same one NamedColors uses.
	return Color{R: el.numbers[0] / 255, G: el.numbers[1] / 255, B: el.numbers[2] / 255}, nil
}
