package chooser

import (
	"fmt"

	"github.com/scharch/partis/perr"
	"gopkg.in/yaml.v3"
)

// allowedConfigKeys mirrors read_cfgfo's allowed_keys set; any other
// top-level key in the document is a structural error.
var allowedConfigKeys = map[string]bool{
	"n-families":                  true,
	"n-per-family":                true,
	"include-unobs-cons-seqs":     true,
	"include-unobs-naive-seqs":    true,
	"vars":                        true,
	"cell-types":                  true,
	"min-umis":                    true,
	"max-ambig-positions":         true,
	"min-hdist-to-already-chosen": true,
	"droplet-ids":                 true,
	"similar-to-droplet-ids":      true,
}

// LoadConfig parses a YAML antibody-selection policy document (cfgfo) into a
// Config, grounded on read_cfgfo's allowed-key validation and per-family
// list expansion. scorers supplies the scoring function for every name that
// appears under "vars"; a name with no entry is ErrUnsupportedMetric.
func LoadConfig(data []byte, scorers map[string]func(Candidate) float64) (Config, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("%w: %v", perr.ErrInputMalformed, err)
	}
	for k := range raw {
		if !allowedConfigKeys[k] {
			return Config{}, fmt.Errorf("%w: unexpected key %q in antibody choice config", perr.ErrInputMalformed, k)
		}
	}

	v, ok := raw["n-families"]
	if !ok {
		return Config{}, fmt.Errorf("%w: n-families must be set", perr.ErrInputMalformed)
	}
	nFamilies, err := toInt(v)
	if err != nil {
		return Config{}, fmt.Errorf("%w: n-families: %v", perr.ErrInputMalformed, err)
	}
	if nFamilies <= 0 {
		return Config{}, fmt.Errorf("%w: n-families must be positive", perr.ErrInputMalformed)
	}

	cfg := Config{
		NFamilies:               nFamilies,
		MaxAmbigPositions:       -1,
		MinHdistToAlreadyChosen: -1,
	}

	if v, ok := raw["n-per-family"]; ok {
		lst, err := expandPerFamily(v, nFamilies)
		if err != nil {
			return Config{}, fmt.Errorf("%w: n-per-family: %v", perr.ErrInputMalformed, err)
		}
		cfg.NPerFamily = lst
	}

	for key, dst := range map[string]*[]bool{
		"include-unobs-cons-seqs":  &cfg.IncludeUnobsConsSeqs,
		"include-unobs-naive-seqs": &cfg.IncludeUnobsNaiveSeqs,
	} {
		if v, ok := raw[key]; ok {
			lst, err := expandBoolPerFamily(v, nFamilies)
			if err != nil {
				return Config{}, fmt.Errorf("%w: %s: %v", perr.ErrInputMalformed, key, err)
			}
			*dst = lst
		} else {
			*dst = make([]bool, nFamilies)
		}
	}

	if v, ok := raw["cell-types"]; ok {
		lst, err := toStringSlice(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: cell-types: %v", perr.ErrInputMalformed, err)
		}
		cfg.CellTypes = lst
	}
	if v, ok := raw["droplet-ids"]; ok {
		lst, err := toStringSlice(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: droplet-ids: %v", perr.ErrInputMalformed, err)
		}
		cfg.ForcedDropletIDs = lst
	}
	if v, ok := raw["min-umis"]; ok {
		n, err := toInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: min-umis: %v", perr.ErrInputMalformed, err)
		}
		cfg.MinUMIs = n
	}
	if v, ok := raw["max-ambig-positions"]; ok {
		n, err := toInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: max-ambig-positions: %v", perr.ErrInputMalformed, err)
		}
		cfg.MaxAmbigPositions = n
	}
	if v, ok := raw["min-hdist-to-already-chosen"]; ok {
		n, err := toInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: min-hdist-to-already-chosen: %v", perr.ErrInputMalformed, err)
		}
		cfg.MinHdistToAlreadyChosen = n
	}
	if v, ok := raw["similar-to-droplet-ids"]; ok {
		m, ok := v.(map[string]interface{})
		if !ok {
			return Config{}, fmt.Errorf("%w: similar-to-droplet-ids must be a mapping", perr.ErrInputMalformed)
		}
		cfg.SimilarToDropletIDs = make(map[string]int, len(m))
		for id, n := range m {
			iv, err := toInt(n)
			if err != nil {
				return Config{}, fmt.Errorf("%w: similar-to-droplet-ids[%s]: %v", perr.ErrInputMalformed, id, err)
			}
			cfg.SimilarToDropletIDs[id] = iv
		}
	}

	if v, ok := raw["vars"]; ok {
		varsMap, ok := v.(map[string]interface{})
		if !ok {
			return Config{}, fmt.Errorf("%w: vars must be a mapping", perr.ErrInputMalformed)
		}
		hasOwnN := false
		for name, vcfgRaw := range varsMap {
			vcfg, ok := vcfgRaw.(map[string]interface{})
			if !ok {
				return Config{}, fmt.Errorf("%w: vars.%s must be a mapping", perr.ErrInputMalformed, name)
			}
			sort, _ := vcfg["sort"].(string)
			if sort != "low" && sort != "high" {
				return Config{}, fmt.Errorf("%w: vars.%s.sort must be low or high, got %q", perr.ErrInputMalformed, name, sort)
			}
			scorer := scorers[name]
			if scorer == nil {
				return Config{}, fmt.Errorf("%w: no scoring function registered for sort var %q", perr.ErrUnsupportedMetric, name)
			}
			sv := SortVar{Name: name, Direction: sort, Score: scorer}
			if n, ok := vcfg["n"]; ok {
				hasOwnN = true
				lst, err := expandPerFamily(n, nFamilies)
				if err != nil {
					return Config{}, fmt.Errorf("%w: vars.%s.n: %v", perr.ErrInputMalformed, name, err)
				}
				sv.N = lst
			}
			cfg.Vars = append(cfg.Vars, sv)
		}
		if cfg.NPerFamily != nil && hasOwnN {
			return Config{}, fmt.Errorf("%w: n-per-family was set, but also found a per-var n (can only specify number to take in one place)", perr.ErrInputMalformed)
		}
	}

	return cfg, cfg.Validate()
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}

func toStringSlice(v interface{}) ([]string, error) {
	lst, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]string, 0, len(lst))
	for _, e := range lst {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string list entry, got %T", e)
		}
		out = append(out, s)
	}
	return out, nil
}

// expandPerFamily mirrors iconvert: a single int is broadcast to every
// family index; a list must already have length nFamilies.
func expandPerFamily(v interface{}, nFamilies int) ([]int, error) {
	if n, err := toInt(v); err == nil {
		out := make([]int, nFamilies)
		for i := range out {
			out[i] = n
		}
		return out, nil
	}
	lst, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected an int or a list of ints")
	}
	if len(lst) != nFamilies {
		return nil, fmt.Errorf("list has %d entries, want %d (n-families)", len(lst), nFamilies)
	}
	out := make([]int, nFamilies)
	for i, e := range lst {
		n, err := toInt(e)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func expandBoolPerFamily(v interface{}, nFamilies int) ([]bool, error) {
	if b, ok := v.(bool); ok {
		out := make([]bool, nFamilies)
		for i := range out {
			out[i] = b
		}
		return out, nil
	}
	lst, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a bool or a list of bools")
	}
	if len(lst) != nFamilies {
		return nil, fmt.Errorf("list has %d entries, want %d (n-families)", len(lst), nFamilies)
	}
	out := make([]bool, nFamilies)
	for i, e := range lst {
		b, ok := e.(bool)
		if !ok {
			return nil, fmt.Errorf("list entries must be bools")
		}
		out[i] = b
	}
	return out, nil
}
