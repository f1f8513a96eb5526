package core

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// RuleDefinition is one detection rule as loaded from configuration. Rules
// are data, not code: Kind selects one of a fixed set of predicate
// evaluators, and Params feeds it.
type RuleDefinition struct {
	ID          string                 `mapstructure:"id" json:"id"`
	Kind        string                 `mapstructure:"kind" json:"kind"`
	Params      map[string]interface{} `mapstructure:"params" json:"params"`
	Weight      float64                `mapstructure:"weight" json:"weight"`
	Description string                 `mapstructure:"description" json:"description"`
}

// Predicate kinds understood by the engine.
const (
	KindFactTrue       = "fact_true"
	KindFactMin        = "fact_min"
	KindKeywordAny     = "keyword_any"
	KindRegex          = "regex"
	KindSenderDomainIn = "sender_domain_in"
	KindHeaderPresent  = "header_present"
)

type compiledRule struct {
	def   RuleDefinition
	match func(fv *FeatureVector) bool
}

// RuleEngine evaluates every configured rule over the fact set and sums the
// weights of the ones that trigger. All rules run on every message so the
// triggered list is complete for audit; there is no early exit.
type RuleEngine struct {
	rules  []compiledRule
	logger *zap.Logger
}

// NewRuleEngine compiles the rule definitions. A malformed rule (unknown
// kind, missing or unusable params, invalid regex) is a startup error.
func NewRuleEngine(defs []RuleDefinition, logger *zap.Logger) (*RuleEngine, error) {
	rules := make([]compiledRule, 0, len(defs))
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("%w: rule without id", ErrInvalidConfiguration)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("%w: duplicate rule id %q", ErrInvalidConfiguration, def.ID)
		}
		seen[def.ID] = true
		if def.Weight < 0 {
			return nil, fmt.Errorf("%w: rule %q has negative weight", ErrInvalidConfiguration, def.ID)
		}

		match, err := compilePredicate(def)
		if err != nil {
			return nil, err
		}
		rules = append(rules, compiledRule{def: def, match: match})
	}

	if logger != nil {
		logger.Info("Compiled detection rules", zap.Int("count", len(rules)))
	}
	return &RuleEngine{rules: rules, logger: logger}, nil
}

// Rules returns the active rule definitions.
func (e *RuleEngine) Rules() []RuleDefinition {
	defs := make([]RuleDefinition, len(e.rules))
	for i, r := range e.rules {
		defs[i] = r.def
	}
	return defs
}

// Evaluate runs every rule over the facts. An empty ruleset yields score 0
// and an empty triggered list; an unknown fact simply means the rule does
// not trigger.
func (e *RuleEngine) Evaluate(fv *FeatureVector) (float64, []string) {
	score := 0.0
	triggered := []string{}
	for _, r := range e.rules {
		if r.match(fv) {
			score += r.def.Weight
			triggered = append(triggered, r.def.ID)
		}
	}
	return score, triggered
}

func compilePredicate(def RuleDefinition) (func(fv *FeatureVector) bool, error) {
	switch def.Kind {
	case KindFactTrue:
		fact, err := paramString(def, "fact")
		if err != nil {
			return nil, err
		}
		return func(fv *FeatureVector) bool {
			return fv.FactBool(fact)
		}, nil

	case KindFactMin:
		fact, err := paramString(def, "fact")
		if err != nil {
			return nil, err
		}
		min, err := paramFloat(def, "min")
		if err != nil {
			return nil, err
		}
		return func(fv *FeatureVector) bool {
			v, ok := fv.FactFloat(fact)
			return ok && v >= min
		}, nil

	case KindKeywordAny:
		facts, err := paramStrings(def, "facts")
		if err != nil {
			return nil, err
		}
		keywords, err := paramStrings(def, "keywords")
		if err != nil {
			return nil, err
		}
		lowered := make([]string, len(keywords))
		for i, k := range keywords {
			lowered[i] = strings.ToLower(k)
		}
		return func(fv *FeatureVector) bool {
			for _, fact := range facts {
				text := fv.FactString(fact)
				if text == "" {
					continue
				}
				for _, k := range lowered {
					if strings.Contains(text, k) {
						return true
					}
				}
			}
			return false
		}, nil

	case KindRegex:
		facts, err := paramStrings(def, "facts")
		if err != nil {
			return nil, err
		}
		pattern, err := paramString(def, "pattern")
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q has invalid pattern: %v", ErrInvalidConfiguration, def.ID, err)
		}
		return func(fv *FeatureVector) bool {
			for _, fact := range facts {
				if text := fv.FactString(fact); text != "" && re.MatchString(text) {
					return true
				}
			}
			return false
		}, nil

	case KindSenderDomainIn:
		domains, err := paramStrings(def, "domains")
		if err != nil {
			return nil, err
		}
		set := make(map[string]bool, len(domains))
		for _, d := range domains {
			set[strings.ToLower(d)] = true
		}
		return func(fv *FeatureVector) bool {
			domain := fv.FactString("sender_domain")
			if set[domain] {
				return true
			}
			// Also match on TLD entries like ".xyz".
			for d := range set {
				if strings.HasPrefix(d, ".") && strings.HasSuffix(domain, d) {
					return true
				}
			}
			return false
		}, nil

	case KindHeaderPresent:
		fact, err := paramString(def, "fact")
		if err != nil {
			return nil, err
		}
		return func(fv *FeatureVector) bool {
			_, ok := fv.Facts[fact]
			return ok
		}, nil

	default:
		return nil, fmt.Errorf("%w: rule %q has unknown kind %q", ErrInvalidConfiguration, def.ID, def.Kind)
	}
}

func paramString(def RuleDefinition, key string) (string, error) {
	v, ok := def.Params[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: rule %q missing string param %q", ErrInvalidConfiguration, def.ID, key)
	}
	return v, nil
}

func paramFloat(def RuleDefinition, key string) (float64, error) {
	switch v := def.Params[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	}
	return 0, fmt.Errorf("%w: rule %q missing numeric param %q", ErrInvalidConfiguration, def.ID, key)
}

func paramStrings(def RuleDefinition, key string) ([]string, error) {
	switch v := def.Params[key].(type) {
	case []string:
		if len(v) > 0 {
			return v, nil
		}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: rule %q param %q holds a non-string entry", ErrInvalidConfiguration, def.ID, key)
			}
			out = append(out, s)
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: rule %q missing string-list param %q", ErrInvalidConfiguration, def.ID, key)
}

// DefaultRules is the built-in ruleset used when configuration supplies
// none. Weights follow the additive scale the combiner saturates at 100.
func DefaultRules() []RuleDefinition {
	return []RuleDefinition{
		{
			ID:          "urgency_language",
			Kind:        KindFactTrue,
			Params:      map[string]interface{}{"fact": "contains_urgency_language"},
			Weight:      30,
			Description: "Pressure wording pushing the reader to act immediately",
		},
		{
			ID:          "credential_harvest",
			Kind:        KindKeywordAny,
			Params: map[string]interface{}{
				"facts":    []string{"subject", "body", "attachment_text"},
				"keywords": []string{"verify your password", "confirm your password", "login to your account", "update your payment", "enter your credentials", "reset your password here"},
			},
			Weight:      35,
			Description: "Phrases asking for credentials or payment details",
		},
		{
			ID:          "url_volume",
			Kind:        KindFactMin,
			Params:      map[string]interface{}{"fact": "url_count", "min": 3.0},
			Weight:      20,
			Description: "Unusually many links in the body",
		},
		{
			ID:          "suspicious_tld",
			Kind:        KindSenderDomainIn,
			Params:      map[string]interface{}{"domains": []string{".xyz", ".top", ".click", ".loan", ".gq", ".tk"}},
			Weight:      25,
			Description: "Sender domain under a TLD with a poor abuse record",
		},
		{
			ID:          "reply_to_mismatch",
			Kind:        KindFactTrue,
			Params:      map[string]interface{}{"fact": "reply_to_mismatch"},
			Weight:      25,
			Description: "Reply-To points at a different domain than the sender",
		},
		{
			ID:          "double_extension",
			Kind:        KindFactTrue,
			Params:      map[string]interface{}{"fact": "attachment_double_extension"},
			Weight:      40,
			Description: "Attachment disguising an executable behind a document extension",
		},
		{
			ID:          "shouting_subject",
			Kind:        KindFactMin,
			Params:      map[string]interface{}{"fact": "subject_caps_ratio", "min": 0.7},
			Weight:      10,
			Description: "Subject written mostly in capitals",
		},
	}
}
