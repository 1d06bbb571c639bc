// Package classifier implements the pure interface-classification function
// from spec.md §4.4: mapping raw SNMP interface metadata to an interface
// type, an optional ISP provider, and a criticality/confidence score.
package classifier

import (
	"regexp"
	"strings"
)

// Result is the classifier's output for one interface.
type Result struct {
	InterfaceType string
	ISPProvider   *string
	IsCritical    bool
	Confidence    float64
}

type patternRule struct {
	name    string
	pattern *regexp.Regexp
}

// typeRules is evaluated in order; first match wins, matching the
// teacher's own ordered-table validation style (validateSNMPCommunity's
// weak-list, validateCIDR's ordered danger checks).
var typeRules = []patternRule{
	{"isp", regexp.MustCompile(`(?i)internet|wan|isp|uplink|inet`)},
	{"trunk", regexp.MustCompile(`(?i)po\d+|lag\d+|port-channel|trunk`)},
	{"loopback", regexp.MustCompile(`(?i)loopback|lo\d+`)},
	{"voice", regexp.MustCompile(`(?i)voice|voip|sip`)},
	{"camera", regexp.MustCompile(`(?i)camera|cctv|nvr`)},
	{"management", regexp.MustCompile(`(?i)mgmt|management|oob`)},
	{"server_link", regexp.MustCompile(`(?i)server|srv`)},
	{"branch_link", regexp.MustCompile(`(?i)branch|store|site`)},
	{"access", regexp.MustCompile(`(?i)access|edge`)},
}

var ispProviderRules = []patternRule{
	{"magti", regexp.MustCompile(`(?i)magti`)},
	{"silknet", regexp.MustCompile(`(?i)silknet`)},
	{"veon", regexp.MustCompile(`(?i)veon`)},
	{"beeline", regexp.MustCompile(`(?i)beeline`)},
	{"geocell", regexp.MustCompile(`(?i)geocell`)},
	{"caucasus", regexp.MustCompile(`(?i)caucasus`)},
	{"globaltel", regexp.MustCompile(`(?i)globaltel`)},
}

// ifType values per IF-MIB ifType that imply a loopback interface absent
// any textual hint.
const ifTypeSoftwareLoopback = 24

// Classify is the pure function from spec.md §4.4. Inputs are evaluated in
// decreasing reliability order: ifAlias, then ifDescr, then ifName, then
// ifType as a fallback. Calling it twice on the same inputs yields
// byte-identical output (spec.md §8 invariant 5).
func Classify(ifAlias, ifDescr, ifName string, ifType int) Result {
	fields := []struct {
		value      string
		baseWeight float64
	}{
		{ifAlias, 0.8},
		{ifDescr, 0.6},
		{ifName, 0.35},
	}

	var best Result
	matched := false

	for _, f := range fields {
		if f.value == "" {
			continue
		}
		interfaceType, ok := matchType(f.value)
		if !ok {
			continue
		}
		provider := matchISPProvider(f.value)
		confidence := f.baseWeight
		if interfaceType == "isp" && provider != nil {
			confidence = max(confidence, 0.8)
		}
		if !matched || confidence > best.Confidence {
			best = Result{
				InterfaceType: interfaceType,
				ISPProvider:   provider,
				Confidence:    confidence,
			}
			matched = true
		}
	}

	if !matched {
		if ifType == ifTypeSoftwareLoopback {
			best = Result{InterfaceType: "loopback", Confidence: 0.3}
			matched = true
		} else {
			best = Result{InterfaceType: "unknown", Confidence: 0.0}
		}
	}

	best.IsCritical = best.InterfaceType == "isp"
	return best
}

func matchType(value string) (string, bool) {
	for _, rule := range typeRules {
		if rule.pattern.MatchString(value) {
			return rule.name, true
		}
	}
	return "", false
}

func matchISPProvider(value string) *string {
	for _, rule := range ispProviderRules {
		if rule.pattern.MatchString(value) {
			name := rule.name
			return &name
		}
	}
	return nil
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// NormalizeProvider lowercases and trims a provider string for stable
// comparison, used when re-classification must agree with a previously
// stored value (spec.md §8 invariant 7).
func NormalizeProvider(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
