package engine

import "strings"

var capabilityKeywords = []struct {
	capability string
	keywords   []string
}{
	{"summarization", []string{"summarize", "summary", "condense", "brief"}},
	{"sentiment_analysis", []string{"sentiment", "opinion", "feeling", "positive", "negative"}},
	{"data_extraction", []string{"extract", "parse", "find", "identify"}},
	{"pattern_recognition", []string{"pattern", "trend", "anomaly", "outlier"}},
	{"classification", []string{"classify", "categorize", "sort", "label"}},
	{"aggregation", []string{"aggregate", "count", "sum", "average", "group"}},
}

var taskTypeCapabilities = map[string][]string{
	"analysis":       {"pattern_recognition", "aggregation"},
	"summarization":  {"summarization"},
	"classification": {"classification"},
	"extraction":     {"data_extraction"},
}

var defaultCapabilities = []string{"summarization", "data_extraction"}

// InferCapabilities guesses the capabilities a job needs from keywords in
// its description and from its task type.
func InferCapabilities(description, taskType string) []string {
	desc := strings.ToLower(description)
	var caps []string
	for _, ck := range capabilityKeywords {
		for _, kw := range ck.keywords {
			if strings.Contains(desc, kw) {
				caps = append(caps, ck.capability)
				break
			}
		}
	}
	for _, c := range taskTypeCapabilities[taskType] {
		caps = appendUnique(caps, c)
	}
	if len(caps) == 0 {
		return append([]string(nil), defaultCapabilities...)
	}
	return caps
}

// normalizeCapabilities trims, lowercases and de-duplicates names, keeping
// first-seen order.
func normalizeCapabilities(in []string) []string {
	var out []string
	for _, c := range in {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			out = appendUnique(out, c)
		}
	}
	return out
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
