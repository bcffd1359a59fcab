package parser

import (
	"regexp"
	"strings"
)

// Known loadboard providers. Names double as the case-insensitive subject
// markers used for provider detection and must match the vendor catalog.
const (
	ProviderTruckstop = "Truckstop"
	ProviderDAT       = "DAT"
)

// successMarker in the subject selects the success pattern for a provider;
// its absence selects the rejection pattern.
const successMarker = "SUCCESS"

// ParsedReply is the structured outcome extracted from a vendor reply.
type ParsedReply struct {
	Provider string
	Success  bool
	Fields   map[string]string
	RawBody  string
}

// fieldPattern extracts one named field from the reply body. Patterns are
// non-anchored and case-insensitive so they tolerate surrounding prose and
// embedded newlines. Optional fields may be absent without failing the
// overall match (some vendors provision against a shared account and omit
// per-company secrets).
type fieldPattern struct {
	name     string
	re       *regexp.Regexp
	optional bool
}

// replyPattern is the extraction strategy for one provider/outcome pair.
type replyPattern struct {
	provider string
	success  bool
	fields   []fieldPattern
}

func field(name, expr string) fieldPattern {
	return fieldPattern{name: name, re: regexp.MustCompile(`(?is)` + expr)}
}

func optionalField(name, expr string) fieldPattern {
	f := field(name, expr)
	f.optional = true
	return f
}

// patterns holds every supported provider/outcome strategy. Adding a vendor
// is appending entries here; dispatch never changes.
var patterns = []replyPattern{
	{
		provider: ProviderTruckstop,
		success:  true,
		fields: []fieldPattern{
			field("IntegrationID", `IntegrationID\s*:\s*([^\r\n]+)`),
			field("Username", `API\s+Username\s*:\s*([^\r\n]+)`),
			field("Password", `API\s+Password\s*:\s*([^\r\n]+)`),
			field("Customer", `Customer\s*:\s*([^\r\n]+)`),
		},
	},
	{
		provider: ProviderTruckstop,
		success:  false,
		fields: []fieldPattern{
			field("Reason", `Reason\s*:\s*([^\r\n]+)`),
			field("Customer", `Customer\s*:\s*([^\r\n]+)`),
		},
	},
	{
		provider: ProviderDAT,
		success:  true,
		fields: []fieldPattern{
			field("IntegrationID", `(?:Integration\s*ID|IntegrationID)\s*:\s*([^\r\n]+)`),
			field("Username", `(?:Service\s+Account|API\s+Username|Username)\s*:\s*([^\r\n]+)`),
			// DAT provisions against a shared service account; the reply
			// may omit a per-company password.
			optionalField("Password", `(?:API\s+)?Password\s*:\s*([^\r\n]+)`),
			field("Customer", `Customer\s*:\s*([^\r\n]+)`),
		},
	},
	{
		provider: ProviderDAT,
		success:  false,
		fields: []fieldPattern{
			field("Reason", `Reason\s*:\s*([^\r\n]+)`),
			field("Customer", `Customer\s*:\s*([^\r\n]+)`),
		},
	},
}

// Classify maps a vendor reply (subject, body) to a structured outcome.
// It returns nil when the subject names no known provider or when the
// selected pattern does not match the body; both cases are handled
// identically by the caller (log and leave the message unprocessed).
//
// Classify is pure and deterministic, which is what makes re-invocation on
// retry safe.
func Classify(subject, body string) *ParsedReply {
	provider := detectProvider(subject)
	if provider == "" {
		return nil
	}

	success := strings.Contains(strings.ToUpper(subject), successMarker)

	for _, p := range patterns {
		if p.provider != provider || p.success != success {
			continue
		}
		fields, ok := extract(p, body)
		if !ok {
			return nil
		}
		return &ParsedReply{
			Provider: provider,
			Success:  success,
			Fields:   fields,
			RawBody:  body,
		}
	}

	return nil
}

// detectProvider finds the first known provider named in the subject,
// case-insensitively. First match wins.
func detectProvider(subject string) string {
	lower := strings.ToLower(subject)
	for _, name := range []string{ProviderTruckstop, ProviderDAT} {
		if strings.Contains(lower, strings.ToLower(name)) {
			return name
		}
	}
	return ""
}

// extract runs every field pattern against the body. A missing required
// field fails the whole match: an incomplete reply is indistinguishable
// from a malformed one.
func extract(p replyPattern, body string) (map[string]string, bool) {
	fields := make(map[string]string, len(p.fields))
	for _, f := range p.fields {
		m := f.re.FindStringSubmatch(body)
		if m == nil {
			if f.optional {
				continue
			}
			return nil, false
		}
		fields[f.name] = strings.TrimSpace(m[1])
	}
	return fields, true
}
