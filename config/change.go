package config

import (
	"reflect"
	"sort"
	"strings"
)

// Section groups config keys by the component that consumes them.
type Section string

const (
	SectionPaths     Section = "paths"
	SectionLLM       Section = "llm"
	SectionSequencer Section = "sequencer"
	SectionProvider  Section = "provider"
	SectionTracker   Section = "tracker"
	SectionRuntime   Section = "runtime"
)

var sectionOf = map[string]Section{
	"project_dir":    SectionPaths,
	"data_dir":       SectionPaths,
	"data_cache_dir": SectionPaths,
	"archive_path":   SectionPaths,

	"llm_provider":     SectionLLM,
	"model":            SectionLLM,
	"backend_url":      SectionLLM,
	"max_tokens":       SectionLLM,
	"deepseek_api_key": SectionLLM,

	"max_debate_rounds":     SectionSequencer,
	"max_risk_rounds":       SectionSequencer,
	"dynamic_risk_rounds":   SectionSequencer,
	"final_stage":           SectionSequencer,
	"max_recursion_limit":   SectionSequencer,
	"stage_timeout_seconds": SectionSequencer,
	"research_depth":        SectionSequencer,
	"provider_speed":        SectionSequencer,

	"market_stats_url":      SectionProvider,
	"market_stats_api_key":  SectionProvider,
	"fetch_retries":         SectionProvider,
	"yahoo_indices":         SectionProvider,
	"longport_indices":      SectionProvider,
	"cache_enabled":         SectionProvider,
	"cache_ttl_minutes":     SectionProvider,
	"longport_app_key":      SectionProvider,
	"longport_app_secret":   SectionProvider,
	"longport_access_token": SectionProvider,

	"nats_url":             SectionTracker,
	"progress_bucket":      SectionTracker,
	"progress_ttl_minutes": SectionTracker,
	"retention_minutes":    SectionTracker,
	"sweep_schedule":       SectionTracker,
}

// Change describes one accepted config transition.
type Change struct {
	Previous Config
	Current  Config
	// Fields holds the json keys that differ, sorted.
	Fields []string
	// Source is "update" for API writes and "file" for edits picked up by the watcher.
	Source string
}

func (c Change) Empty() bool {
	return len(c.Fields) == 0
}

// Touches reports whether any changed key belongs to s.
func (c Change) Touches(s Section) bool {
	for _, f := range c.Fields {
		if SectionFor(f) == s {
			return true
		}
	}
	return false
}

// Sections lists the distinct sections touched, sorted.
func (c Change) Sections() []Section {
	seen := map[Section]bool{}
	var out []Section
	for _, f := range c.Fields {
		s := SectionFor(f)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SectionFor maps a json key to its section; unknown keys are runtime settings.
func SectionFor(key string) Section {
	if s, ok := sectionOf[key]; ok {
		return s
	}
	return SectionRuntime
}

// Diff returns the json keys whose values differ between a and b.
func Diff(a, b Config) []string {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	t := va.Type()
	var fields []string
	for i := 0; i < t.NumField(); i++ {
		if reflect.DeepEqual(va.Field(i).Interface(), vb.Field(i).Interface()) {
			continue
		}
		fields = append(fields, jsonKey(t.Field(i)))
	}
	sort.Strings(fields)
	return fields
}

func jsonKey(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}
