package scrape

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// PagePlaceholder is the token substituted with the page number in
// pattern-based pagination templates.
const PagePlaceholder = "{page}"

// FieldType declares how a raw selected value is coerced.
type FieldType string

// Supported field value types.
const (
	FieldTypeString FieldType = "string"
	FieldTypeURL    FieldType = "url"
	FieldTypeNumber FieldType = "number"
)

// Attr kinds with special meaning. Any other Attr value names an element
// attribute to read (e.g. "href", "src").
const (
	AttrText = "text"
	AttrHTML = "html"
)

// FieldSpec maps one output field to a selector within a record scope.
type FieldSpec struct {
	Name     string    `json:"name" mapstructure:"name"`
	Selector string    `json:"selector" mapstructure:"selector"`
	Attr     string    `json:"attr,omitempty" mapstructure:"attr"`
	Type     FieldType `json:"type,omitempty" mapstructure:"type"`
}

// Schema is the validated field-extraction configuration. Fields are ordered;
// the order fixes selector evaluation order but never output values.
type Schema struct {
	Container string      `json:"container,omitempty" mapstructure:"container"`
	Fields    []FieldSpec `json:"fields" mapstructure:"fields"`
}

// PaginationMode selects the frontier-expansion strategy.
type PaginationMode string

// Pagination modes.
const (
	PaginationNone     PaginationMode = "none"
	PaginationSelector PaginationMode = "selector"
	PaginationPattern  PaginationMode = "pattern"
)

// Pagination configures how further page URLs are discovered.
type Pagination struct {
	Mode         PaginationMode `json:"mode" mapstructure:"mode"`
	NextSelector string         `json:"next_selector,omitempty" mapstructure:"next_selector"`
	Pattern      string         `json:"pattern,omitempty" mapstructure:"pattern"`
	StartPage    int            `json:"start_page,omitempty" mapstructure:"start_page"`
	EndPage      int            `json:"end_page,omitempty" mapstructure:"end_page"`
}

// ScheduleKind selects the recurrence rule.
type ScheduleKind string

// Schedule kinds.
const (
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "cron"
	ScheduleOnce     ScheduleKind = "once"
)

// Schedule is a job's recurrence configuration.
type Schedule struct {
	Kind  ScheduleKind `json:"kind" mapstructure:"kind"`
	Every int          `json:"every,omitempty" mapstructure:"every"`
	Unit  string       `json:"unit,omitempty" mapstructure:"unit"`
	Expr  string       `json:"expr,omitempty" mapstructure:"expr"`
}

// JobConfig is the immutable per-run extraction configuration.
type JobConfig struct {
	SeedURLs   []string   `json:"seed_urls" mapstructure:"seed_urls"`
	Schema     Schema     `json:"schema" mapstructure:"schema"`
	Pagination Pagination `json:"pagination" mapstructure:"pagination"`

	RespectRobots     bool          `json:"respect_robots" mapstructure:"respect_robots"`
	RequestsPerSecond float64       `json:"requests_per_second" mapstructure:"requests_per_second"`
	RenderJS          bool          `json:"render_js" mapstructure:"render_js"`
	Timeout           time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries        int           `json:"max_retries" mapstructure:"max_retries"`

	MaxPages int `json:"max_pages" mapstructure:"max_pages"`
	MaxDepth int `json:"max_depth" mapstructure:"max_depth"`
}

// Validate rejects malformed configurations before a run starts. Errors here
// are configuration errors: the run fails immediately and is never retried.
func (c JobConfig) Validate() error {
	if len(c.SeedURLs) == 0 {
		return fmt.Errorf("no seed urls configured")
	}
	for _, raw := range c.SeedURLs {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid seed url %q", raw)
		}
	}
	if err := c.Schema.Validate(); err != nil {
		return err
	}
	if err := c.Pagination.Validate(); err != nil {
		return err
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be >= 0")
	}
	if c.MaxPages < 0 || c.MaxDepth < 0 {
		return fmt.Errorf("budgets must be >= 0")
	}
	return nil
}

// Validate checks the schema declares at least one well-formed field.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema declares no fields")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema field with empty name")
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate schema field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.Selector == "" {
			return fmt.Errorf("schema field %q has no selector", f.Name)
		}
		switch f.Type {
		case "", FieldTypeString, FieldTypeURL, FieldTypeNumber:
		default:
			return fmt.Errorf("schema field %q has unknown type %q", f.Name, f.Type)
		}
	}
	return nil
}

// Validate checks pagination invariants.
func (p Pagination) Validate() error {
	switch p.Mode {
	case "", PaginationNone:
		return nil
	case PaginationSelector:
		if p.NextSelector == "" {
			return fmt.Errorf("selector pagination requires next_selector")
		}
		return nil
	case PaginationPattern:
		if !strings.Contains(p.Pattern, PagePlaceholder) {
			return fmt.Errorf("pattern pagination template must contain %s", PagePlaceholder)
		}
		if p.StartPage > p.EndPage {
			return fmt.Errorf("pattern pagination start %d > end %d", p.StartPage, p.EndPage)
		}
		return nil
	default:
		return fmt.Errorf("unknown pagination mode %q", p.Mode)
	}
}

// Enabled reports whether any pagination is configured.
func (p Pagination) Enabled() bool {
	return p.Mode == PaginationSelector || p.Mode == PaginationPattern
}

// EffectiveType returns the declared type, defaulting to string.
func (f FieldSpec) EffectiveType() FieldType {
	if f.Type == "" {
		return FieldTypeString
	}
	return f.Type
}

// EffectiveAttr returns the attribute kind, defaulting to visible text.
func (f FieldSpec) EffectiveAttr() string {
	if f.Attr == "" {
		return AttrText
	}
	return f.Attr
}
