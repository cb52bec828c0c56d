package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a Job.
//
// Path is a dotted path into the config (e.g. "destination.kind",
// "transform[1].options.columns"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// knownDialects mirrors the bundled providers and their aliases. Unknown
// names are warnings so an out-of-tree provider can still be used.
var knownDialects = map[string]struct{}{
	"postgres": {}, "postgresql": {}, "pgx": {},
	"mssql": {}, "sqlserver": {},
	"sqlite": {}, "sqlite3": {},
	"mysql": {}, "mariadb": {},
}

var knownTransforms = map[string]struct{}{
	"require":   {},
	"project":   {},
	"normalize": {},
	"dedup":     {},
	"dedupe":    {},
	"limit":     {},
	"coerce":    {},
}

// ValidateJob performs static validation of a Job. It does not mutate the
// job; callers decide whether warnings are fatal.
func ValidateJob(j Job) []Issue {
	var issues []Issue
	if strings.TrimSpace(j.Name) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "name",
			Message:  "name must not be empty; it labels logs, metrics and progress",
		})
	}
	issues = append(issues, validateSource(j.Source)...)
	issues = append(issues, validateTransforms(j.Transform)...)
	issues = append(issues, validateDestination(j.Destination)...)
	issues = append(issues, validateRuntime(j.Runtime)...)
	return issues
}

func validateDialect(path, name string) []Issue {
	if strings.TrimSpace(name) == "" {
		return []Issue{{Severity: SeverityError, Path: path, Message: path + " must not be empty"}}
	}
	if _, ok := knownDialects[strings.ToLower(name)]; !ok {
		return []Issue{{
			Severity: SeverityWarning,
			Path:     path,
			Message:  fmt.Sprintf("unknown dialect %q; ensure a matching provider is registered", name),
		}}
	}
	return nil
}

func validateSource(s Source) []Issue {
	issues := validateDialect("source.dialect", s.Dialect)
	if strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, Issue{Severity: SeverityError, Path: "source.dsn", Message: "source.dsn must not be empty"})
	}
	if strings.TrimSpace(s.SQL) == "" {
		issues = append(issues, Issue{Severity: SeverityError, Path: "source.sql", Message: "source.sql must not be empty"})
	}
	if s.CommandTimeoutSeconds < 0 {
		issues = append(issues, Issue{Severity: SeverityError, Path: "source.command_timeout_seconds", Message: "must not be negative"})
	}
	if s.BatchSize < 0 {
		issues = append(issues, Issue{Severity: SeverityError, Path: "source.batch_size", Message: "must not be negative"})
	} else if s.BatchSize == 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "source.batch_size",
			Message:  "batch_size=0; the default of 10000 rows per chunk applies",
		})
	}
	return issues
}

// validateTransforms validates the transform chain.
func validateTransforms(ts []Transform) []Issue {
	var issues []Issue
	for i, t := range ts {
		path := fmt.Sprintf("transform[%d]", i)
		kind := strings.ToLower(strings.TrimSpace(t.Kind))
		if kind == "" {
			issues = append(issues, Issue{Severity: SeverityError, Path: path + ".kind", Message: "transform kind must not be empty"})
			continue
		}
		if _, ok := knownTransforms[kind]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".kind",
				Message:  fmt.Sprintf("unknown transform kind %q", t.Kind),
			})
			continue
		}

		switch kind {
		case "require":
			if len(t.Options.StringSlice("columns")) == 0 {
				issues = append(issues, Issue{Severity: SeverityError, Path: path + ".options.columns", Message: "require needs at least one column"})
			}
		case "limit":
			if t.Options.Int("rows", -1) < 0 {
				issues = append(issues, Issue{Severity: SeverityError, Path: path + ".options.rows", Message: "limit needs rows >= 0"})
			}
		case "coerce":
			if len(t.Options.StringMap("types")) == 0 {
				issues = append(issues, Issue{Severity: SeverityWarning, Path: path + ".options.types", Message: "coerce has no types; it will not change anything"})
			}
		case "project":
			if len(t.Options.StringSlice("columns")) == 0 && len(t.Options.StringMap("rename")) == 0 {
				issues = append(issues, Issue{Severity: SeverityWarning, Path: path + ".options", Message: "project has neither columns nor rename; it will not change anything"})
			}
		}
	}
	return issues
}

func validateDestination(d Destination) []Issue {
	switch strings.ToLower(strings.TrimSpace(d.Kind)) {
	case "":
		return []Issue{{Severity: SeverityError, Path: "destination.kind", Message: "destination.kind must not be empty"}}
	case DestinationCache:
		return validateCache(d.Cache)
	case DestinationTable:
		return validateTable(d.Table)
	}
	return []Issue{{
		Severity: SeverityError,
		Path:     "destination.kind",
		Message:  fmt.Sprintf("unknown destination kind %q (want cache or table)", d.Kind),
	}}
}

func validateCache(c Cache) []Issue {
	issues := validateDialect("destination.cache.dialect", c.Dialect)
	req := func(path, v string) {
		if strings.TrimSpace(v) == "" {
			issues = append(issues, Issue{Severity: SeverityError, Path: "destination.cache." + path, Message: path + " must not be empty"})
		}
	}
	req("dsn", c.DSN)
	req("kind", c.Kind)
	req("id", c.ID)
	if strings.TrimSpace(c.Description) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "destination.cache.description",
			Message:  "empty description; staleness detection compares descriptions only",
		})
	}

	switch c.Shape {
	case "identifiers":
		req("column", c.Column)
		if len(c.Columns) > 0 {
			issues = append(issues, Issue{Severity: SeverityWarning, Path: "destination.cache.columns", Message: "columns is ignored for an identifier list"})
		}
	case "join":
		for i, col := range c.Columns {
			if strings.TrimSpace(col.Name) == "" {
				issues = append(issues, Issue{Severity: SeverityError, Path: fmt.Sprintf("destination.cache.columns[%d].name", i), Message: "column name must not be empty"})
			}
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "destination.cache.shape",
			Message:  fmt.Sprintf("shape %q must be identifiers or join", c.Shape),
		})
	}
	if c.CommandTimeoutSeconds < 0 || c.JoinTableTimeoutSeconds < 0 {
		issues = append(issues, Issue{Severity: SeverityError, Path: "destination.cache", Message: "timeouts must not be negative"})
	}
	return issues
}

func validateTable(t Table) []Issue {
	issues := validateDialect("destination.table.dialect", t.Dialect)
	if strings.TrimSpace(t.DSN) == "" {
		issues = append(issues, Issue{Severity: SeverityError, Path: "destination.table.dsn", Message: "dsn must not be empty"})
	}
	if strings.TrimSpace(t.Name) == "" {
		issues = append(issues, Issue{Severity: SeverityError, Path: "destination.table.name", Message: "name must not be empty"})
	}
	switch strings.ToLower(strings.TrimSpace(t.Mode)) {
	case "", "create", "replace", "append":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "destination.table.mode",
			Message:  fmt.Sprintf("mode %q must be create, replace or append", t.Mode),
		})
	}
	if t.BatchSize < 0 || t.CommandTimeoutSeconds < 0 {
		issues = append(issues, Issue{Severity: SeverityError, Path: "destination.table", Message: "batch_size and command_timeout_seconds must not be negative"})
	}
	return issues
}

func validateRuntime(r Runtime) []Issue {
	if r.TimeoutSeconds < 0 {
		return []Issue{{Severity: SeverityError, Path: "runtime.timeout_seconds", Message: "timeout_seconds must not be negative"}}
	}
	return nil
}
