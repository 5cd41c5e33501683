package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RowContext locates a rejected value inside a tabular source
type RowContext struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   string `json:"column,omitempty"`
	Value    string `json:"value,omitempty"`
	Expected string `json:"expected,omitempty"`
}

// RowError describes a CSV row that was dropped while loading a ledger or a
// receipt export. Dropped rows are not fatal on their own.
type RowError struct {
	*ReconcilerError
	Context  *RowContext `json:"context"`
	Examples []string    `json:"examples,omitempty"`
}

// Error implements the error interface with the row location appended
func (e *RowError) Error() string {
	msg := e.ReconcilerError.Error()
	if e.Context == nil {
		return msg
	}

	location := fmt.Sprintf("at %s", filepath.Base(e.Context.File))
	if e.Context.Line > 0 {
		location += fmt.Sprintf(":%d", e.Context.Line)
	}
	if e.Context.Column != "" {
		location += fmt.Sprintf(" column '%s'", e.Context.Column)
	}
	return msg + " " + location
}

// As lets errors.As find the embedded ReconcilerError
func (e *RowError) As(target interface{}) bool {
	if t, ok := target.(**ReconcilerError); ok {
		*t = e.ReconcilerError
		return true
	}
	return false
}

// GetDetailedError returns a multi-line description suitable for terminal output
func (e *RowError) GetDetailedError() string {
	lines := []string{fmt.Sprintf("ERROR: %s", e.Message)}

	if e.Context != nil {
		lines = append(lines, fmt.Sprintf("  → File: %s", e.Context.File))
		if e.Context.Line > 0 {
			lines = append(lines, fmt.Sprintf("  → Line: %d", e.Context.Line))
		}
		if e.Context.Column != "" {
			lines = append(lines, fmt.Sprintf("  → Column: %s", e.Context.Column))
		}
		if e.Context.Value != "" {
			lines = append(lines, fmt.Sprintf("  → Value: '%s'", e.Context.Value))
		}
		if e.Context.Expected != "" {
			lines = append(lines, fmt.Sprintf("  → Expected: %s", e.Context.Expected))
		}
	}

	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  → Suggestion: %s", e.Suggestion))
	}
	if len(e.Examples) > 0 {
		lines = append(lines, fmt.Sprintf("  → Examples: %s", strings.Join(e.Examples, ", ")))
	}

	return strings.Join(lines, "\n")
}

// NewRowError creates a row error in the parse category
func NewRowError(code ErrorCode, ctx *RowContext, message string, cause error) *RowError {
	base := build(CategoryParse, code, message, cause)
	if ctx != nil {
		base.WithContext("file", ctx.File).
			WithContext("line", ctx.Line).
			WithContext("column", ctx.Column).
			WithContext("value", ctx.Value)
	}

	return &RowError{
		ReconcilerError: base,
		Context:         ctx,
	}
}

// WithExamples adds example values to help fix the row
func (e *RowError) WithExamples(examples ...string) *RowError {
	e.Examples = examples
	return e
}

// WithSuggestion adds a suggestion and returns the RowError
func (e *RowError) WithSuggestion(suggestion string) *RowError {
	e.ReconcilerError.WithSuggestion(suggestion)
	return e
}

// InvalidAmountError reports an amount cell that is not a decimal number
func InvalidAmountError(file string, line int, column string, value string) *RowError {
	ctx := &RowContext{
		File:     file,
		Line:     line,
		Column:   column,
		Value:    value,
		Expected: "decimal number",
	}

	message := fmt.Sprintf("invalid amount '%s'", value)
	return NewRowError(CodeInvalidData, ctx, message, nil).
		WithExamples("42.00", "-19.99", "1,250.00").
		WithSuggestion("use plain decimal amounts; currency symbols and thousands separators are stripped")
}

// InvalidDateError reports a date cell that none of the known layouts accept
func InvalidDateError(file string, line int, column string, value string) *RowError {
	ctx := &RowContext{
		File:     file,
		Line:     line,
		Column:   column,
		Value:    value,
		Expected: "calendar date",
	}

	message := fmt.Sprintf("invalid date '%s'", value)
	return NewRowError(CodeInvalidData, ctx, message, nil).
		WithExamples("2024-03-01", "03/01/2024", "Mar 1, 2024").
		WithSuggestion("use YYYY-MM-DD dates")
}

// MissingColumnError reports header columns that could not be resolved
func MissingColumnError(file string, expectedColumns []string, actualColumns []string) *RowError {
	missing := findMissingColumns(expectedColumns, actualColumns)

	ctx := &RowContext{
		File:     file,
		Line:     1,
		Expected: fmt.Sprintf("columns: %s", strings.Join(expectedColumns, ", ")),
	}

	message := fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", "))
	return NewRowError(CodeMissingColumn, ctx, message, nil).
		WithSuggestion("add the missing columns to the CSV header or pick a matching --ledger-profile")
}

// RowErrorCollector counts dropped rows and keeps the first few for reporting
type RowErrorCollector struct {
	errors     []*RowError
	total      int
	maxSamples int
}

// NewRowErrorCollector creates a collector that retains at most maxSamples errors
func NewRowErrorCollector(maxSamples int) *RowErrorCollector {
	return &RowErrorCollector{maxSamples: maxSamples}
}

// Add records a dropped row
func (c *RowErrorCollector) Add(err *RowError) {
	if err == nil {
		return
	}
	c.total++
	if c.maxSamples <= 0 || len(c.errors) < c.maxSamples {
		c.errors = append(c.errors, err)
	}
}

// Total returns the number of dropped rows, including ones not retained
func (c *RowErrorCollector) Total() int {
	return c.total
}

// HasErrors returns true if any row was dropped
func (c *RowErrorCollector) HasErrors() bool {
	return c.total > 0
}

// GetErrors returns the retained errors
func (c *RowErrorCollector) GetErrors() []*RowError {
	return c.errors
}

// GetSummary returns an error summary for the retained errors
func (c *RowErrorCollector) GetSummary() *ErrorSummary {
	base := make([]*ReconcilerError, len(c.errors))
	for i, err := range c.errors {
		base[i] = err.ReconcilerError
	}
	return NewErrorSummary(base)
}

func findMissingColumns(expected, actual []string) []string {
	actualSet := make(map[string]bool)
	for _, col := range actual {
		actualSet[strings.ToLower(strings.TrimSpace(col))] = true
	}

	var missing []string
	for _, col := range expected {
		if !actualSet[strings.ToLower(strings.TrimSpace(col))] {
			missing = append(missing, col)
		}
	}

	return missing
}

// FormatRowErrorsForUser formats dropped-row errors for verbose CLI output
func FormatRowErrorsForUser(errs []*RowError, total int) string {
	if len(errs) == 0 {
		return "No rows dropped"
	}

	lines := []string{fmt.Sprintf("Dropped %d rows:", total)}
	for _, err := range errs {
		lines = append(lines, "", err.GetDetailedError())
	}
	if total > len(errs) {
		lines = append(lines, "", fmt.Sprintf("... and %d more", total-len(errs)))
	}

	return strings.Join(lines, "\n")
}
