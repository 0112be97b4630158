// Package ingest implements the AST Parser (C1), Cache Manager (C2),
// Incremental Parser (C3) and Relationship Builder (C4) components of the
// ingestion pipeline.
package ingest

import (
	"path/filepath"
	"strings"
	"time"

	"memento/internal/logging"
	"memento/internal/model"
)

// ParseResult is the unified output of a language parser: the symbol
// entities found in one file, the raw import strings (plus the local
// alias/name each import binds) the relationship builder resolves against
// the module graph, and the call-site/type-usage reference candidates the
// relationship builder's six-step chain turns into CALLS/PARAM_TYPE/
// RETURNS_TYPE/EXTENDS/TYPE_USES edges.
type ParseResult struct {
	Symbols     []model.Entity
	Imports     []string
	ImportAliases map[string]string // local name/alias -> import path
	References  []ReferenceCandidate
	ParseErrors []model.ParseError
}

// ReferenceCandidate is a bare reference a parser observed inside a symbol's
// body or signature, not yet bound to a target entity. Qualifier is the
// package alias/prefix the reference was written through (e.g. "pkg" in
// "pkg.Func()"), empty when the reference was unqualified.
type ReferenceCandidate struct {
	FromID    string
	Name      string
	Qualifier string
	Type      model.RelationshipType
	Location  model.Location
}

// defaultStopNames is the configurable stop-name set (§4.1) that keeps
// universally common identifiers — builtins, literals, trivial receivers —
// out of symbol emission and reference candidates, where they would only
// ever resolve ambiguously or not at all.
var defaultStopNames = map[string]bool{
	"error": true, "string": true, "int": true, "int8": true, "int16": true,
	"int32": true, "int64": true, "uint": true, "uint8": true, "uint16": true,
	"uint32": true, "uint64": true, "uintptr": true, "byte": true, "rune": true,
	"bool": true, "float32": true, "float64": true, "complex64": true, "complex128": true,
	"any": true, "nil": true, "true": true, "false": true, "iota": true,
	"len": true, "cap": true, "make": true, "new": true, "append": true,
	"copy": true, "delete": true, "panic": true, "recover": true, "print": true,
	"println": true, "close": true, "self": true, "this": true, "super": true,
}

// isStopName reports whether name is a trivial identifier that should never
// become a symbol or a reference candidate on its own.
func isStopName(name string) bool {
	return name == "" || defaultStopNames[name]
}

// LanguageParser extracts ParseResult from one file's content. Each
// implementation owns exactly the languages it names in Extensions.
type LanguageParser interface {
	// Parse extracts entities from source content. path is used only to
	// build stable ids and locations; content may be in-memory and need
	// not match what is on disk.
	Parse(path string, content []byte) (ParseResult, error)

	// Extensions lists the file extensions this parser claims, leading dot
	// included (".go", ".py", ...).
	Extensions() []string

	// Language is the identifier stored on Entity.Language.
	Language() string
}

// Parser is the AST Parser component (C1): it dispatches each file to the
// language parser that claims its extension, falling back to treating the
// file as plain, symbol-less text when no parser claims it.
type Parser struct {
	byExt map[string]LanguageParser
}

// NewParser builds the default parser set: a precise go/ast parser for Go,
// and tree-sitter-backed parsers (with regex fallback) for the rest.
func NewParser() *Parser {
	p := &Parser{byExt: make(map[string]LanguageParser)}
	p.Register(NewGoParser())
	ts := NewTreeSitterParser()
	p.Register(ts)
	return p
}

// Register adds a language parser, indexing it by every extension it claims.
func (p *Parser) Register(lp LanguageParser) {
	for _, ext := range lp.Extensions() {
		p.byExt[ext] = lp
	}
}

// Supports reports whether any registered parser claims path's extension.
func (p *Parser) Supports(path string) bool {
	_, ok := p.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Parse dispatches path to its language parser. A file whose extension no
// parser claims yields an empty ParseResult, nil error: such files still
// become File entities, just without Symbol children (§4.1 edge case).
func (p *Parser) Parse(path string, content []byte) (ParseResult, error) {
	ext := strings.ToLower(filepath.Ext(path))
	lp, ok := p.byExt[ext]
	if !ok {
		return ParseResult{}, nil
	}

	timer := logging.StartTimer(logging.CategoryParser, "parse:"+filepath.Base(path))
	defer timer.Stop()

	result, err := lp.Parse(path, content)
	if err != nil {
		// A parser that returns an error produced nothing usable; record it
		// as a non-fatal ParseError rather than aborting the caller (§7).
		logging.ParserDebug("parse failed for %s: %v", path, err)
		result.ParseErrors = append(result.ParseErrors, model.ParseError{
			Line: 1, Column: 1, Message: err.Error(), Severity: "error",
		})
		return result, nil
	}
	return result, nil
}

// LanguageOf returns the language identifier for path's extension, or ""
// if no parser claims it.
func (p *Parser) LanguageOf(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if lp, ok := p.byExt[ext]; ok {
		return lp.Language()
	}
	return ""
}

func nowUTC() time.Time { return time.Now().UTC() }
