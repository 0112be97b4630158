package ingest

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"memento/internal/logging"
	"memento/internal/model"
)

// TreeSitterParser implements LanguageParser for Python, Rust, JavaScript
// and TypeScript using tree-sitter grammars. Each language gets its own
// *sitter.Parser instance; grammars are not safe to share across goroutines
// concurrently parsing different files.
type TreeSitterParser struct {
	parsers map[string]*sitter.Parser
	regex   *regexParser
}

// NewTreeSitterParser builds the tree-sitter-backed parser set.
func NewTreeSitterParser() *TreeSitterParser {
	mk := func(lang *sitter.Language) *sitter.Parser {
		p := sitter.NewParser()
		p.SetLanguage(lang)
		return p
	}
	return &TreeSitterParser{
		parsers: map[string]*sitter.Parser{
			"py": mk(python.GetLanguage()),
			"rs": mk(rust.GetLanguage()),
			"js": mk(javascript.GetLanguage()),
			"ts": mk(typescript.GetLanguage()),
		},
		regex: newRegexParser(),
	}
}

func (p *TreeSitterParser) Language() string { return "polyglot" }

func (p *TreeSitterParser) Extensions() []string {
	return []string{".py", ".rs", ".js", ".jsx", ".ts", ".tsx"}
}

func (p *TreeSitterParser) langKeyFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".py"):
		return "py"
	case strings.HasSuffix(path, ".rs"):
		return "rs"
	case strings.HasSuffix(path, ".ts") || strings.HasSuffix(path, ".tsx"):
		return "ts"
	case strings.HasSuffix(path, ".js") || strings.HasSuffix(path, ".jsx"):
		return "js"
	default:
		return ""
	}
}

func (p *TreeSitterParser) Parse(path string, content []byte) (ParseResult, error) {
	key := p.langKeyFor(path)
	parser, ok := p.parsers[key]
	if !ok {
		return ParseResult{}, nil
	}

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err == nil && tree != nil {
		defer tree.Close()
		result := extractSymbols(tree.RootNode(), path, content, key)
		if len(result.Symbols) > 0 || len(result.Imports) > 0 {
			return result, nil
		}
		logging.ParserDebug("tree-sitter produced no symbols for %s, falling back to regex", path)
	} else {
		logging.ParserDebug("tree-sitter parse failed for %s: %v, falling back to regex", path, err)
	}

	return p.regex.parse(key, path, content)
}

// nodeSpec maps a grammar's node type names to the entity kind and the
// field holding the declaration's name, covering the handful of
// declaration shapes each grammar's node-type table exposes.
type nodeSpec struct {
	kind      model.EntityKind
	nameField string
	paramsField string
}

var languageNodeSpecs = map[string]map[string]nodeSpec{
	"py": {
		"class_definition":    {kind: model.KindClass, nameField: "name"},
		"function_definition": {kind: model.KindFunction, nameField: "name", paramsField: "parameters"},
	},
	"rs": {
		"struct_item":    {kind: model.KindClass, nameField: "name"},
		"trait_item":     {kind: model.KindInterface, nameField: "name"},
		"function_item":  {kind: model.KindFunction, nameField: "name", paramsField: "parameters"},
		"enum_item":      {kind: model.KindTypeAlias, nameField: "name"},
	},
	"js": {
		"class_declaration":    {kind: model.KindClass, nameField: "name"},
		"function_declaration": {kind: model.KindFunction, nameField: "name", paramsField: "parameters"},
		"method_definition":    {kind: model.KindMethod, nameField: "name", paramsField: "parameters"},
	},
	"ts": {
		"class_declaration":     {kind: model.KindClass, nameField: "name"},
		"interface_declaration": {kind: model.KindInterface, nameField: "name"},
		"function_declaration":  {kind: model.KindFunction, nameField: "name", paramsField: "parameters"},
		"method_definition":     {kind: model.KindMethod, nameField: "name", paramsField: "parameters"},
		"type_alias_declaration": {kind: model.KindTypeAlias, nameField: "name"},
	},
}

var languageImportNodes = map[string]map[string]bool{
	"py": {"import_statement": true, "import_from_statement": true},
	"rs": {"use_declaration": true},
	"js": {"import_statement": true},
	"ts": {"import_statement": true},
}

// languageCallNodes names each grammar's call-expression node type, all of
// which expose the callee through a "function" field — enough to extract
// CALLS candidates without a per-language AST walker. Type-usage extraction
// (PARAM_TYPE/RETURNS_TYPE/TYPE_USES) is left to the Go backend: none of
// these grammars expose annotation/return types through a single consistent
// field the way go/ast does, and the node specs above don't track them.
var languageCallNodes = map[string]string{
	"py": "call",
	"rs": "call_expression",
	"js": "call_expression",
	"ts": "call_expression",
}

func extractSymbols(root *sitter.Node, path string, content []byte, langKey string) ParseResult {
	specs := languageNodeSpecs[langKey]
	importNodes := languageImportNodes[langKey]
	callNodeType := languageCallNodes[langKey]
	language := languageNameFor(langKey)

	var result ParseResult
	var walk func(n *sitter.Node, enclosingFuncID string)
	walk = func(n *sitter.Node, enclosingFuncID string) {
		nodeType := n.Type()
		nextFuncID := enclosingFuncID

		if spec, ok := specs[nodeType]; ok {
			if entity, ok := entityFromNode(n, path, content, language, spec); ok {
				result.Symbols = append(result.Symbols, entity)
				if spec.kind == model.KindFunction || spec.kind == model.KindMethod {
					nextFuncID = entity.ID
				}
			}
		}
		if importNodes[nodeType] {
			if imp := importFromNode(n, content); imp != "" {
				result.Imports = append(result.Imports, imp)
			}
		}
		if callNodeType != "" && nodeType == callNodeType && enclosingFuncID != "" {
			if name := calleeNameFromNode(n, content); name != "" && !isStopName(name) {
				point := n.StartPoint()
				result.References = append(result.References, ReferenceCandidate{
					FromID: enclosingFuncID, Name: name, Type: model.RelCalls,
					Location: model.Location{Path: path, Line: int(point.Row) + 1, Column: int(point.Column) + 1},
				})
			}
		}

		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i), nextFuncID)
		}
	}
	walk(root, "")
	return result
}

// calleeNameFromNode extracts the bare name a call expression's "function"
// field resolves to, unwrapping one level of member/attribute/field access
// (obj.method(), obj.attr.method()) down to its rightmost identifier.
func calleeNameFromNode(n *sitter.Node, content []byte) string {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	return rightmostIdentifier(fn, content)
}

func rightmostIdentifier(n *sitter.Node, content []byte) string {
	switch n.Type() {
	case "identifier", "property_identifier", "field_identifier", "type_identifier":
		return n.Content(content)
	}
	for _, field := range []string{"property", "attribute", "field", "name"} {
		if child := n.ChildByFieldName(field); child != nil {
			return rightmostIdentifier(child, content)
		}
	}
	if n.NamedChildCount() > 0 {
		return rightmostIdentifier(n.NamedChild(int(n.NamedChildCount())-1), content)
	}
	return n.Content(content)
}

func languageNameFor(key string) string {
	switch key {
	case "py":
		return "python"
	case "rs":
		return "rust"
	case "js":
		return "javascript"
	case "ts":
		return "typescript"
	default:
		return key
	}
}

func entityFromNode(n *sitter.Node, path string, content []byte, language string, spec nodeSpec) (model.Entity, bool) {
	nameNode := n.ChildByFieldName(spec.nameField)
	if nameNode == nil {
		return model.Entity{}, false
	}
	name := nameNode.Content(content)
	if name == "" {
		return model.Entity{}, false
	}

	signature := name
	if spec.paramsField != "" {
		if params := n.ChildByFieldName(spec.paramsField); params != nil {
			signature = name + params.Content(content)
		}
	}

	point := n.StartPoint()
	loc := model.Location{Path: path, Line: int(point.Row) + 1, Column: int(point.Column) + 1}

	symbol := model.SymbolData{
		Name: name, Signature: signature,
		Visibility: visibilityForLanguage(language, name),
		IsExported: visibilityForLanguage(language, name) == model.VisibilityPublic,
		Location:   loc,
	}

	var data model.EntityData
	switch spec.kind {
	case model.KindClass:
		data = model.ClassData{SymbolData: symbol}
	case model.KindInterface:
		data = model.InterfaceData{SymbolData: symbol}
	case model.KindTypeAlias:
		data = model.TypeAliasData{SymbolData: symbol}
	case model.KindMethod, model.KindFunction:
		data = model.FunctionData{SymbolData: symbol}
	default:
		data = model.VariableData{SymbolData: symbol}
	}

	return model.Entity{
		ID: model.SymbolEntityID(path, name, signature), Kind: spec.kind,
		Path: path, Language: language, Created: nowUTC(), LastModified: nowUTC(),
		Data: data,
	}, true
}

// visibilityForLanguage applies each grammar's naming convention for
// non-public symbols: Python's leading-underscore convention, and a
// public-by-default rule elsewhere since JS/TS/Rust lack Go's
// case-based export rule and instead gate on explicit "export"/"pub"
// keywords the simplified node spec does not track per-declaration.
func visibilityForLanguage(language, name string) model.Visibility {
	if language == "python" {
		if strings.HasPrefix(name, "__") {
			return model.VisibilityPrivate
		}
		if strings.HasPrefix(name, "_") {
			return model.VisibilityProtected
		}
		return model.VisibilityPublic
	}
	return model.VisibilityPublic
}

func importFromNode(n *sitter.Node, content []byte) string {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "dotted_name", "string", "string_literal", "scoped_identifier", "identifier":
			text := child.Content(content)
			return strings.Trim(text, `"'`)
		}
	}
	return ""
}

// Close releases the tree-sitter parser handles.
func (p *TreeSitterParser) Close() {
	for _, parser := range p.parsers {
		parser.Close()
	}
}
