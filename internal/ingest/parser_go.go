package ingest

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"memento/internal/model"
)

// GoParser implements LanguageParser for Go source using the standard
// library's go/ast, giving Go files exact parses rather than tree-sitter's
// grammar approximation.
type GoParser struct{}

// NewGoParser constructs the Go language parser.
func NewGoParser() *GoParser { return &GoParser{} }

func (p *GoParser) Language() string     { return "go" }
func (p *GoParser) Extensions() []string { return []string{".go"} }

func (p *GoParser) Parse(path string, content []byte) (ParseResult, error) {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if err != nil {
		return ParseResult{}, err
	}

	var result ParseResult
	result.ImportAliases = make(map[string]string)

	for _, imp := range node.Imports {
		importPath, unquoteErr := strconv.Unquote(imp.Path.Value)
		if unquoteErr != nil {
			importPath = strings.Trim(imp.Path.Value, `"`)
		}
		result.Imports = append(result.Imports, importPath)

		local := importPath
		if idx := strings.LastIndex(local, "/"); idx >= 0 {
			local = local[idx+1:]
		}
		if imp.Name != nil {
			local = imp.Name.Name
		}
		result.ImportAliases[local] = importPath
	}

	// Struct/interface locations are collected in a first pass. Method ids
	// do not use them: a method's id hashes its receiver type name plus its
	// signature.
	typeLocations := make(map[string]model.Location)

	for _, decl := range node.Decls {
		genDecl, ok := decl.(*ast.GenDecl)
		if !ok || genDecl.Tok != token.TYPE {
			continue
		}
		for _, spec := range genDecl.Specs {
			typeSpec, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			typeLocations[typeSpec.Name.Name] = locationOf(fset, typeSpec.Pos())
		}
	}

	for _, decl := range node.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			entity, refs := p.parseFuncDecl(fset, d, path, content)
			result.Symbols = append(result.Symbols, entity)
			result.References = append(result.References, refs...)
		case *ast.GenDecl:
			entities, refs := p.parseGenDecl(fset, d, path, content)
			result.Symbols = append(result.Symbols, entities...)
			result.References = append(result.References, refs...)
		}
	}

	return result, nil
}

// calleeName extracts the bare (unqualified) name a call expression invokes,
// along with the package alias it was written through, if any — "pkg" in
// "pkg.Func()", empty for a locally-bound "Func()".
func calleeName(expr ast.Expr) (name, qualifier string) {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name, ""
	case *ast.SelectorExpr:
		if x, ok := t.X.(*ast.Ident); ok {
			return t.Sel.Name, x.Name
		}
		return t.Sel.Name, ""
	default:
		return "", ""
	}
}

// baseTypeIdent unwraps pointer/slice/map/variadic/channel wrappers to the
// terminal type name a PARAM_TYPE/RETURNS_TYPE/TYPE_USES reference should
// resolve against.
func baseTypeIdent(expr ast.Expr) (name, qualifier string) {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name, ""
	case *ast.StarExpr:
		return baseTypeIdent(t.X)
	case *ast.ArrayType:
		return baseTypeIdent(t.Elt)
	case *ast.MapType:
		return baseTypeIdent(t.Value)
	case *ast.Ellipsis:
		return baseTypeIdent(t.Elt)
	case *ast.ChanType:
		return baseTypeIdent(t.Value)
	case *ast.SelectorExpr:
		if x, ok := t.X.(*ast.Ident); ok {
			return t.Sel.Name, x.Name
		}
		return t.Sel.Name, ""
	default:
		return "", ""
	}
}

// callReferences walks body for call expressions, emitting one CALLS
// candidate per call whose callee isn't a stop-name. It does not attempt to
// resolve method calls through variables of unknown type (e.g. "x.Foo()"
// where x isn't a package selector) — those fall through to the
// relationship builder's name-index and heuristic steps same as any other
// bare name.
func callReferences(fset *token.FileSet, fromID string, body *ast.BlockStmt) []ReferenceCandidate {
	if body == nil {
		return nil
	}
	var refs []ReferenceCandidate
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		name, qualifier := calleeName(call.Fun)
		if isStopName(name) {
			return true
		}
		refs = append(refs, ReferenceCandidate{
			FromID: fromID, Name: name, Qualifier: qualifier, Type: model.RelCalls,
			Location: locationOf(fset, call.Pos()),
		})
		return true
	})
	return refs
}

// signatureTypeReferences emits PARAM_TYPE/RETURNS_TYPE candidates for a
// function's declared parameter and result types.
func signatureTypeReferences(fset *token.FileSet, fromID string, decl *ast.FuncDecl) []ReferenceCandidate {
	var refs []ReferenceCandidate
	add := func(expr ast.Expr, relType model.RelationshipType) {
		name, qualifier := baseTypeIdent(expr)
		if isStopName(name) {
			return
		}
		refs = append(refs, ReferenceCandidate{
			FromID: fromID, Name: name, Qualifier: qualifier, Type: relType,
			Location: locationOf(fset, expr.Pos()),
		})
	}
	if decl.Type.Params != nil {
		for _, f := range decl.Type.Params.List {
			add(f.Type, model.RelParamType)
		}
	}
	if decl.Type.Results != nil {
		for _, f := range decl.Type.Results.List {
			add(f.Type, model.RelReturnsType)
		}
	}
	return refs
}

// spanHash hashes the source bytes between pos and end so a symbol's Entity
// Hash changes when its body changes even though its id (derived from name
// and signature) stays stable — the Sync Coordinator's diff relies on this
// to classify a body-only edit as "updated" rather than delete+add (§8 S2).
func spanHash(fset *token.FileSet, content []byte, pos, end token.Pos) string {
	start := fset.Position(pos).Offset
	stop := fset.Position(end).Offset
	if start < 0 || stop > len(content) || start > stop {
		return ContentHash(content)
	}
	return ContentHash(content[start:stop])
}

func locationOf(fset *token.FileSet, pos token.Pos) model.Location {
	position := fset.Position(pos)
	return model.Location{Path: position.Filename, Line: position.Line, Column: position.Column}
}

func visibilityOf(name string) model.Visibility {
	if name != "" && name[0] >= 'A' && name[0] <= 'Z' {
		return model.VisibilityPublic
	}
	return model.VisibilityPrivate
}

func (p *GoParser) parseFuncDecl(fset *token.FileSet, decl *ast.FuncDecl, path string, content []byte) (model.Entity, []ReferenceCandidate) {
	name := decl.Name.Name
	loc := locationOf(fset, decl.Pos())
	signature := funcSignature(decl)

	symbol := model.SymbolData{
		Name:       name,
		Signature:  signature,
		Docstring:  decl.Doc.Text(),
		Visibility: visibilityOf(name),
		IsExported: ast.IsExported(name),
		Location:   loc,
	}

	kind := model.KindFunction
	if decl.Recv != nil && len(decl.Recv.List) > 0 {
		kind = model.KindMethod
		recvType, _ := receiverTypeInfo(decl.Recv.List[0].Type)
		if recvType != "" {
			signature = recvType + "." + signature
			symbol.Signature = signature
		}
	}

	var params []model.Parameter
	if decl.Type.Params != nil {
		params = paramsOf(decl.Type.Params)
	}
	returnType := resultsOf(decl.Type.Results)

	data := model.FunctionData{
		SymbolData: symbol,
		Parameters: params,
		ReturnType: returnType,
		Complexity: cyclomaticComplexity(decl.Body),
	}

	id := model.SymbolEntityID(path, name, signature)
	entity := model.Entity{
		ID: id, Kind: kind, Path: path, Language: "go", Hash: spanHash(fset, content, decl.Pos(), decl.End()),
		Created: nowUTC(), LastModified: nowUTC(), Data: data,
	}

	refs := signatureTypeReferences(fset, id, decl)
	refs = append(refs, callReferences(fset, id, decl.Body)...)
	return entity, refs
}

func (p *GoParser) parseGenDecl(fset *token.FileSet, decl *ast.GenDecl, path string, content []byte) ([]model.Entity, []ReferenceCandidate) {
	var entities []model.Entity
	var refs []ReferenceCandidate

	switch decl.Tok {
	case token.TYPE:
		for _, spec := range decl.Specs {
			typeSpec, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			entity, typeRefs := p.parseTypeSpec(fset, decl, typeSpec, path, content)
			entities = append(entities, entity)
			refs = append(refs, typeRefs...)
		}
	case token.CONST, token.VAR:
		for _, spec := range decl.Specs {
			valueSpec, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}
			for _, nameIdent := range valueSpec.Names {
				if nameIdent.Name == "_" {
					continue
				}
				loc := locationOf(fset, nameIdent.Pos())
				typeStr := ""
				if valueSpec.Type != nil {
					typeStr = exprString(valueSpec.Type)
				}
				signature := nameIdent.Name
				if typeStr != "" {
					signature += " " + typeStr
				}
				data := model.VariableData{SymbolData: model.SymbolData{
					Name: nameIdent.Name, Signature: signature,
					Visibility: visibilityOf(nameIdent.Name),
					IsExported: ast.IsExported(nameIdent.Name),
					Location:   loc,
				}}
				entities = append(entities, model.Entity{
					ID:   model.SymbolEntityID(path, nameIdent.Name, signature),
					Kind: model.KindVariable, Path: path, Language: "go",
					Hash:    spanHash(fset, content, valueSpec.Pos(), valueSpec.End()),
					Created: nowUTC(), LastModified: nowUTC(), Data: data,
				})
			}
		}
	}

	return entities, refs
}

// embeddedTypeReferences turns the names collected into a ClassData or
// InterfaceData's Extends list (or a TypeAliasData's AliasedType) into
// reference candidates, so Go's struct/interface embedding — the closest
// analog this language has to inheritance — and type aliasing actually reach
// the relationship builder instead of sitting unused on the entity payload.
func embeddedTypeReferences(fromID string, names []string, relType model.RelationshipType, loc model.Location) []ReferenceCandidate {
	var refs []ReferenceCandidate
	for _, n := range names {
		name := n
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		if isStopName(name) {
			continue
		}
		refs = append(refs, ReferenceCandidate{FromID: fromID, Name: name, Type: relType, Location: loc})
	}
	return refs
}

func (p *GoParser) parseTypeSpec(fset *token.FileSet, decl *ast.GenDecl, spec *ast.TypeSpec, path string, content []byte) (model.Entity, []ReferenceCandidate) {
	name := spec.Name.Name
	loc := locationOf(fset, spec.Pos())
	docstring := decl.Doc.Text()
	if docstring == "" {
		docstring = spec.Doc.Text()
	}
	hash := spanHash(fset, content, spec.Pos(), spec.End())

	symbol := model.SymbolData{
		Name: name, Signature: "type " + name,
		Docstring: docstring, Visibility: visibilityOf(name),
		IsExported: ast.IsExported(name), Location: loc,
	}

	switch t := spec.Type.(type) {
	case *ast.StructType:
		var implements []string
		if t.Fields != nil {
			for _, field := range t.Fields.List {
				if len(field.Names) == 0 {
					implements = append(implements, exprString(field.Type))
				}
			}
		}
		id := model.SymbolEntityID(path, name, symbol.Signature)
		data := model.ClassData{SymbolData: symbol, Extends: implements}
		entity := model.Entity{
			ID: id, Kind: model.KindClass,
			Path: path, Language: "go", Hash: hash, Created: nowUTC(), LastModified: nowUTC(), Data: data,
		}
		return entity, embeddedTypeReferences(id, implements, model.RelExtends, loc)
	case *ast.InterfaceType:
		var extends []string
		if t.Methods != nil {
			for _, m := range t.Methods.List {
				if len(m.Names) == 0 {
					extends = append(extends, exprString(m.Type))
				}
			}
		}
		id := model.SymbolEntityID(path, name, symbol.Signature)
		data := model.InterfaceData{SymbolData: symbol, Extends: extends}
		entity := model.Entity{
			ID: id, Kind: model.KindInterface,
			Path: path, Language: "go", Hash: hash, Created: nowUTC(), LastModified: nowUTC(), Data: data,
		}
		return entity, embeddedTypeReferences(id, extends, model.RelExtends, loc)
	default:
		aliased := exprString(spec.Type)
		id := model.SymbolEntityID(path, name, symbol.Signature)
		data := model.TypeAliasData{SymbolData: symbol, AliasedType: aliased}
		entity := model.Entity{
			ID: id, Kind: model.KindTypeAlias,
			Path: path, Language: "go", Hash: hash, Created: nowUTC(), LastModified: nowUTC(), Data: data,
		}
		return entity, embeddedTypeReferences(id, []string{aliased}, model.RelTypeUses, loc)
	}
}

func receiverTypeInfo(expr ast.Expr) (name string, isPointer bool) {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name, false
	case *ast.StarExpr:
		name, _ = receiverTypeInfo(t.X)
		return name, true
	}
	return "", false
}

func paramsOf(fields *ast.FieldList) []model.Parameter {
	var params []model.Parameter
	for _, field := range fields.List {
		typeStr := exprString(field.Type)
		if len(field.Names) == 0 {
			params = append(params, model.Parameter{Type: typeStr})
			continue
		}
		for _, n := range field.Names {
			params = append(params, model.Parameter{Name: n.Name, Type: typeStr})
		}
	}
	return params
}

func resultsOf(fields *ast.FieldList) string {
	if fields == nil || len(fields.List) == 0 {
		return ""
	}
	var parts []string
	for _, f := range fields.List {
		parts = append(parts, exprString(f.Type))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func funcSignature(decl *ast.FuncDecl) string {
	var b strings.Builder
	b.WriteString("func ")
	b.WriteString(decl.Name.Name)
	b.WriteString("(")
	if decl.Type.Params != nil {
		var parts []string
		for _, f := range decl.Type.Params.List {
			typeStr := exprString(f.Type)
			if len(f.Names) == 0 {
				parts = append(parts, typeStr)
				continue
			}
			names := make([]string, len(f.Names))
			for i, n := range f.Names {
				names[i] = n.Name
			}
			parts = append(parts, strings.Join(names, ", ")+" "+typeStr)
		}
		b.WriteString(strings.Join(parts, ", "))
	}
	b.WriteString(")")
	if results := resultsOf(decl.Type.Results); results != "" {
		b.WriteString(" ")
		b.WriteString(results)
	}
	return b.String()
}

// exprString renders a type expression back to source text well enough for
// signatures and hashes; it is intentionally not a full go/printer pass.
func exprString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprString(t.X)
	case *ast.SelectorExpr:
		return exprString(t.X) + "." + t.Sel.Name
	case *ast.ArrayType:
		return "[]" + exprString(t.Elt)
	case *ast.MapType:
		return "map[" + exprString(t.Key) + "]" + exprString(t.Value)
	case *ast.Ellipsis:
		return "..." + exprString(t.Elt)
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.StructType:
		return "struct{}"
	case *ast.FuncType:
		return "func(...)"
	case *ast.ChanType:
		return "chan " + exprString(t.Value)
	default:
		return "?"
	}
}

// cyclomaticComplexity counts decision points in a function body: a crude
// McCabe approximation (branches + 1), enough to rank relative complexity
// without a full control-flow graph.
func cyclomaticComplexity(body *ast.BlockStmt) int {
	if body == nil {
		return 1
	}
	complexity := 1
	ast.Inspect(body, func(n ast.Node) bool {
		switch v := n.(type) {
		case *ast.IfStmt, *ast.ForStmt, *ast.RangeStmt, *ast.CaseClause, *ast.CommClause:
			complexity++
		case *ast.BinaryExpr:
			if v.Op == token.LAND || v.Op == token.LOR {
				complexity++
			}
		}
		return true
	})
	return complexity
}
