package ingest

import (
	"regexp"
	"strings"

	"memento/internal/model"
)

// regexParser is the last-resort extractor used when tree-sitter fails to
// parse a file (truncated content, grammar gap) or yields neither symbols
// nor imports.
// It trades precision for availability: callers should prefer the
// tree-sitter path whenever it succeeds.
type regexParser struct {
	pyClass, pyDef, pyImport           *regexp.Regexp
	rsFn, rsStruct, rsEnum, rsMod, rsUse *regexp.Regexp
	jtsClass, jtsInterface, jtsFunc, jtsArrow, jtsImport *regexp.Regexp
}

func newRegexParser() *regexParser {
	return &regexParser{
		pyClass:  regexp.MustCompile(`^\s*class\s+(\w+)`),
		pyDef:    regexp.MustCompile(`^\s*(?:async\s+)?def\s+(\w+)`),
		pyImport: regexp.MustCompile(`^\s*(?:from|import)\s+([\w.]+)`),

		rsFn:     regexp.MustCompile(`^\s*(?:pub\s+)?(?:async\s+)?fn\s+(\w+)`),
		rsStruct: regexp.MustCompile(`^\s*(?:pub\s+)?struct\s+(\w+)`),
		rsEnum:   regexp.MustCompile(`^\s*(?:pub\s+)?enum\s+(\w+)`),
		rsMod:    regexp.MustCompile(`^\s*(?:pub\s+)?mod\s+(\w+)`),
		rsUse:    regexp.MustCompile(`^\s*use\s+([\w:]+)`),

		jtsClass:     regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?class\s+(\w+)`),
		jtsInterface: regexp.MustCompile(`^\s*(?:export\s+)?interface\s+(\w+)`),
		jtsFunc:      regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s+(\w+)`),
		jtsArrow:     regexp.MustCompile(`^\s*(?:export\s+)?const\s+(\w+)\s*=\s*(?:async\s*)?\(.*\)\s*(?::\s*\S+\s*)?=>`),
		jtsImport:    regexp.MustCompile(`^\s*import[\s\S]*?from\s+['"]([^'"]+)['"]`),
	}
}

func (r *regexParser) parse(langKey, path string, content []byte) (ParseResult, error) {
	lines := strings.Split(string(content), "\n")
	language := languageNameFor(langKey)
	var result ParseResult

	emit := func(lineNo int, name string, kind model.EntityKind) {
		signature := name
		loc := model.Location{Path: path, Line: lineNo + 1, Column: 1}
		symbol := model.SymbolData{
			Name: name, Signature: signature,
			Visibility: visibilityForLanguage(language, name),
			IsExported: visibilityForLanguage(language, name) == model.VisibilityPublic,
			Location:   loc,
		}
		var data model.EntityData
		switch kind {
		case model.KindClass:
			data = model.ClassData{SymbolData: symbol}
		case model.KindInterface:
			data = model.InterfaceData{SymbolData: symbol}
		case model.KindTypeAlias:
			data = model.TypeAliasData{SymbolData: symbol}
		default:
			data = model.FunctionData{SymbolData: symbol}
		}
		result.Symbols = append(result.Symbols, model.Entity{
			ID: model.SymbolEntityID(path, name, signature), Kind: kind,
			Path: path, Language: language, Created: nowUTC(), LastModified: nowUTC(),
			Data: data,
		})
	}

	for i, line := range lines {
		switch langKey {
		case "py":
			if m := r.pyClass.FindStringSubmatch(line); len(m) > 1 {
				emit(i, m[1], model.KindClass)
			}
			if m := r.pyDef.FindStringSubmatch(line); len(m) > 1 {
				emit(i, m[1], model.KindFunction)
			}
			if m := r.pyImport.FindStringSubmatch(line); len(m) > 1 {
				result.Imports = append(result.Imports, m[1])
			}
		case "rs":
			if m := r.rsFn.FindStringSubmatch(line); len(m) > 1 {
				emit(i, m[1], model.KindFunction)
			}
			if m := r.rsStruct.FindStringSubmatch(line); len(m) > 1 {
				emit(i, m[1], model.KindClass)
			}
			if m := r.rsEnum.FindStringSubmatch(line); len(m) > 1 {
				emit(i, m[1], model.KindTypeAlias)
			}
			if m := r.rsMod.FindStringSubmatch(line); len(m) > 1 {
				emit(i, m[1], model.KindVariable)
			}
			if m := r.rsUse.FindStringSubmatch(line); len(m) > 1 {
				result.Imports = append(result.Imports, m[1])
			}
		case "js", "ts":
			if m := r.jtsClass.FindStringSubmatch(line); len(m) > 1 {
				emit(i, m[1], model.KindClass)
			}
			if langKey == "ts" {
				if m := r.jtsInterface.FindStringSubmatch(line); len(m) > 1 {
					emit(i, m[1], model.KindInterface)
				}
			}
			if m := r.jtsFunc.FindStringSubmatch(line); len(m) > 1 {
				emit(i, m[1], model.KindFunction)
			}
			if m := r.jtsArrow.FindStringSubmatch(line); len(m) > 1 {
				emit(i, m[1], model.KindFunction)
			}
			if m := r.jtsImport.FindStringSubmatch(line); len(m) > 1 {
				result.Imports = append(result.Imports, m[1])
			}
		}
	}

	return result, nil
}
