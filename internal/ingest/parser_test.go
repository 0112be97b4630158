package ingest

import (
	"testing"

	"memento/internal/model"
)

func TestGoParser_ParseFunctionsAndTypes(t *testing.T) {
	src := []byte(`package sample

import (
	"fmt"
	"strings"
)

type Widget struct {
	Name string
}

func (w *Widget) Describe() string {
	return fmt.Sprintf("widget:%s", w.Name)
}

func NewWidget(name string) *Widget {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	return &Widget{Name: name}
}
`)

	p := NewGoParser()
	result, err := p.Parse("sample/widget.go", src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(result.Imports) != 2 {
		t.Fatalf("expected 2 imports, got %d", len(result.Imports))
	}

	var foundStruct, foundMethod, foundFunc bool
	for _, e := range result.Symbols {
		switch e.Kind {
		case model.KindClass:
			foundStruct = true
		case model.KindMethod:
			foundMethod = true
		case model.KindFunction:
			foundFunc = true
		}
	}
	if !foundStruct || !foundMethod || !foundFunc {
		t.Fatalf("expected struct, method and function symbols; got struct=%v method=%v func=%v", foundStruct, foundMethod, foundFunc)
	}
}

func TestGoParser_UnexportedVisibility(t *testing.T) {
	src := []byte(`package sample

func helper() {}

func Exported() {}
`)
	p := NewGoParser()
	result, err := p.Parse("sample/helper.go", src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	for _, e := range result.Symbols {
		data, ok := e.Data.(model.FunctionData)
		if !ok {
			continue
		}
		if data.Name == "helper" && data.Visibility != model.VisibilityPrivate {
			t.Errorf("expected helper to be private, got %v", data.Visibility)
		}
		if data.Name == "Exported" && data.Visibility != model.VisibilityPublic {
			t.Errorf("expected Exported to be public, got %v", data.Visibility)
		}
	}
}

func TestGoParser_SyntaxErrorIsNonFatal(t *testing.T) {
	p := NewParser()
	result, err := p.Parse("broken.go", []byte(`package sample

func broken( {
`))
	if err != nil {
		t.Fatalf("Parse should return nil error for a bad file, got: %v", err)
	}
	if len(result.ParseErrors) == 0 {
		t.Fatal("expected a non-fatal ParseError to be recorded")
	}
}

func TestRegexParser_PythonFallback(t *testing.T) {
	src := []byte(`import os

class Greeter:
    def __init__(self):
        pass

    def _internal(self):
        pass

def standalone():
    pass
`)
	r := newRegexParser()
	result, err := r.parse("py", "greeter.py", src)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	var foundClass, foundFunc, foundImport bool
	for _, e := range result.Symbols {
		if e.Kind == model.KindClass {
			foundClass = true
		}
		if e.Kind == model.KindFunction {
			foundFunc = true
		}
	}
	foundImport = len(result.Imports) > 0
	if !foundClass || !foundFunc || !foundImport {
		t.Fatalf("expected class, function and import; got class=%v func=%v import=%v", foundClass, foundFunc, foundImport)
	}
}

func TestParser_UnsupportedExtensionYieldsEmptyResult(t *testing.T) {
	p := NewParser()
	if p.Supports("notes.txt") {
		t.Fatal("expected .txt to be unsupported")
	}
	result, err := p.Parse("notes.txt", []byte("just text"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Symbols) != 0 {
		t.Fatalf("expected no symbols, got %d", len(result.Symbols))
	}
}
