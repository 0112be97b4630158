package main

import "testing"

func TestMatchOneGlob_TrailingDoubleStarMatchesSubtree(t *testing.T) {
	if !matchOneGlob(".git/objects/ab", ".git/**") {
		t.Fatal("expected .git/** to match a path under .git")
	}
	if !matchOneGlob(".git", ".git/**") {
		t.Fatal("expected .git/** to match .git itself")
	}
	if matchOneGlob("src/gitignore", ".git/**") {
		t.Fatal("expected .git/** not to match an unrelated path")
	}
}

func TestMatchOneGlob_LeadingDoubleStarMatchesAnyDepth(t *testing.T) {
	if !matchOneGlob("a/b/node_modules", "**/node_modules") {
		t.Fatal("expected **/node_modules to match at any depth")
	}
	if !matchOneGlob("node_modules", "**/node_modules") {
		t.Fatal("expected **/node_modules to match at the root")
	}
}

func TestIgnored_UsesPathRelativeToRoot(t *testing.T) {
	root := "/workspace"
	globs := []string{".git/**", "node_modules/**"}

	if !ignored("/workspace/.git/HEAD", root, globs) {
		t.Fatal("expected .git/HEAD to be ignored")
	}
	if ignored("/workspace/main.go", root, globs) {
		t.Fatal("expected main.go not to be ignored")
	}
}
