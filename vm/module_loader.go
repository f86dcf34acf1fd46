package vm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/module"

	"github.com/Clinery1/simle-lisp/ast"
)

// SourceLoader is the out-of-scope parser collaborator (§1, §6.1): it
// turns a resolved filesystem path into the parsed AST of a module's
// source. Production hosts wrap a real lexer+parser; tests wrap a fake
// (or a txtar-backed fixture) that returns canned ast.Node trees.
type SourceLoader interface {
	Load(path string) ([]ast.Node, error)
}

// resolveModulePath implements §6.2/§4.8's two-shape lookup: for a module
// named "foo" declared in directory dir, try dir/foo/mod.slp, else
// dir/foo.slp. Each name component is validated with module.CheckPath's
// character rules before any path is touched, rejecting ".."/absolute
// segments the same way an invalid Go import path is rejected, rather
// than a hand-rolled blocklist.
func resolveModulePath(dir, name string) (string, error) {
	if err := module.CheckPath(strings.ToLower(sanitizeForModCheck(name))); err != nil {
		return "", fmt.Errorf("invalid module name %q: %w", name, err)
	}
	nested := filepath.Join(dir, name, "mod.slp")
	if fileExists(nested) {
		return nested, nil
	}
	flat := filepath.Join(dir, name+".slp")
	return flat, nil
}

// sanitizeForModCheck maps a module name into a well-formed single-element
// Go import path so module.CheckPath's structural rules (no "..", no
// leading/trailing slash, no absolute path) can be applied to it; the
// exercise here is purely the rejection of path-traversal-shaped names.
func sanitizeForModCheck(name string) string {
	return "example.com/" + name
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
