package main

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/modfile"
)

const redirectDirective = "//go:redirect-from"

// redirect asks for calls to the runtime symbol src to land on the kernel
// function dst instead.
type redirect struct {
	src string
	dst string

	srcVMA uint64
	dstVMA uint64
}

// modulePath returns the module path declared by the go.mod file in root.
func modulePath(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return "", err
	}

	path := modfile.ModulePath(data)
	if path == "" {
		return "", errors.New("go.mod does not declare a module path")
	}
	return path, nil
}

// collectGoFiles lists the non-test Go sources below root.
func collectGoFiles(root string) ([]string, error) {
	var goFiles []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir():
			return nil
		case filepath.Ext(path) != ".go", strings.HasSuffix(path, "_test.go"):
			return nil
		}

		goFiles = append(goFiles, path)
		return nil
	})
	return goFiles, err
}

// findRedirects parses goFiles, given relative to the module root, and
// returns the redirect-from annotations found in function doc comments,
// ordered by source symbol. prefix is the module path.
func findRedirects(prefix string, goFiles []string) ([]*redirect, error) {
	var (
		redirects []*redirect
		fset      = token.NewFileSet()
		seen      = make(map[string]string)
	)

	for _, goFile := range goFiles {
		f, err := parser.ParseFile(fset, goFile, nil, parser.ParseComments)
		if err != nil {
			return nil, err
		}

		pkgPath := prefix + "/" + filepath.ToSlash(filepath.Dir(goFile))
		for _, decl := range f.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Doc == nil || fn.Recv != nil {
				continue
			}

			for _, comment := range fn.Doc.List {
				if !strings.HasPrefix(comment.Text, redirectDirective) {
					continue
				}

				dst := pkgPath + "." + fn.Name.Name
				fields := strings.Fields(comment.Text)
				if len(fields) != 2 || fields[0] != redirectDirective {
					return nil, fmt.Errorf("%s: malformed go:redirect-from syntax for %q", fset.Position(comment.Pos()), dst)
				}
				if prev, dup := seen[fields[1]]; dup {
					return nil, fmt.Errorf("%s: %s is already redirected to %s", fset.Position(comment.Pos()), fields[1], prev)
				}

				seen[fields[1]] = dst
				redirects = append(redirects, &redirect{src: fields[1], dst: dst})
			}
		}
	}

	sort.Slice(redirects, func(i, j int) bool { return redirects[i].src < redirects[j].src })
	return redirects, nil
}
