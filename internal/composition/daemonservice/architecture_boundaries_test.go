package daemonservice

import (
	"fmt"
	"go/parser"
	"go/token"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

type boundaryViolation struct {
	file       string
	line       int
	importPath string
	reason     string
}

func TestArchitecture_DaemonServiceImportsOnlyAllowedPackages(t *testing.T) {
	violations := collectDaemonServiceImportViolations(t)
	if len(violations) == 0 {
		return
	}

	var b strings.Builder
	b.WriteString("daemonservice import boundary violations:\n")
	for _, v := range violations {
		b.WriteString(fmt.Sprintf("- %s:%d import %q (%s)\n", v.file, v.line, v.importPath, v.reason))
	}
	t.Fatal(b.String())
}

func TestBoundaryViolationReason(t *testing.T) {
	tests := []struct {
		importPath string
		expected   string
	}{
		{`umbra-chat/go-backend/internal/adapters/rpc`, "adapter-import"},
		{`umbra-chat/go-backend/internal/domains/delivery/usecase`, "domain-subpackage-import"},
		{`umbra-chat/go-backend/internal/domains/identity/policy`, ""},
		{`umbra-chat/go-backend/internal/domains/delivery`, ""},
		{`umbra-chat/go-backend/internal/domains/contracts`, ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.importPath, func(t *testing.T) {
			got := daemonServiceBoundaryReason(tt.importPath)
			if got != tt.expected {
				t.Fatalf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func collectDaemonServiceImportViolations(t *testing.T) []boundaryViolation {
	t.Helper()

	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to resolve current test file path")
	}
	dir := filepath.Dir(currentFile)
	pattern := filepath.Join(dir, "*.go")
	files, err := filepath.Glob(pattern)
	if err != nil {
		t.Fatalf("glob files: %v", err)
	}

	fset := token.NewFileSet()
	var violations []boundaryViolation
	for _, file := range files {
		if strings.HasSuffix(file, "_test.go") {
			continue
		}
		parsed, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("parse file %s: %v", file, err)
		}
		for _, imp := range parsed.Imports {
			importPath := strings.Trim(imp.Path.Value, `"`)
			reason := daemonServiceBoundaryReason(importPath)
			if reason == "" {
				continue
			}
			pos := fset.Position(imp.Path.Pos())
			violations = append(violations, boundaryViolation{
				file:       filepath.Base(file),
				line:       pos.Line,
				importPath: importPath,
				reason:     reason,
			})
		}
	}
	return violations
}

// daemonServiceBoundaryReason classifies imports the composition layer
// must not take. The RPC adapter sits above this package, and domain
// subpackages are reached through their root re-exports; only the pure
// policy helpers are fair game directly.
func daemonServiceBoundaryReason(importPath string) string {
	if hasImportPrefix(importPath, "umbra-chat/go-backend/internal/adapters") {
		return "adapter-import"
	}
	if hasImportPrefix(importPath, "umbra-chat/go-backend/internal/domains") {
		parts := strings.Split(importPath, "/")
		if len(parts) > 5 && parts[len(parts)-1] != "policy" {
			return "domain-subpackage-import"
		}
		return ""
	}
	return ""
}

func hasImportPrefix(importPath, pkg string) bool {
	if importPath == pkg {
		return true
	}
	return strings.HasPrefix(importPath, pkg+"/")
}
