package core

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// Only the engine facade opens durable stores. Adapters and domain code must
// depend on domain.PersistentStore instead of a concrete backend.
func TestOnlyCoreImportsPersistenceBackends(t *testing.T) {
	const backendPrefix = "govcore/internal/infra/persistence"
	allowed := []string{
		"govcore/internal/core",
		backendPrefix,
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, "govcore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	var violations []string
	for _, pkg := range pkgs {
		if isAllowedImporter(pkg.PkgPath, allowed) {
			continue
		}
		for importPath := range pkg.Imports {
			if importPath == backendPrefix || strings.HasPrefix(importPath, backendPrefix+"/") {
				violations = append(violations, pkg.PkgPath+" imports "+importPath)
			}
		}
	}
	sort.Strings(violations)
	for _, violation := range violations {
		t.Errorf("forbidden persistence import: %s", violation)
	}
}

func isAllowedImporter(pkgPath string, allowed []string) bool {
	for _, prefix := range allowed {
		if pkgPath == prefix || strings.HasPrefix(pkgPath, prefix+"/") {
			return true
		}
	}
	return false
}
