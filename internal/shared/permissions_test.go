package shared

import (
	"reflect"
	"testing"
)

func TestNewPermissionSetNormalizes(t *testing.T) {
	set := NewPermissionSet(" Content.Read ", "KEYS.ISSUE", "", "content.read")
	if len(set) != 2 {
		t.Fatalf("expected 2 members, got %d", len(set))
	}
	if !set.Has("content.read") || !set.Has("keys.issue") {
		t.Fatalf("normalized members missing: %v", set.Names())
	}
}

func TestContainsAllReportsSortedMissing(t *testing.T) {
	envelope := NewPermissionSet(PermContentRead)
	requested := NewPermissionSet(PermContentRead, PermShareManage, PermGroupsManage)

	ok, missing := envelope.ContainsAll(requested)
	if ok {
		t.Fatal("expected containment failure")
	}
	want := []string{PermGroupsManage, PermShareManage}
	if !reflect.DeepEqual(missing, want) {
		t.Fatalf("missing = %v, want %v", missing, want)
	}

	ok, missing = requested.ContainsAll(envelope)
	if !ok || missing != nil {
		t.Fatalf("expected containment, got missing %v", missing)
	}
}

func TestIntersectAndClone(t *testing.T) {
	a := NewPermissionSet(PermContentRead, PermKeysIssue)
	b := NewPermissionSet(PermKeysIssue, PermAuditView)
	if got := a.Intersect(b); !reflect.DeepEqual(got, []string{PermKeysIssue}) {
		t.Fatalf("Intersect = %v", got)
	}

	clone := a.Clone()
	clone[PermAuditView] = struct{}{}
	if a.Has(PermAuditView) {
		t.Fatal("Clone must be independent of the original")
	}
}

func TestCatalogKnowsBuiltins(t *testing.T) {
	catalog := NewPermissionCatalog()
	for _, name := range []string{
		PermContentRead, PermContentCreate, PermContentComment,
		PermKeysIssue, PermKeysManage, PermGroupsManage,
		PermShareManage, PermAuditView,
	} {
		if !catalog.Known(name) {
			t.Fatalf("catalog missing %s", name)
		}
		if catalog.Describe(name) == "" {
			t.Fatalf("catalog has no description for %s", name)
		}
	}
	if catalog.Known("made.up") {
		t.Fatal("unknown permission reported as known")
	}
	if got := len(catalog.Names()); got != 8 {
		t.Fatalf("expected 8 catalog entries, got %d", got)
	}
}

func TestUseKeyReserved(t *testing.T) {
	reserved := UseKeyReserved()
	if !reserved.Has(PermContentCreate) || !reserved.Has(PermKeysIssue) {
		t.Fatalf("reserved set incomplete: %v", reserved.Names())
	}
	if reserved.Has(PermContentRead) {
		t.Fatal("content.read must be grantable to use keys")
	}
}
