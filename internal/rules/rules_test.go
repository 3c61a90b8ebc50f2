package rules

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeRuleFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadTopics(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "RoleWhitelist.yaml", "guild_staff_roles: [Admiral, Moderator]\nguild_trusted_roles: [Veteran]\n")
	writeRuleFile(t, dir, "UserWhitelist.yaml", "whitelisted_users: [MeeRats]\n")
	writeRuleFile(t, dir, "blockedFormats.yaml", "blocked_patterns:\n  phishing:\n    regex: spam-site\n  invites:\n    regex: discord\\.gg/\nblocked_domains: [bad.example]\n")

	store := NewStore(dir, zap.NewNop())
	if err := store.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	snap := store.Snapshot()
	if len(snap.Patterns) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(snap.Patterns))
	}
	if snap.Patterns[0].Name != "phishing" || snap.Patterns[1].Name != "invites" {
		t.Fatalf("pattern order not preserved: %+v", snap.Patterns)
	}
	if _, ok := snap.BlockedDomains["bad.example"]; !ok {
		t.Fatalf("expected blocked domain")
	}
}

func TestLoadSkipsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "RoleWhitelist.yaml", "guild_staff_roles: [Moderator]\nguild_trusted_roles: []\n")
	writeRuleFile(t, dir, "blockedFormats.yaml", "blocked_patterns: [not, a, mapping\n")

	store := NewStore(dir, zap.NewNop())
	if err := store.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	snap := store.Snapshot()
	if len(snap.Patterns) != 0 {
		t.Fatalf("expected malformed file to be skipped")
	}
	if !snap.Whitelist.IsStaff("anyone", []string{"moderator"}) {
		t.Fatalf("expected other topics to still load")
	}
}

func TestReloadReplacesSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "UserWhitelist.yaml", "whitelisted_users: [alice]\n")

	store := NewStore(dir, zap.NewNop())
	if err := store.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !store.Snapshot().Whitelist.IsLoggingExempt("Alice", nil) {
		t.Fatalf("expected alice exempt")
	}

	writeRuleFile(t, dir, "UserWhitelist.yaml", "whitelisted_users: [bob]\n")
	if err := store.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	snap := store.Snapshot()
	if snap.Whitelist.IsLoggingExempt("Alice", nil) {
		t.Fatalf("expected alice dropped after reload")
	}
	if !snap.Whitelist.IsLoggingExempt("BOB", nil) {
		t.Fatalf("expected bob exempt")
	}
}

func TestWhitelistPredicates(t *testing.T) {
	whitelist := NewWhitelist([]string{"Admiral"}, []string{"Veteran"}, []string{"MeeRats"})

	if !whitelist.IsLoggingExempt("someone", []string{"ADMIRAL"}) {
		t.Fatalf("staff role should be logging exempt")
	}
	if !whitelist.IsLoggingExempt("someone", []string{"veteran"}) {
		t.Fatalf("trusted role should be logging exempt")
	}
	if !whitelist.IsLoggingExempt("meerats", nil) {
		t.Fatalf("whitelisted user should be logging exempt")
	}
	if whitelist.IsLoggingExempt("someone", []string{"recruit"}) {
		t.Fatalf("unlisted role should not be exempt")
	}

	if !whitelist.IsStaff("someone", []string{"Admiral"}) {
		t.Fatalf("staff role should grant staff")
	}
	if whitelist.IsStaff("someone", []string{"Veteran"}) {
		t.Fatalf("trusted role should not grant staff")
	}
	if !whitelist.IsStaff("MEERATS", nil) {
		t.Fatalf("whitelisted user should grant staff")
	}
}
