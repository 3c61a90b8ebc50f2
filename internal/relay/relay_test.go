package relay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"astromech/internal/audit"
	"astromech/internal/rules"
	"astromech/internal/storage"

	"go.uber.org/zap"
)

type sentMessage struct {
	channelID string
	content   string
}

type webhookSend struct {
	id      string
	name    string
	content string
}

type fakePlatform struct {
	channels        map[string]Channel
	manageWebhooks  bool
	sent            []sentMessage
	created         []string
	deleted         []string
	webhookSends    []webhookSend
	failCreate      bool
	failSend        bool
	history         []HistoryMessage
	deletedMessages []string
	failDeletes     map[string]bool
	suppressed      *Suppressed
	markedAtDelete  map[string]bool
}

func (f *fakePlatform) ChannelByName(guildID, name string) (Channel, bool) {
	ch, ok := f.channels[name]
	return ch, ok
}

func (f *fakePlatform) CanManageWebhooks(channelID string) bool { return f.manageWebhooks }

func (f *fakePlatform) SendMessage(ctx context.Context, channelID, content string) error {
	f.sent = append(f.sent, sentMessage{channelID: channelID, content: content})
	return nil
}

func (f *fakePlatform) CreateWebhook(ctx context.Context, channelID, name string) (string, string, error) {
	if f.failCreate {
		return "", "", errors.New("forbidden")
	}
	id := fmt.Sprintf("wh-%d", len(f.created)+1)
	f.created = append(f.created, id)
	return id, "token", nil
}

func (f *fakePlatform) SendWebhook(ctx context.Context, id, token, name, avatarURL, content string) error {
	if f.failSend {
		return errors.New("send failed")
	}
	f.webhookSends = append(f.webhookSends, webhookSend{id: id, name: name, content: content})
	return nil
}

func (f *fakePlatform) DeleteWebhook(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakePlatform) MessageHistory(ctx context.Context, channelID string, limit int) ([]HistoryMessage, error) {
	if limit < len(f.history) {
		return f.history[:limit], nil
	}
	return f.history, nil
}

func (f *fakePlatform) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if f.failDeletes[messageID] {
		return errors.New("delete failed")
	}
	if f.suppressed != nil {
		f.markedAtDelete[messageID] = f.suppressedHas(messageID)
	}
	f.deletedMessages = append(f.deletedMessages, messageID)
	return nil
}

// suppressedHas probes membership without leaving the set changed.
func (f *fakePlatform) suppressedHas(messageID string) bool {
	if !f.suppressed.Consume(messageID) {
		return false
	}
	f.suppressed.Mark(messageID)
	return true
}

func writeRules(t *testing.T, files map[string]string) *rules.Store {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	store := rules.NewStore(dir, zap.NewNop())
	if err := store.Load(); err != nil {
		t.Fatalf("load rules: %v", err)
	}
	return store
}

func newTestPipeline(t *testing.T, platform *fakePlatform, ruleFiles map[string]string) *Pipeline {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	auditLogger := audit.NewLogger(store, zap.NewNop())

	suppressed := NewSuppressed()
	platform.suppressed = suppressed
	platform.markedAtDelete = make(map[string]bool)

	pipeline := NewPipeline(platform, writeRules(t, ruleFiles), suppressed, auditLogger, zap.NewNop(), "logs", time.Second)
	pipeline.SetSelf("bot-id")
	return pipeline
}

func aliceDeletion() Deletion {
	return Deletion{
		MessageID:      "m1",
		GuildID:        "g1",
		ChannelID:      "c-general",
		ChannelName:    "general",
		Content:        "hello",
		AuthorID:       "u-alice",
		AuthorUsername: "alice#0001",
		AuthorDisplay:  "Alice",
	}
}

func TestSuppressionConsumedOnce(t *testing.T) {
	platform := &fakePlatform{manageWebhooks: true, channels: map[string]Channel{"general": {ID: "c-general", Name: "general"}}}
	pipeline := newTestPipeline(t, platform, nil)

	d := aliceDeletion()
	pipeline.Suppressed().Mark(d.MessageID)

	if outcome := pipeline.HandleDelete(context.Background(), d); outcome != OutcomeSuppressed {
		t.Fatalf("expected suppressed, got %d", outcome)
	}
	if len(platform.sent) != 0 || len(platform.created) != 0 {
		t.Fatalf("suppressed deletion must not log or re-post")
	}
	if pipeline.Suppressed().Len() != 0 {
		t.Fatalf("suppression entry must be consumed")
	}

	// Same id again: the mark is gone, so the relay proceeds.
	if outcome := pipeline.HandleDelete(context.Background(), d); outcome != OutcomeRelayed {
		t.Fatalf("expected relay on second delete, got %d", outcome)
	}
}

func TestWhitelistedAuthorExempt(t *testing.T) {
	platform := &fakePlatform{manageWebhooks: true, channels: map[string]Channel{
		"logs":    {ID: "c-logs", Name: "logs"},
		"general": {ID: "c-general", Name: "general"},
	}}
	pipeline := newTestPipeline(t, platform, map[string]string{
		"UserWhitelist.yaml": "whitelisted_users: [MeeRats]\n",
		"RoleWhitelist.yaml": "guild_staff_roles: [Moderator]\nguild_trusted_roles: [Veteran]\n",
	})

	cases := []Deletion{
		{MessageID: "m1", GuildID: "g1", ChannelID: "c-general", ChannelName: "general", AuthorID: "u1", AuthorUsername: "meerats", Content: "x"},
		{MessageID: "m2", GuildID: "g1", ChannelID: "c-general", ChannelName: "general", AuthorID: "u2", AuthorUsername: "someone", AuthorRoles: []string{"MODERATOR"}, Content: "x"},
		{MessageID: "m3", GuildID: "g1", ChannelID: "c-general", ChannelName: "general", AuthorID: "u3", AuthorUsername: "someone", AuthorRoles: []string{"veteran"}, Content: "x"},
	}
	for _, d := range cases {
		if outcome := pipeline.HandleDelete(context.Background(), d); outcome != OutcomeExempt {
			t.Fatalf("expected exempt for %s, got %d", d.MessageID, outcome)
		}
	}
	if len(platform.sent) != 0 || len(platform.created) != 0 {
		t.Fatalf("exempt deletions must produce no writes")
	}
}

func TestSelfDeletionExempt(t *testing.T) {
	platform := &fakePlatform{manageWebhooks: true}
	pipeline := newTestPipeline(t, platform, nil)

	d := aliceDeletion()
	d.AuthorID = "bot-id"
	if outcome := pipeline.HandleDelete(context.Background(), d); outcome != OutcomeExempt {
		t.Fatalf("expected exempt for the bot's own message, got %d", outcome)
	}
}

func TestRelayWithCapability(t *testing.T) {
	platform := &fakePlatform{manageWebhooks: true, channels: map[string]Channel{
		"logs":    {ID: "c-logs", Name: "logs"},
		"general": {ID: "c-general", Name: "general"},
	}}
	pipeline := newTestPipeline(t, platform, nil)

	if outcome := pipeline.HandleDelete(context.Background(), aliceDeletion()); outcome != OutcomeRelayed {
		t.Fatalf("expected relay, got %d", outcome)
	}

	if len(platform.sent) != 1 || platform.sent[0].channelID != "c-logs" {
		t.Fatalf("expected one logs-channel write, got %+v", platform.sent)
	}
	if platform.sent[0].content != `<@u-alice>: "hello"` {
		t.Fatalf("unexpected logs line: %s", platform.sent[0].content)
	}
	if len(platform.webhookSends) != 1 {
		t.Fatalf("expected one webhook send, got %d", len(platform.webhookSends))
	}
	send := platform.webhookSends[0]
	if send.name != "alice#0001 (Alice)" || send.content != "hello" {
		t.Fatalf("unexpected webhook send: %+v", send)
	}
	if len(platform.deleted) != 1 || platform.deleted[0] != platform.created[0] {
		t.Fatalf("webhook must be torn down after use")
	}
}

func TestIdentityName(t *testing.T) {
	if name := IdentityName("alice#0001", "Alice"); name != "alice#0001 (Alice)" {
		t.Fatalf("unexpected identity: %s", name)
	}
	if name := IdentityName("alice#0001", "alice#0001"); name != "alice#0001" {
		t.Fatalf("matching display must use account name alone, got %s", name)
	}
}

func TestFallbackWithoutCapability(t *testing.T) {
	platform := &fakePlatform{manageWebhooks: false, channels: map[string]Channel{
		"logs": {ID: "c-logs", Name: "logs"},
	}}
	pipeline := newTestPipeline(t, platform, nil)

	if outcome := pipeline.HandleDelete(context.Background(), aliceDeletion()); outcome != OutcomeFallback {
		t.Fatalf("expected fallback, got %d", outcome)
	}
	if len(platform.sent) != 1 || platform.sent[0].channelID != "c-general" {
		t.Fatalf("fallback must post into the original channel only, got %+v", platform.sent)
	}
	if platform.sent[0].content != `<<@u-alice>> "hello"` {
		t.Fatalf("unexpected fallback line: %s", platform.sent[0].content)
	}
	if len(platform.created) != 0 {
		t.Fatalf("fallback must not create webhooks")
	}
}

func TestTeardownOnSendFailure(t *testing.T) {
	platform := &fakePlatform{manageWebhooks: true, failSend: true, channels: map[string]Channel{
		"general": {ID: "c-general", Name: "general"},
	}}
	pipeline := newTestPipeline(t, platform, nil)

	if outcome := pipeline.HandleDelete(context.Background(), aliceDeletion()); outcome != OutcomeFailed {
		t.Fatalf("expected failure, got %d", outcome)
	}
	if len(platform.created) != 1 || len(platform.deleted) != 1 {
		t.Fatalf("webhook must be deleted even when the send fails")
	}
	if len(platform.sent) != 0 {
		t.Fatalf("webhook failure must not fall back to a plain message")
	}
}

func TestWipeRegistersBeforeDelete(t *testing.T) {
	platform := &fakePlatform{manageWebhooks: true, history: []HistoryMessage{
		{ID: "m1", AuthorID: "u1"},
		{ID: "m2", AuthorID: "u2"},
		{ID: "m3", AuthorID: "u1"},
		{ID: "m4", AuthorID: "u3"},
		{ID: "m5", AuthorID: "u1"},
	}}
	pipeline := newTestPipeline(t, platform, nil)

	deleted, err := pipeline.Wipe(context.Background(), "g1", "c1", "u1", 50)
	if err != nil {
		t.Fatalf("wipe: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deletions, got %d", deleted)
	}
	for _, id := range []string{"m1", "m3", "m5"} {
		if !platform.markedAtDelete[id] {
			t.Fatalf("message %s was not marked before its delete", id)
		}
	}

	// The matching delete events are swallowed without any writes.
	for _, id := range []string{"m1", "m3", "m5"} {
		d := Deletion{MessageID: id, GuildID: "g1", ChannelID: "c1", ChannelName: "general", AuthorID: "u1", AuthorUsername: "u1", Content: "x"}
		if outcome := pipeline.HandleDelete(context.Background(), d); outcome != OutcomeSuppressed {
			t.Fatalf("expected suppression for %s, got %d", id, outcome)
		}
	}
	if len(platform.sent) != 0 || len(platform.created) != 0 {
		t.Fatalf("wiped deletions must produce zero log writes")
	}
}

func TestWipeUnmarksFailedDelete(t *testing.T) {
	platform := &fakePlatform{history: []HistoryMessage{
		{ID: "m1", AuthorID: "u1"},
		{ID: "m2", AuthorID: "u1"},
	}, failDeletes: map[string]bool{"m2": true}}
	pipeline := newTestPipeline(t, platform, nil)

	deleted, err := pipeline.Wipe(context.Background(), "g1", "c1", "u1", 50)
	if err != nil {
		t.Fatalf("wipe: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", deleted)
	}
	if pipeline.Suppressed().Consume("m2") {
		t.Fatalf("failed delete must not stay marked")
	}
	if !pipeline.Suppressed().Consume("m1") {
		t.Fatalf("successful delete must stay marked")
	}
}
