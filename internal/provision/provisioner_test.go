package provision

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"chanmirror/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeCreator struct {
	created     []domain.ChannelSpec
	deleted     []string
	perms       []domain.PermissionOverwrite
	endpoints   int
	failChannel bool
	failHook    bool
	failPerm    bool
}

func (f *fakeCreator) CreateChannel(ctx context.Context, guildID string, spec domain.ChannelSpec) (*domain.DestinationChannel, error) {
	if f.failChannel {
		return nil, errors.New("missing permissions")
	}
	f.created = append(f.created, spec)
	return &domain.DestinationChannel{ID: "d" + spec.Name, Name: spec.Name, GuildID: guildID}, nil
}

func (f *fakeCreator) SetPermission(ctx context.Context, channelID string, ow domain.PermissionOverwrite) error {
	if f.failPerm {
		return errors.New("forbidden")
	}
	f.perms = append(f.perms, ow)
	return nil
}

func (f *fakeCreator) DeleteChannel(ctx context.Context, channelID string) error {
	f.deleted = append(f.deleted, channelID)
	return nil
}

func (f *fakeCreator) CreateEndpoint(ctx context.Context, channelID, name string) (*domain.DeliveryEndpoint, error) {
	if f.failHook {
		return nil, errors.New("max webhooks reached")
	}
	f.endpoints++
	return &domain.DeliveryEndpoint{ID: "w-" + channelID, Name: name, URL: "https://hooks.example/" + channelID}, nil
}

func source() domain.SourceChannel {
	return domain.SourceChannel{
		ID: "s1", Name: "General Chat", NSFW: true, RateLimitPerUser: 5,
		GuildID: "g-src", GuildName: "Origin",
		Overwrites: []domain.PermissionOverwrite{
			{ID: "g-src", Kind: domain.OverwriteRole, Deny: 1024},
			{ID: "role-x", Kind: domain.OverwriteRole, Allow: 2048},
			{ID: "user-1", Kind: domain.OverwriteMember, Allow: 1024},
		},
	}
}

func TestProvision_PrefixNaming(t *testing.T) {
	fc := &fakeCreator{}
	p := New(Config{Creator: fc, Logger: testLogger(), Prefix: "MIRROR", EndpointName: "MIRROR"})

	pair, err := p.Provision(context.Background(), "g-dst", 2, source())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pair.Channel.Name != "mirror-3" {
		t.Fatalf("expected mirror-3, got %q", pair.Channel.Name)
	}
	if pair.Channel.SourceID != "s1" || pair.Endpoint.ChannelID != pair.Channel.ID {
		t.Fatalf("pair not linked: %+v", pair)
	}
	spec := fc.created[0]
	if !spec.NSFW || spec.RateLimitPerUser != 5 {
		t.Fatalf("attributes not propagated: %+v", spec)
	}
	if !strings.Contains(spec.Topic, "General Chat") || !strings.Contains(spec.Topic, "Origin") {
		t.Fatalf("topic missing provenance: %q", spec.Topic)
	}
	if fc.endpoints != 1 {
		t.Fatalf("expected exactly one endpoint, got %d", fc.endpoints)
	}
}

func TestProvision_SourceNaming(t *testing.T) {
	p := New(Config{Creator: &fakeCreator{}, Logger: testLogger(), Naming: NamingSource})
	pair, err := p.Provision(context.Background(), "g-dst", 0, source())
	if err != nil {
		t.Fatal(err)
	}
	if pair.Channel.Name != "general-chat" {
		t.Fatalf("expected general-chat, got %q", pair.Channel.Name)
	}
}

func TestProvision_CopiesMappableOverwrites(t *testing.T) {
	fc := &fakeCreator{}
	p := New(Config{Creator: fc, Logger: testLogger(), CopyPerms: true})
	if _, err := p.Provision(context.Background(), "g-dst", 0, source()); err != nil {
		t.Fatal(err)
	}
	if len(fc.perms) != 2 {
		t.Fatalf("expected 2 overwrites copied, got %d", len(fc.perms))
	}
	if fc.perms[0].ID != "g-dst" || fc.perms[0].Deny != 1024 {
		t.Fatalf("@everyone not remapped: %+v", fc.perms[0])
	}
	if fc.perms[1].ID != "user-1" {
		t.Fatalf("member overwrite not copied: %+v", fc.perms[1])
	}
}

func TestProvision_PermissionFailureIsNotFatal(t *testing.T) {
	fc := &fakeCreator{failPerm: true}
	p := New(Config{Creator: fc, Logger: testLogger(), CopyPerms: true})
	if _, err := p.Provision(context.Background(), "g-dst", 0, source()); err != nil {
		t.Fatalf("permission failures should be logged only: %v", err)
	}
}

func TestProvision_ChannelFailure(t *testing.T) {
	p := New(Config{Creator: &fakeCreator{failChannel: true}, Logger: testLogger()})
	pair, err := p.Provision(context.Background(), "g-dst", 0, source())
	var pe *domain.ProvisioningError
	if pair != nil || !errors.As(err, &pe) || pe.Stage != "channel" {
		t.Fatalf("expected channel ProvisioningError, got pair=%v err=%v", pair, err)
	}
}

func TestProvision_EndpointFailureCleansUp(t *testing.T) {
	fc := &fakeCreator{failHook: true}
	p := New(Config{Creator: fc, Logger: testLogger()})
	pair, err := p.Provision(context.Background(), "g-dst", 0, source())
	var pe *domain.ProvisioningError
	if pair != nil || !errors.As(err, &pe) || pe.Stage != "endpoint" {
		t.Fatalf("expected endpoint ProvisioningError, got pair=%v err=%v", pair, err)
	}
	if len(fc.deleted) != 1 || fc.deleted[0] != "dmirror-1" {
		t.Fatalf("expected orphan channel deleted, got %v", fc.deleted)
	}
}

func TestChannelName_TruncatesByCharacter(t *testing.T) {
	p := New(Config{Creator: &fakeCreator{}, Logger: testLogger(), Naming: NamingSource})
	name := p.ChannelName(0, domain.SourceChannel{ID: "1", Name: "a" + strings.Repeat("é", 120)})

	if !utf8.ValidString(name) {
		t.Fatalf("name is not valid UTF-8: %q", name)
	}
	if n := utf8.RuneCountInString(name); n != maxChannelName {
		t.Fatalf("expected %d characters, got %d", maxChannelName, n)
	}
	if !strings.HasSuffix(name, "é") {
		t.Fatalf("expected name to end on a whole character, got %q", name)
	}
}
