package service

import (
	"context"
	"strings"
	"testing"

	"github.com/nightdesk/nightdesk/internal/domain/entity"
)

func TestPromptOverrideWinsOverEverything(t *testing.T) {
	profiles := &fakeProfiles{
		ai:   entity.AIProfile{SystemPrompt: "configured prompt", Name: "Night"},
		user: entity.UserProfile{Name: "Dana"},
	}
	b := NewPromptBuilder(profiles)

	got, err := b.Build(context.Background(), &entity.Contact{Phone: "111", DisplayName: "Alice"}, false, "override prompt")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "override prompt") {
		t.Error("override prompt missing")
	}
	if strings.Contains(got, "configured prompt") {
		t.Error("configured system prompt should be shadowed by override")
	}
}

func TestPromptCustomSystemPromptCarriesIdentity(t *testing.T) {
	profiles := &fakeProfiles{
		ai: entity.AIProfile{SystemPrompt: "act naturally", Name: "Night", Role: "assistant"},
	}
	b := NewPromptBuilder(profiles)

	got, err := b.Build(context.Background(), &entity.Contact{Phone: "111", DisplayName: "Alice"}, false, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "act naturally") {
		t.Error("custom system prompt missing")
	}
	if !strings.Contains(got, "Your name: Night") {
		t.Error("identity block missing alongside custom prompt")
	}
}

func TestPromptFallsBackToDefaultTemplate(t *testing.T) {
	b := NewPromptBuilder(&fakeProfiles{})

	got, err := b.Build(context.Background(), &entity.Contact{Phone: "111", DisplayName: "Alice"}, false, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "on behalf of the owner") {
		t.Errorf("default representative template missing:\n%s", got)
	}
	if !strings.Contains(got, "You are talking with Alice (111).") {
		t.Error("contact block missing")
	}
}

func TestPromptOwnerVariant(t *testing.T) {
	b := NewPromptBuilder(&fakeProfiles{user: entity.UserProfile{Name: "Dana"}})

	got, err := b.Build(context.Background(), &entity.Contact{Phone: "999"}, true, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "this chat IS the owner") {
		t.Error("owner template missing")
	}
	if !strings.Contains(got, "You are talking with the owner.") {
		t.Error("owner contact block missing")
	}
}

func TestPromptInjectsIdentityDiscoveryForSuspiciousContact(t *testing.T) {
	b := NewPromptBuilder(&fakeProfiles{})

	unverified := &entity.Contact{Phone: "111", DisplayName: "iPhone"}
	got, err := b.Build(context.Background(), unverified, false, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "update_contact_info") {
		t.Error("identity discovery instruction missing for unverified placeholder name")
	}

	verified := &entity.Contact{Phone: "111", DisplayName: "iPhone", ConfirmedName: "Alice", Verified: true, TrustLevel: 5}
	got, err = b.Build(context.Background(), verified, false, "")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "update_contact_info") {
		t.Error("identity discovery instruction leaked for verified contact")
	}
	if !strings.Contains(got, "trust level 5/10") {
		t.Error("verified contact trust level missing")
	}
}

func TestPromptShortResponseConstraint(t *testing.T) {
	b := NewPromptBuilder(&fakeProfiles{ai: entity.AIProfile{ResponseLength: "short"}})

	got, err := b.Build(context.Background(), &entity.Contact{Phone: "111", DisplayName: "Alice"}, false, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, shortResponseConstraint) {
		t.Error("short response constraint missing")
	}
}

func TestPromptIncludesUserProfileAndTime(t *testing.T) {
	b := NewPromptBuilder(&fakeProfiles{
		user: entity.UserProfile{Name: "Dana", Occupation: "surgeon", Availability: "weekdays after 19:00"},
	})

	got, err := b.Build(context.Background(), &entity.Contact{Phone: "111", DisplayName: "Alice"}, false, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Owner: Dana", "Occupation: surgeon", "Usual availability: weekdays after 19:00", "Current time:"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
