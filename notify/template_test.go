package notify

import (
	"context"
	"strings"
	"testing"
)

func TestRegistryRendersDefaults(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	subject, body, err := r.Render(KindRegistration, map[string]string{
		"token":    "tok-123",
		"username": "alice",
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if subject == "" {
		t.Fatal("empty subject")
	}
	if !strings.Contains(body, "tok-123") || !strings.Contains(body, "alice") {
		t.Fatalf("vars missing from body: %q", body)
	}
}

func TestRegistryEveryKindHasATemplate(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	kinds := []Kind{KindRegistration, KindPasswordReset, KindAccountFrozen, KindTempPassword, KindPasswordChanged}
	vars := map[string]string{"token": "t", "username": "u", "password": "p"}
	for _, kind := range kinds {
		if _, _, err := r.Render(kind, vars); err != nil {
			t.Fatalf("Render(%s) failed: %v", kind, err)
		}
	}
}

func TestRegistryRegisterOverrides(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if err := r.Register(KindRegistration, Template{
		Subject: "Welcome aboard",
		Body:    "Code: {{.token}}",
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	subject, body, err := r.Render(KindRegistration, map[string]string{"token": "xyz"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if subject != "Welcome aboard" || body != "Code: xyz" {
		t.Fatalf("override not applied: %q / %q", subject, body)
	}
}

func TestRegistryRejectsBadTemplate(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if err := r.Register(Kind("broken"), Template{Body: "{{.unclosed"}); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestRegistryUnknownKind(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if _, _, err := r.Render(Kind("nope"), nil); err == nil {
		t.Fatal("expected an unknown-template error")
	}
}

func TestRecorderCapturesSends(t *testing.T) {
	rec := NewRecorder()

	if err := rec.Send(context.Background(), KindPasswordReset, "alice@example.com", map[string]string{"token": "abc"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	sent := rec.Sent()
	if len(sent) != 1 {
		t.Fatalf("recorded %d messages, want 1", len(sent))
	}
	if sent[0].Kind != KindPasswordReset || sent[0].Recipient != "alice@example.com" || sent[0].Vars["token"] != "abc" {
		t.Fatalf("unexpected record: %+v", sent[0])
	}
}
