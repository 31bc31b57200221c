package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "archive@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "archive@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestUnconfiguredServiceRefusesToSend(t *testing.T) {
	svc := NewService(Config{})
	err := svc.SendSubmissionNotice("sam@example.com", SubmissionData{ProfileName: "Ada"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSubmissionNoticeIsDelivered(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "archive@example.com", FromName: "Archive"})
	var gotTo []string
	var gotMsg string
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if addr != "smtp.example.com:587" || from != "archive@example.com" {
			t.Errorf("unexpected addr %q from %q", addr, from)
		}
		gotTo = to
		gotMsg = string(msg)
		return nil
	}

	if err := svc.SendSubmissionNotice("sam@example.com", SubmissionData{StewardName: "Sam", ProfileName: "Ada", ItemCount: 3}); err != nil {
		t.Fatalf("SendSubmissionNotice: %v", err)
	}
	if len(gotTo) != 1 || gotTo[0] != "sam@example.com" {
		t.Fatalf("to = %v", gotTo)
	}
	for _, want := range []string{"Subject: Ada is ready for review", "From: Archive <archive@example.com>", "3 contributions", "Hi Sam"} {
		if !strings.Contains(gotMsg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestRenderDecisionTemplate(t *testing.T) {
	html, err := renderTemplate(decisionTemplate, DecisionData{
		AppName:      "Profile Archive",
		OwnerName:    "Ada",
		ProfileName:  "Ada Lovelace",
		Decision:     "needs changes",
		ReviewerNote: "Please crop the second photo <3",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if !strings.Contains(html, "needs changes") {
		t.Error("template should contain the decision")
	}
	if !strings.Contains(html, "Please crop the second photo &lt;3") {
		t.Error("template should contain the escaped reviewer note")
	}
}

func TestSingularItemCount(t *testing.T) {
	html, err := renderTemplate(submissionTemplate, SubmissionData{ProfileName: "Ada", ItemCount: 1})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if !strings.Contains(html, "1 contribution.") {
		t.Error("expected singular contribution wording")
	}
}
