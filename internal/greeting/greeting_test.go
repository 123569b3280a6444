package greeting

import (
	"strings"
	"testing"
	"time"

	"github.com/rentline/voicebridge/internal/directory"
)

var (
	morning   = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	afternoon = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	evening   = time.Date(2026, 3, 10, 19, 45, 0, 0, time.UTC)
)

func TestBuildGreeting_BranchPriority(t *testing.T) {
	tests := []struct {
		name    string
		cc      directory.CallerContext
		want    string
		wantNot []string
	}{
		{
			name: "scheduled call wins over everything",
			cc: directory.CallerContext{
				Name:             "Jane Doe",
				Stage:            directory.StageOwner,
				HasScheduledCall: true,
				Communications:   map[string]int{"call": 5},
			},
			want: "scheduled",
		},
		{
			name: "owner before returning caller",
			cc: directory.CallerContext{
				Name:           "Sam Park",
				Stage:          directory.StageOwner,
				Communications: map[string]int{"call": 2},
			},
			want: "your property",
		},
		{
			name: "returning caller includes first name",
			cc: directory.CallerContext{
				Name:           "Jane Doe",
				Stage:          "negotiating",
				Communications: map[string]int{"call": 3},
			},
			want:    "Jane, welcome back",
			wantNot: []string{"who I'm speaking with", "How can I help you today"},
		},
		{
			name: "address-aware when no history",
			cc: directory.CallerContext{
				Name:            "Jane Doe",
				PropertyAddress: "12 Oak St",
			},
			want: "12 Oak St",
		},
		{
			name: "generic named",
			cc:   directory.CallerContext{Name: "Jane Doe"},
			want: "Jane! Thanks for calling Rentline",
		},
		{
			name: "anonymous asks for a name",
			cc:   directory.CallerContext{IsNewCaller: true},
			want: "May I ask who I'm speaking with",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Build(tt.cc, afternoon).Greeting
			if !strings.Contains(got, tt.want) {
				t.Errorf("Greeting = %q, want substring %q", got, tt.want)
			}
			for _, not := range tt.wantNot {
				if strings.Contains(got, not) {
					t.Errorf("Greeting = %q contains unwanted %q", got, not)
				}
			}
		})
	}
}

func TestBuildGreeting_Salutation(t *testing.T) {
	cc := directory.CallerContext{Name: "Jane Doe"}

	tests := []struct {
		now  time.Time
		want string
	}{
		{morning, "Good morning"},
		{afternoon, "Good afternoon"},
		{evening, "Good evening"},
	}
	for _, tt := range tests {
		if got := Build(cc, tt.now).Greeting; !strings.HasPrefix(got, tt.want) {
			t.Errorf("Greeting at %v = %q, want prefix %q", tt.now, got, tt.want)
		}
	}
}

func TestBuildInstructions_ContextLines(t *testing.T) {
	cc := directory.CallerContext{
		Name:            "Jane Doe",
		PropertyAddress: "12 Oak St",
		Stage:           "negotiating",
		Notes:           "prefers afternoon calls",
		LastContactAt:   time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		Communications:  map[string]int{"call": 3, "sms": 1},
	}

	got := Build(cc, afternoon).InstructionOverride

	for _, want := range []string{
		"Riley",
		"Jane Doe",
		"12 Oak St",
		`"negotiating"`,
		"3 time(s)",
		"February 1, 2026",
		"prefers afternoon calls",
		"Escalation policy",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("InstructionOverride missing %q:\n%s", want, got)
		}
	}
	if !strings.HasPrefix(got, personaPreamble) {
		t.Error("InstructionOverride does not start with the persona preamble")
	}
	if !strings.HasSuffix(got, policySuffix) {
		t.Error("InstructionOverride does not end with the policy suffix")
	}
}

func TestBuildInstructions_NewCaller(t *testing.T) {
	got := Build(directory.CallerContext{IsNewCaller: true}, morning).InstructionOverride

	if !strings.Contains(got, "not in our directory") {
		t.Errorf("new-caller override missing collection instruction:\n%s", got)
	}
	if strings.Contains(got, "name is") {
		t.Error("new-caller override leaked a name line")
	}
	if !strings.Contains(got, "Escalation policy") {
		t.Error("policy suffix missing for new caller")
	}
}

func TestBuildInstructions_OwnerFraming(t *testing.T) {
	cc := directory.CallerContext{Name: "Sam Park", Stage: directory.StageOwner}

	got := Build(cc, morning).InstructionOverride

	if !strings.Contains(got, "owner-service call") {
		t.Errorf("owner override missing owner framing:\n%s", got)
	}
	if strings.Contains(got, "pipeline") {
		t.Error("owner override carries a lead pipeline line")
	}
}

func TestFirstName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Jane Doe", "Jane"},
		{"Jane", "Jane"},
		{"  Jane  Doe ", "Jane"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := firstName(tt.in); got != tt.want {
			t.Errorf("firstName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
