package chat

import (
	"strings"
	"testing"
)

func TestFormatWithPCName(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		pcName   string
		expected string
	}{
		{
			name:     "adds PC name prefix to plain message",
			message:  "I draw on the stranger.",
			pcName:   "Doc",
			expected: "Doc: I draw on the stranger.",
		},
		{
			name:     "preserves existing speaker prefix",
			message:  "Narrator: The stage pulls out.",
			pcName:   "Doc",
			expected: "Narrator: The stage pulls out.",
		},
		{
			name:     "preserves PC's own name prefix",
			message:  "Doc: I check the saddlebags.",
			pcName:   "Doc",
			expected: "Doc: I check the saddlebags.",
		},
		{
			name:     "preserves different speaker prefix",
			message:  "Bart: Reach for the sky!",
			pcName:   "Wyatt",
			expected: "Bart: Reach for the sky!",
		},
		{
			name:     "preserves colon in sentence (acceptable false positive)",
			message:  "I read the poster: it shows a reward.",
			pcName:   "Holliday",
			expected: "I read the poster: it shows a reward.",
		},
		{
			name:     "handles empty message",
			message:  "",
			pcName:   "Jesse",
			expected: "Jesse: ",
		},
		{
			name:     "handles very long potential speaker name (over 50 chars)",
			message:  "This is a really really really really really long name: message",
			pcName:   "Belle",
			expected: "Belle: This is a really really really really really long name: message",
		},
		{
			name:     "preserves speaker name with spaces",
			message:  "Marshal Dillon: Drop it!",
			pcName:   "Kitty",
			expected: "Marshal Dillon: Drop it!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatWithPCName(tt.message, tt.pcName)
			if result != tt.expected {
				t.Errorf("FormatWithPCName(%q, %q) = %q; want %q",
					tt.message, tt.pcName, result, tt.expected)
			}
		})
	}
}

func TestNarrativeRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     NarrativeRequest
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid short message",
			req:     NarrativeRequest{Text: "I tip my hat to the sheriff."},
			wantErr: false,
		},
		{
			name:    "valid message at max length",
			req:     NarrativeRequest{Text: strings.Repeat("a", MaxMessageLength)},
			wantErr: false,
		},
		{
			name:    "message too long",
			req:     NarrativeRequest{Text: strings.Repeat("a", MaxMessageLength+1)},
			wantErr: true,
			errMsg:  "exceeds maximum length",
		},
		{
			name:    "empty message",
			req:     NarrativeRequest{Text: "  "},
			wantErr: true,
			errMsg:  "cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && err != nil && tt.errMsg != "" {
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, want error containing %q", err, tt.errMsg)
				}
			}
		})
	}
}
