package models

import "testing"

func TestTelegramIdentityDisplayName(t *testing.T) {
	cases := []struct {
		name     string
		identity TelegramIdentity
		want     string
	}{
		{name: "first only", identity: TelegramIdentity{FirstName: "Ali"}, want: "Ali"},
		{name: "first and last", identity: TelegramIdentity{FirstName: "Ali", LastName: "Valiev"}, want: "Ali Valiev"},
		{name: "username fallback", identity: TelegramIdentity{Username: "ali_parts"}, want: "ali_parts"},
		{name: "blank names", identity: TelegramIdentity{FirstName: "  ", Username: "ali"}, want: "ali"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.identity.DisplayName(); got != tc.want {
				t.Fatalf("expected %q got %q", tc.want, got)
			}
		})
	}
}
