package domain

import (
	"encoding/json"
	"testing"
)

func TestUserIdentityUnmarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want UserIdentity
	}{
		{name: "object", in: `{"id":"u1","username":"alice","email":"a@example.com"}`, want: UserIdentity{ID: "u1", Username: "alice", Email: "a@example.com"}},
		{name: "mongo id", in: `{"_id":"65f0","username":"bob"}`, want: UserIdentity{ID: "65f0", Username: "bob"}},
		{name: "numeric id and name", in: `{"id":42,"name":"carol"}`, want: UserIdentity{ID: "42", Username: "carol"}},
		{name: "bare string", in: `"dave"`, want: UserIdentity{Username: "dave"}},
		{name: "null", in: `null`, want: UserIdentity{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got UserIdentity
			if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestUserIdentityUnmarshalRejectsGarbage(t *testing.T) {
	t.Parallel()

	var u UserIdentity
	if err := json.Unmarshal([]byte(`[1,2]`), &u); err == nil {
		t.Fatal("expected error for array input")
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	cases := map[string]UserIdentity{
		"alice":         {ID: "1", Username: "alice", Email: "a@example.com"},
		"a@example.com": {ID: "1", Email: "a@example.com"},
		"1":             {ID: "1"},
		"anonymous":     {},
	}
	for want, u := range cases {
		if got := u.DisplayName(); got != want {
			t.Errorf("DisplayName() = %q, want %q", got, want)
		}
	}
	if !(UserIdentity{}).IsZero() {
		t.Error("empty identity should be zero")
	}
}
