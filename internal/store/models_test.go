package store

import "testing"

func TestSeenKeyIsCaseInsensitive(t *testing.T) {
	a := SeenKey(8453, "0xABCDEF0000000000000000000000000000001111")
	b := SeenKey(8453, "0xabcdef0000000000000000000000000000001111")
	if a != b {
		t.Errorf("expected equal keys, got %q and %q", a, b)
	}
	if a != "8453:0xabcdef0000000000000000000000000000001111" {
		t.Errorf("unexpected key format %q", a)
	}
	if SeenKey(1, "0xabc") == SeenKey(8453, "0xabc") {
		t.Error("keys on different networks must differ")
	}
}

func TestValidAddress(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"0xdeadbeef00000000000000000000000000000001", true},
		{"0xDEADBEEF00000000000000000000000000000001", true},
		{" 0xdeadbeef00000000000000000000000000000001 ", true},
		{"0xnothex", false},
		{"deadbeef00000000000000000000000000000001", false},
		{"0xdeadbeef0000000000000000000000000000000g", false},
		{"0xdeadbeef000000000000000000000000000000011", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidAddress(tc.in); got != tc.want {
			t.Errorf("ValidAddress(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeHandles(t *testing.T) {
	if got := NormalizeHandleA("  @VitalikButerin "); got != "vitalikbuterin" {
		t.Errorf("unexpected axis A handle %q", got)
	}
	if got := NormalizeHandleB(" DWR.eth "); got != "dwr.eth" {
		t.Errorf("unexpected axis B handle %q", got)
	}
}

func TestParseAxisAliases(t *testing.T) {
	for in, want := range map[string]Axis{
		"x":         AxisHandleA,
		"Twitter":   AxisHandleA,
		"farcaster": AxisHandleB,
		"wallet":    AxisAddress,
		"keyword":   AxisKeyword,
	} {
		got, err := ParseAxis(in)
		if err != nil || got != want {
			t.Errorf("ParseAxis(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseAxis("email"); err == nil {
		t.Error("expected error for unknown axis")
	}
}

func TestBuildFreeText(t *testing.T) {
	if got := BuildFreeText("SuperMoonCoin", "SMC"); got != "SuperMoonCoin ($SMC)" {
		t.Errorf("unexpected free text %q", got)
	}
	if got := BuildFreeText("", ""); got != "" {
		t.Errorf("expected empty free text, got %q", got)
	}
}

func TestTenantActive(t *testing.T) {
	if (Tenant{ID: "guild"}).Active() {
		t.Error("tenant with no webhooks must be inactive")
	}
	if !(Tenant{ID: "guild", WatchWebhook: "https://discord.example/hook"}).Active() {
		t.Error("tenant with a watch webhook must be active")
	}
}
