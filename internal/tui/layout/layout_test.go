package layout

import "testing"

func TestTierForWidth(t *testing.T) {
	tests := []struct {
		width int
		want  Tier
	}{
		{40, TierNarrow},
		{89, TierNarrow},
		{90, TierSplit},
		{129, TierSplit},
		{200, TierWide},
	}
	for _, tt := range tests {
		if got := TierForWidth(tt.width); got != tt.want {
			t.Errorf("TierForWidth(%d) = %v, want %v", tt.width, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"Green Leaf downtown", 10, "Green Lea…"},
		{"anything", 0, ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestSplitProportions(t *testing.T) {
	if l, r := SplitProportions(60); l != 60 || r != 0 {
		t.Errorf("narrow split = %d/%d", l, r)
	}
	l, r := SplitProportions(108)
	if l+r != 100 || l != 40 {
		t.Errorf("split = %d/%d", l, r)
	}
}
