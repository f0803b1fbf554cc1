package lexicon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Dicklesworthstone/accord/internal/constraint"
)

func TestCanonicalForms(t *testing.T) {
	lex := Default()
	tests := []struct {
		a, b string
		same bool
	}{
		{"No seafood", "seafood-free", true},
		{"allergic to peanuts", "no nuts", true},
		{"Vegetarian options", "vegetarian option", true},
		{"vegan", "vegetarian", false},
		{"budget ≤ $20", "budget <= $20", true},
		{"must leave by 3pm", "leave by 3pm", true},
	}
	for _, tt := range tests {
		if got := lex.Same(tt.a, tt.b); got != tt.same {
			t.Errorf("Same(%q, %q) = %v, want %v (%q vs %q)", tt.a, tt.b, got, tt.same, lex.Canonical(tt.a), lex.Canonical(tt.b))
		}
	}
}

func TestContradicts(t *testing.T) {
	lex := Default()
	tests := []struct {
		name        string
		requirement string
		offer       string
		want        bool
	}{
		{"vegetarian does not satisfy vegan", "fully vegan restaurant", "vegetarian restaurant with plant-based options", true},
		{"vegan satisfies vegetarian", "vegetarian food", "a vegan bistro downtown", false},
		{"steakhouse breaks no meat", "no meat", "dinner at a steakhouse", true},
		{"peanuts break nut-free", "nut-free", "thai curry with peanuts", true},
		{"nut-free menu is fine", "nut-free", "the menu is completely nut free", false},
		{"unrelated offer", "quiet place", "museum visit at noon", false},
		{"loud breaks quiet", "somewhere quiet", "a lively karaoke bar", true},
		{"offer rules out requirement", "parking on site", "no parking, take the bus", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := lex.Contradicts(tt.requirement, tt.offer)
			if got != tt.want {
				t.Fatalf("Contradicts(%q, %q) = %v (%s), want %v", tt.requirement, tt.offer, got, reason, tt.want)
			}
			if got && reason == "" {
				t.Error("contradiction should carry a reason")
			}
		})
	}
}

func TestConflictsIsSymmetric(t *testing.T) {
	lex := Default()
	pairs := []struct {
		a, b string
		want bool
	}{
		{"vegetarian option available", "good food", false},
		{"vegan", "vegetarian", false},
		{"steakhouse", "vegetarian", true},
		{"indoors", "outdoor seating", true},
		{"no alcohol", "wine tasting", true},
		{"morning", "brunch spot", false},
	}
	for _, p := range pairs {
		ab, _ := lex.Conflicts(p.a, p.b)
		ba, _ := lex.Conflicts(p.b, p.a)
		if ab != ba {
			t.Errorf("Conflicts not symmetric for %q / %q", p.a, p.b)
		}
		if ab != p.want {
			t.Errorf("Conflicts(%q, %q) = %v, want %v", p.a, p.b, ab, p.want)
		}
	}
}

func TestAffirms(t *testing.T) {
	lex := Default()
	tests := []struct {
		requirement string
		offer       string
		want        bool
	}{
		{"vegetarian", "an all-vegan menu", true},
		{"fully vegan restaurant", "vegetarian restaurant with plant-based options", false},
		{"nut-free", "kitchen is nut free", true},
		{"live music", "jazz bar with live music", true},
		{"live music", "quiet bar", false},
		{"good food", "museum visit", false},
	}
	for _, tt := range tests {
		got, evidence := lex.Affirms(tt.requirement, tt.offer)
		if got != tt.want {
			t.Errorf("Affirms(%q, %q) = %v (%s), want %v", tt.requirement, tt.offer, got, evidence, tt.want)
		}
	}
}

func TestCovers(t *testing.T) {
	lex := Default()
	if !lex.Covers("vegetarian options at the venue", "vegetarian options") {
		t.Error("contiguous terms should cover")
	}
	if lex.Covers("vegetarian options", "vegan") {
		t.Error("vegan must not be covered by vegetarian")
	}
	if lex.Covers("seafood platter", "no seafood") {
		t.Error("polarity must match")
	}
	if !lex.Covers("Budget ≤ $20", "budget <= $20") {
		t.Error("equal canonical forms should cover")
	}
}

func TestCostsAndAlternatives(t *testing.T) {
	lex := Default()
	matches := lex.Costs("a weekend of skiing in the mountains")
	if len(matches) == 0 || matches[0].Entry.Item != "ski trip" {
		t.Fatalf("expected ski trip, got %+v", matches)
	}
	if got := matches[0].Entry.Range(); got != "$600+" {
		t.Errorf("Range() = %q, want $600+", got)
	}
	if len(lex.Costs("no skiing please")) != 0 {
		t.Error("negated items should not be priced")
	}
	alts := lex.Alternatives(matches[0].Entry, 400)
	if len(alts) == 0 {
		t.Fatal("expected cheaper alternatives")
	}
	for i, alt := range alts {
		if alt.Min > 400 {
			t.Errorf("alternative %q exceeds ceiling", alt.Item)
		}
		if i > 0 && alts[i-1].Min > alt.Min {
			t.Error("alternatives should be sorted cheapest first")
		}
	}
}

func TestCategoryScores(t *testing.T) {
	lex := Default()
	scores := lex.CategoryScores("must leave by 3pm on saturday")
	if scores[constraint.CategoryWhen] == 0 {
		t.Errorf("expected when score, got %v", scores)
	}
	scores = lex.CategoryScores("fully vegan restaurant")
	if scores[constraint.CategoryWhat] < 2 {
		t.Errorf("dimension hit should weigh what, got %v", scores)
	}
}

func TestNewRejectsBadTables(t *testing.T) {
	bad := []Config{
		{Synonyms: []SynonymGroup{{Canonical: "a", Terms: []string{"x"}}, {Canonical: "b", Terms: []string{"x"}}}},
		{Dimensions: []Dimension{{Name: "d", Values: []Value{{Name: "a", Implies: []string{"ghost"}}}}}},
		{Costs: []CostEntry{{Item: "x", Keywords: []string{"x"}, Min: 10, Max: 5}}},
		{Dimensions: []Dimension{{Name: "d", Category: "why"}}},
		{Synonyms: []SynonymGroup{{Canonical: "a", Terms: []string{"b"}}, {Canonical: "b", Terms: []string{"a"}}}},
	}
	for i, cfg := range bad {
		if _, err := New(cfg); err == nil {
			t.Errorf("config %d: expected error", i)
		}
	}
}

func TestSynonymGroupsChain(t *testing.T) {
	lex, err := Merge(Config{Synonyms: []SynonymGroup{{Canonical: "sushi", Terms: []string{"omakase"}}}})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	for _, pair := range [][2]string{{"omakase", "sushi"}, {"omakase", "seafood"}, {"no omakase", "no fish"}} {
		if !lex.Same(pair[0], pair[1]) {
			t.Errorf("Same(%q, %q) = false (%q vs %q)", pair[0], pair[1], lex.Canonical(pair[0]), lex.Canonical(pair[1]))
		}
	}
}

func TestLoadConfigAndMerge(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "lexicon.toml")
	tomlData := `
[[synonyms]]
canonical = "vegan"
terms = ["plant based"]

[[costs]]
item = "sailing"
group = "activity"
keywords = ["sailing", "boat trip"]
min = 200
max = 350
`
	if err := os.WriteFile(tomlPath, []byte(tomlData), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(tomlPath)
	if err != nil {
		t.Fatalf("LoadConfig toml: %v", err)
	}
	lex, err := Merge(cfg)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if ok, _ := lex.Affirms("vegan", "plant-based kitchen"); !ok {
		t.Error("extended synonym should affirm")
	}
	if len(lex.Costs("boat trip at sunset")) != 1 {
		t.Error("extended cost entry should match")
	}

	yamlPath := filepath.Join(dir, "lexicon.yaml")
	yamlData := "dimensions:\n  - name: pace\n    category: how\n    values:\n      - name: relaxed\n      - name: packed\n"
	if err := os.WriteFile(yamlPath, []byte(yamlData), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadConfig(yamlPath)
	if err != nil {
		t.Fatalf("LoadConfig yaml: %v", err)
	}
	lex, err = Merge(cfg)
	if err != nil {
		t.Fatalf("Merge yaml: %v", err)
	}
	if ok, _ := lex.Conflicts("relaxed pace", "packed schedule"); !ok {
		t.Error("extended dimension should conflict")
	}

	if _, err := LoadConfig(filepath.Join(dir, "lexicon.ini")); err == nil {
		t.Error("expected error for missing/unsupported file")
	}
}
