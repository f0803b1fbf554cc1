package constraint

import (
	"errors"
	"testing"
)

func concern(owner, text string, sev Severity) Tag {
	return Tag{Text: text, Kind: KindConcern, Severity: sev, Owner: ParticipantID(owner)}
}

func desire(owner, text string, in Intensity) Tag {
	return Tag{Text: text, Kind: KindDesire, Intensity: in, Owner: ParticipantID(owner)}
}

func TestSeverityOrdering(t *testing.T) {
	order := []Severity{SeverityNonNegotiable, SeverityStrongPreference, SeverityPreference, SeverityNiceToHave}
	for i := 0; i < len(order)-1; i++ {
		if order[i].Compare(order[i+1]) <= 0 {
			t.Errorf("%s should rank above %s", order[i], order[i+1])
		}
	}
	if Severity("urgent").IsValid() {
		t.Error("unknown severity should be invalid")
	}
}

func TestIntensityOrdering(t *testing.T) {
	order := []Intensity{IntensityMustHave, IntensityWouldLove, IntensityWouldLike, IntensityNiceToHave}
	for i := 0; i < len(order)-1; i++ {
		if order[i].Compare(order[i+1]) <= 0 {
			t.Errorf("%s should rank above %s", order[i], order[i+1])
		}
	}
}

func TestStrictlyWeakerAcrossScales(t *testing.T) {
	nn := concern("a", "x", SeverityNonNegotiable)
	pref := concern("b", "y", SeverityPreference)
	nice := desire("c", "z", IntensityNiceToHave)

	if !pref.StrictlyWeaker(nn) {
		t.Error("preference should be weaker than non-negotiable")
	}
	if nn.StrictlyWeaker(pref) {
		t.Error("non-negotiable should not be weaker than preference")
	}
	if nice.StrictlyWeaker(nn) || nn.StrictlyWeaker(nice) {
		t.Error("tags on different scales must not compare")
	}
}

func TestTagValidate(t *testing.T) {
	tests := []struct {
		name    string
		tag     Tag
		wantErr bool
	}{
		{"valid concern", concern("a", "no nuts", SeverityNonNegotiable), false},
		{"valid desire", desire("a", "karaoke", IntensityWouldLike), false},
		{"missing text", concern("a", "  ", SeverityPreference), true},
		{"missing owner", concern("", "x", SeverityPreference), true},
		{"desire with severity", Tag{Text: "x", Kind: KindDesire, Severity: SeverityPreference, Owner: "a"}, true},
		{"concern with intensity", Tag{Text: "x", Kind: KindConcern, Intensity: IntensityMustHave, Owner: "a"}, true},
		{"bad category", Tag{Text: "x", Kind: KindConcern, Severity: SeverityPreference, Owner: "a", Category: "why"}, true},
		{"bad flexibility", Tag{Text: "x", Kind: KindConcern, Severity: SeverityPreference, Owner: "a", Flexibility: 1.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tag.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTag) {
				t.Errorf("error should wrap ErrInvalidTag: %v", err)
			}
		})
	}
}

func TestSanitizeQuarantinesBadInput(t *testing.T) {
	raw := []RawTag{
		{Text: "must leave by 3pm", Kind: "concern", Priority: "Non-Negotiable", Category: "WHEN"},
		{Text: "sushi", Kind: "desire", Priority: "would_love"},
		{Text: "quiet place", Kind: "concern", Priority: "must-have"},
		{Text: "hot tub", Kind: "wish", Priority: "nice-to-have"},
		{Text: "sunny", Kind: "desire", Priority: "would-like", Category: "weather"},
	}
	tags, dropped := Sanitize("alice", raw, nil)
	if len(tags) != 2 {
		t.Fatalf("expected 2 valid tags, got %d", len(tags))
	}
	if tags[0].Severity != SeverityNonNegotiable || tags[0].Category != CategoryWhen {
		t.Errorf("unexpected parse of first tag: %+v", tags[0])
	}
	if tags[1].Intensity != IntensityWouldLove {
		t.Errorf("expected would-love, got %q", tags[1].Intensity)
	}
	if len(dropped) != 3 {
		t.Fatalf("expected 3 quarantined tags, got %d", len(dropped))
	}
	if dropped[0].Raw.Text != "quiet place" {
		t.Errorf("severity scale mismatch should be quarantined first, got %q", dropped[0].Raw.Text)
	}
}

func TestLedgerSupersession(t *testing.T) {
	l := NewLedger()
	first, err := l.Add(concern("bob", "budget under $50", SeverityPreference))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if first.ID != "bob-1" {
		t.Errorf("expected generated ID bob-1, got %q", first.ID)
	}

	regraded := concern("bob", "budget under $50", SeverityNonNegotiable)
	second, err := l.Supersede(first.ID, regraded, 2)
	if err != nil {
		t.Fatalf("Supersede: %v", err)
	}
	if l.IsCurrent(first.ID) {
		t.Error("superseded tag should not be current")
	}
	if !l.IsCurrent(second.ID) {
		t.Error("replacement should be current")
	}
	if got := len(l.All()); got != 2 {
		t.Errorf("history should keep both tags, got %d", got)
	}
	orig, _ := l.Get(first.ID)
	if orig.Severity != SeverityPreference {
		t.Error("original tag must not be mutated")
	}
	lineage := l.Lineage(first.ID)
	if len(lineage) != 2 || lineage[1] != second.ID {
		t.Errorf("unexpected lineage %v", lineage)
	}
	if _, err := l.Supersede(first.ID, regraded, 3); !errors.Is(err, ErrAlreadySuperseded) {
		t.Errorf("expected ErrAlreadySuperseded, got %v", err)
	}
}

func TestLedgerReconcile(t *testing.T) {
	l := NewLedger()
	for _, tag := range []Tag{
		concern("ann", "no seafood", SeverityNonNegotiable),
		desire("ann", "outdoor seating", IntensityWouldLike),
		desire("ann", "live music", IntensityNiceToHave),
	} {
		if _, err := l.Add(tag); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	updated := []Tag{
		concern("ann", "No  Seafood", SeverityNonNegotiable),
		desire("ann", "outdoor seating", IntensityWouldLove),
		desire("ann", "board games", IntensityWouldLike),
	}
	res, err := l.Reconcile("ann", updated, 2)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Unchanged != 1 {
		t.Errorf("expected 1 unchanged, got %d", res.Unchanged)
	}
	if len(res.Regraded) != 1 || len(res.Added) != 1 || len(res.Retired) != 1 {
		t.Fatalf("unexpected reconcile result %+v", res)
	}
	current := l.CurrentFor("ann")
	if len(current) != 3 {
		t.Fatalf("expected 3 current tags, got %d", len(current))
	}
	for _, tag := range current {
		if tag.Text == "live music" {
			t.Error("retired tag still current")
		}
		if tag.Text == "outdoor seating" && tag.Intensity != IntensityWouldLove {
			t.Error("regraded tag not replaced")
		}
	}
	if len(l.Supersessions()) != 2 {
		t.Errorf("expected 2 supersessions, got %d", len(l.Supersessions()))
	}
}

func TestLedgerReconcileKeepsTagOnInvalidUpdate(t *testing.T) {
	l := NewLedger()
	if _, err := l.Add(concern("ann", "no seafood", SeverityNonNegotiable)); err != nil {
		t.Fatal(err)
	}
	bad := Tag{Text: "no seafood", Kind: KindConcern, Severity: "maybe"}
	res, err := l.Reconcile("ann", []Tag{bad}, 2)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Quarantine) != 1 || len(res.Retired) != 0 {
		t.Fatalf("invalid update should quarantine without retiring: %+v", res)
	}
	if len(l.CurrentFor("ann")) != 1 {
		t.Error("original tag should remain current")
	}
}
