package inspection

import "testing"

func TestSignature(t *testing.T) {
	tests := []struct {
		name string
		num  int
		desc string
		want string
	}{
		{"simple", 4, "Brake Pads", "4|brake pads"},
		{"whitespace collapsed", 4, "  Brake   Pads ", "4|brake pads"},
		{"case folded", 4, "BRAKE PADS", "4|brake pads"},
		{"tabs and newlines", 7, "Coolant\tLevel\n", "7|coolant level"},
		{"empty description", 2, "", "2|"},
		{"different numbers differ", 5, "brake pads", "5|brake pads"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Signature(tt.num, tt.desc); got != tt.want {
				t.Errorf("Signature(%d, %q) = %q, want %q", tt.num, tt.desc, got, tt.want)
			}
		})
	}
}

func TestSignatureStability(t *testing.T) {
	a := Signature(4, "  Brake   Pads ")
	b := Signature(4, "brake pads")
	if a != b {
		t.Errorf("formatting variants produced distinct signatures: %q vs %q", a, b)
	}

	c := Signature(4, "brake pads worn")
	if a == c {
		t.Errorf("distinct descriptions collided: %q", a)
	}
}

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Brake Pads", "brake pads"},
		{"  spaced   out  ", "spaced out"},
		{"", ""},
		{"   ", ""},
		{"Tyre Pressure", "tyre pressure"},
	}

	for _, tt := range tests {
		if got := NormalizeDescription(tt.in); got != tt.want {
			t.Errorf("NormalizeDescription(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseItemRef(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		desc     string
		wantNum  int
		wantDesc string
		wantOK   bool
	}{
		{"item colon form", "Item 4: Brake Pads", "", 4, "brake pads", true},
		{"item dash form", "Item 12 - Coolant Level", "", 12, "coolant level", true},
		{"bare colon form", "4: Brake Pads", "", 4, "brake pads", true},
		{"bare dash form", "4 - Brake Pads", "", 4, "brake pads", true},
		{"falls back to description", "Fix the brakes", "Item 4: Brake Pads", 4, "brake pads", true},
		{"title wins over description", "Item 4: Brake Pads", "Item 9: Lights", 4, "brake pads", true},
		{"case insensitive prefix", "ITEM 4: Brake Pads", "", 4, "brake pads", true},
		{"no reference", "Replace wiper blades", "worn rubber", 0, "", false},
		{"zero item number", "Item 0: Brake Pads", "", 0, "", false},
		{"negative-looking text", "-4: Brake Pads", "", 0, "", false},
		{"number without description", "Item 4:   ", "", 0, "", false},
		{"empty", "", "", 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			num, desc, ok := ParseItemRef(tt.title, tt.desc)
			if ok != tt.wantOK {
				t.Fatalf("ParseItemRef(%q, %q) ok = %v, want %v", tt.title, tt.desc, ok, tt.wantOK)
			}
			if num != tt.wantNum || desc != tt.wantDesc {
				t.Errorf("ParseItemRef(%q, %q) = (%d, %q), want (%d, %q)",
					tt.title, tt.desc, num, desc, tt.wantNum, tt.wantDesc)
			}
		})
	}
}

func TestParseItemRefMatchesSignature(t *testing.T) {
	// A title generated from a defect must parse back to the same signature.
	title := "Item 4: Brake   Pads"
	num, desc, ok := ParseItemRef(title, "")
	if !ok {
		t.Fatalf("ParseItemRef(%q) failed", title)
	}
	if got, want := Signature(num, desc), Signature(4, "Brake Pads"); got != want {
		t.Errorf("round-tripped signature = %q, want %q", got, want)
	}
}
