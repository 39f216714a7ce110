package core

import (
	"encoding/json"
	"testing"
)

func TestParseCategory(t *testing.T) {
	cases := []struct {
		in    string
		code  CategoryCode
		other string
	}{
		{"filing", CategoryFiling, ""},
		{"FILING", CategoryFiling, ""},
		{"Court fees", CategoryCourtFees, ""},
		{"expert_witness", CategoryExpertWitness, ""},
		{"Courier", CategoryOther, "Courier"},
		{"  parking ", CategoryOther, "parking"},
		{"other:Translations", CategoryOther, "Translations"},
		{"other:Travel", CategoryTravel, ""},
		{"other: court FEES", CategoryCourtFees, ""},
		{"other:filing", CategoryFiling, ""},
	}
	for _, tc := range cases {
		c, err := ParseCategory(tc.in)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tc.in, err)
		}
		if c.Code() != tc.code || c.OtherText() != tc.other {
			t.Errorf("%q = (%s,%q), want (%s,%q)", tc.in, c.Code(), c.OtherText(), tc.code, tc.other)
		}
	}
	for _, bad := range []string{"", "   ", "other:", "other:  "} {
		if _, err := ParseCategory(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestCategoryColumnsRoundTrip(t *testing.T) {
	for _, c := range []Category{KnownCategory(CategoryTravel), OtherCategory("Couriers")} {
		code, other := c.Columns()
		if got := CategoryFromColumns(code, other); got != c {
			t.Errorf("CategoryFromColumns(%q,%q) = %v, want %v", code, other, got, c)
		}
	}
}

func TestCategoryJSON(t *testing.T) {
	in := struct{ C Category }{OtherCategory("Couriers")}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"C":"other:Couriers"}` {
		t.Errorf("marshal = %s", b)
	}
	var out struct{ C Category }
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.C != in.C {
		t.Errorf("round trip = %v, want %v", out.C, in.C)
	}
}

func TestCategoryLabel(t *testing.T) {
	if got := KnownCategory(CategoryHearingFee).Label(); got != "Hearing fee" {
		t.Errorf("Label() = %q", got)
	}
	if got := OtherCategory("Couriers").Label(); got != "Couriers" {
		t.Errorf("Label() = %q", got)
	}
	if err := KnownCategory("bogus").Validate(); err == nil {
		t.Errorf("unknown code should not validate")
	}
}

func TestOtherCategoryNamingKnownIsKnown(t *testing.T) {
	if got := OtherCategory(" Travel "); got != KnownCategory(CategoryTravel) {
		t.Errorf("OtherCategory(Travel) = %v, want the known travel category", got)
	}
	if got := CategoryFromColumns(string(CategoryOther), "office"); got != KnownCategory(CategoryOffice) {
		t.Errorf("CategoryFromColumns(other, office) = %v", got)
	}
}
