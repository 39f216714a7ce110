package core

import (
	"strings"
)

// CategoryCode identifies a known category. CategoryOther carries free text.
type CategoryCode string

const (
	CategoryCourtFees       CategoryCode = "court_fees"
	CategoryFiling          CategoryCode = "filing"
	CategoryTravel          CategoryCode = "travel"
	CategoryExpertWitness   CategoryCode = "expert_witness"
	CategoryResearch        CategoryCode = "research"
	CategoryOffice          CategoryCode = "office"
	CategoryCommunication   CategoryCode = "communication"
	CategoryConsultationFee CategoryCode = "consultation_fee"
	CategoryRetainer        CategoryCode = "retainer"
	CategoryHearingFee      CategoryCode = "hearing_fee"
	CategorySettlementShare CategoryCode = "settlement_share"
	CategoryOther           CategoryCode = "other"
)

const otherPrefix = "other:"

var categoryLabels = map[CategoryCode]string{
	CategoryCourtFees:       "Court fees",
	CategoryFiling:          "Filing",
	CategoryTravel:          "Travel",
	CategoryExpertWitness:   "Expert witness",
	CategoryResearch:        "Research",
	CategoryOffice:          "Office",
	CategoryCommunication:   "Communication",
	CategoryConsultationFee: "Consultation fee",
	CategoryRetainer:        "Retainer",
	CategoryHearingFee:      "Hearing fee",
	CategorySettlementShare: "Settlement share",
}

// Category is either one of the known codes or Other with free text.
// The zero value is invalid.
type Category struct {
	code  CategoryCode
	other string
}

// KnownCategory returns the variant for a known code.
func KnownCategory(code CategoryCode) Category {
	return Category{code: code}
}

// OtherCategory returns the free-text variant. Text naming a known code or
// label yields that known category instead, so the same category never has
// two representations.
func OtherCategory(text string) Category {
	text = strings.TrimSpace(text)
	if code, ok := lookupKnown(text); ok {
		return KnownCategory(code)
	}
	return Category{code: CategoryOther, other: text}
}

func lookupKnown(s string) (CategoryCode, bool) {
	norm := strings.ToLower(s)
	for code, label := range categoryLabels {
		if norm == string(code) || norm == strings.ToLower(label) {
			return code, true
		}
	}
	return "", false
}

// ParseCategory maps a known code or label (case-insensitive) to its
// variant and any other non-empty text to Other. The "other:" prefix
// produced by MarshalText is understood too.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Category{}, ErrEmptyCategory
	}
	if len(s) >= len(otherPrefix) && strings.EqualFold(s[:len(otherPrefix)], otherPrefix) {
		c := OtherCategory(s[len(otherPrefix):])
		return c, c.Validate()
	}
	return OtherCategory(s), nil
}

// CategoryFromColumns rebuilds a category from its stored columns.
func CategoryFromColumns(code, other string) Category {
	if CategoryCode(code) == CategoryOther {
		return OtherCategory(other)
	}
	return KnownCategory(CategoryCode(code))
}

func (c Category) Code() CategoryCode { return c.code }

// OtherText is the free text of an Other category, empty otherwise.
func (c Category) OtherText() string { return c.other }

func (c Category) IsOther() bool { return c.code == CategoryOther }

func (c Category) IsZero() bool { return c.code == "" }

// Label is the human readable name.
func (c Category) Label() string {
	if c.IsOther() {
		return c.other
	}
	if l, ok := categoryLabels[c.code]; ok {
		return l
	}
	return string(c.code)
}

func (c Category) Validate() error {
	if c.code == "" {
		return ErrEmptyCategory
	}
	if c.IsOther() {
		if c.other == "" {
			return ErrEmptyCategory
		}
		return nil
	}
	if _, ok := categoryLabels[c.code]; !ok {
		return ErrEmptyCategory
	}
	return nil
}

// Columns returns the (category, category_other) storage pair.
func (c Category) Columns() (string, string) {
	return string(c.code), c.other
}

func (c Category) String() string {
	if c.IsOther() {
		return otherPrefix + c.other
	}
	return string(c.code)
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
