package consultant

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ai_consultant/session"
)

const (
	rg = session.RequirementGathering
	ta = session.TechnicalArchitecture
	ux = session.UXDesign
	bs = session.BusinessStrategy
)

func TestExpandSections_AllSubsets(t *testing.T) {
	all := []session.Section{rg, ta, ux, bs}
	tests := []struct {
		in   []session.Section
		want []session.Section
	}{
		{in: nil, want: []session.Section{}},
		{in: []session.Section{rg}, want: []session.Section{rg}},
		{in: []session.Section{ta}, want: []session.Section{rg, ta}},
		{in: []session.Section{rg, ta}, want: []session.Section{rg, ta}},
		{in: []session.Section{ux}, want: []session.Section{ta, ux}},
		{in: []session.Section{rg, ux}, want: []session.Section{rg, ta, ux}},
		{in: []session.Section{ta, ux}, want: []session.Section{ta, ux}},
		{in: []session.Section{rg, ta, ux}, want: []session.Section{rg, ta, ux}},
		{in: []session.Section{bs}, want: all},
		{in: []session.Section{rg, bs}, want: all},
		{in: []session.Section{ta, bs}, want: all},
		{in: []session.Section{rg, ta, bs}, want: all},
		{in: []session.Section{ux, bs}, want: all},
		{in: []session.Section{rg, ux, bs}, want: all},
		{in: []session.Section{ta, ux, bs}, want: all},
		{in: []session.Section{rg, ta, ux, bs}, want: all},
	}
	for _, tt := range tests {
		t.Run(sectionNames(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandSections(tt.in))
		})
	}
}

func TestExpandSections_OrdersAndDeduplicates(t *testing.T) {
	got := ExpandSections([]session.Section{ux, ta, ux, "marketing"})
	assert.Equal(t, []session.Section{ta, ux}, got)
}

func TestExpandSections_DoesNotModifyInput(t *testing.T) {
	in := []session.Section{ux}
	_ = ExpandSections(in)
	assert.Equal(t, []session.Section{ux}, in)
}

func sectionNames(secs []session.Section) string {
	if len(secs) == 0 {
		return "empty"
	}
	name := ""
	for i, s := range secs {
		if i > 0 {
			name += "+"
		}
		name += string(s)
	}
	return name
}
