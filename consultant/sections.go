package consultant

import "ai_consultant/session"

// ExpandSections closes a selection over its upstream dependencies and
// returns it in pipeline order. The rules are checked in priority order and
// only the first matching one applies:
//
//   - business_strategy pulls in every section
//   - otherwise ux_design pulls in technical_architecture
//   - otherwise technical_architecture pulls in requirement_gathering
//
// Unknown names are ignored and the input is never modified.
func ExpandSections(selected []session.Section) []session.Section {
	set := make(map[session.Section]bool, len(session.Sections))
	for _, s := range selected {
		if s.Index() >= 0 {
			set[s] = true
		}
	}

	switch {
	case set[session.BusinessStrategy]:
		for _, s := range session.Sections {
			set[s] = true
		}
	case set[session.UXDesign]:
		set[session.TechnicalArchitecture] = true
	case set[session.TechnicalArchitecture]:
		set[session.RequirementGathering] = true
	}

	out := make([]session.Section, 0, len(set))
	for _, s := range session.Sections {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}
