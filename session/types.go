package session

import (
	"strings"
	"time"
)

// Stage is the coarse lifecycle marker of a session.
type Stage string

const (
	StageConversation         Stage = "conversation"
	StagePreviewReady         Stage = "preview_ready"
	StagePreviewGenerated     Stage = "preview_generated"
	StageGeneratingFullReport Stage = "generating_full_report"
	StageReportComplete       Stage = "report_complete"
)

var stageRank = map[Stage]int{
	StageConversation:         0,
	StagePreviewReady:         1,
	StagePreviewGenerated:     2,
	StageGeneratingFullReport: 3,
	StageReportComplete:       4,
}

// Rank orders stages along the funnel; unknown stages rank -1.
func (s Stage) Rank() int {
	r, ok := stageRank[s]
	if !ok {
		return -1
	}
	return r
}

// Before reports whether s comes strictly earlier in the funnel than other.
func (s Stage) Before(other Stage) bool {
	return s.Rank() < other.Rank()
}

// Section is one of the four report content types.
type Section string

const (
	RequirementGathering  Section = "requirement_gathering"
	TechnicalArchitecture Section = "technical_architecture"
	UXDesign              Section = "ux_design"
	BusinessStrategy      Section = "business_strategy"
)

// Sections lists every section in pipeline (dependency) order.
var Sections = []Section{RequirementGathering, TechnicalArchitecture, UXDesign, BusinessStrategy}

// Index returns the pipeline position of s, or -1 for an unknown section.
func (s Section) Index() int {
	for i, sec := range Sections {
		if sec == s {
			return i
		}
	}
	return -1
}

// Progress is the percentage reported once s has been written.
func (s Section) Progress() int {
	idx := s.Index()
	if idx < 0 {
		return 0
	}
	return (idx + 1) * 25
}

// Title is the human heading used in rendered reports.
func (s Section) Title() string {
	switch s {
	case RequirementGathering:
		return "Requirements"
	case TechnicalArchitecture:
		return "Technical Architecture"
	case UXDesign:
		return "UX Design"
	case BusinessStrategy:
		return "Business Strategy"
	}
	return string(s)
}

// ParseSection accepts a section name, tolerating case and surrounding space.
func ParseSection(name string) (Section, bool) {
	s := Section(strings.ToLower(strings.TrimSpace(name)))
	return s, s.Index() >= 0
}

// Context holds the generated text of each section. It is a value type, so
// copying a Context yields an independent snapshot.
type Context struct {
	RequirementGathering  string `json:"requirement_gathering" bson:"requirement_gathering"`
	TechnicalArchitecture string `json:"technical_architecture" bson:"technical_architecture"`
	UXDesign              string `json:"ux_design" bson:"ux_design"`
	BusinessStrategy      string `json:"business_strategy" bson:"business_strategy"`
}

// Get returns the stored text for sec.
func (c Context) Get(sec Section) string {
	switch sec {
	case RequirementGathering:
		return c.RequirementGathering
	case TechnicalArchitecture:
		return c.TechnicalArchitecture
	case UXDesign:
		return c.UXDesign
	case BusinessStrategy:
		return c.BusinessStrategy
	}
	return ""
}

// Set stores text for sec. Unknown sections are ignored.
func (c *Context) Set(sec Section, text string) {
	switch sec {
	case RequirementGathering:
		c.RequirementGathering = text
	case TechnicalArchitecture:
		c.TechnicalArchitecture = text
	case UXDesign:
		c.UXDesign = text
	case BusinessStrategy:
		c.BusinessStrategy = text
	}
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is one conversation turn.
type Message struct {
	Role      Role      `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// SectionRecord is one entry of the write-only section history.
type SectionRecord struct {
	Stage   Section   `json:"stage" bson:"stage"`
	Content string    `json:"content" bson:"content"`
	SavedAt time.Time `json:"saved_at" bson:"saved_at"`
}

// RefinementRecord logs information appended to the idea by a refinement.
type RefinementRecord struct {
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	AddedInfo string    `json:"added_info" bson:"added_info"`
}

// Version is an immutable snapshot taken before a refinement regenerates content.
type Version struct {
	VersionNumber   int       `json:"version_number" bson:"version_number"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
	Trigger         string    `json:"trigger" bson:"trigger"`
	ContextSnapshot Context   `json:"context_snapshot" bson:"context_snapshot"`
	IdeaSnapshot    string    `json:"idea_snapshot" bson:"idea_snapshot"`
}

// Session is one user journey from idea to report and refinements.
type Session struct {
	ID     string `json:"session_id" bson:"session_id"`
	UserID string `json:"user_id" bson:"user_id"`
	Idea   string `json:"idea" bson:"idea"`
	Stage  Stage  `json:"stage" bson:"stage"`

	Context             Context            `json:"context" bson:"context"`
	ContextHistory      []SectionRecord    `json:"context_history" bson:"context_history"`
	ConversationHistory []Message          `json:"conversation_history" bson:"conversation_history"`
	RefinementHistory   []RefinementRecord `json:"refinement_history" bson:"refinement_history"`
	Versions            []Version          `json:"versions" bson:"versions"`

	RefinementsAllowed int     `json:"refinements_allowed" bson:"refinements_allowed"`
	RefinementsUsed    int     `json:"refinements_used" bson:"refinements_used"`
	ProgressPercentage int     `json:"progress_percentage" bson:"progress_percentage"`
	CurrentStage       Section `json:"current_stage,omitempty" bson:"current_stage,omitempty"`

	LeadCaptured bool   `json:"lead_captured" bson:"lead_captured"`
	LeadEmail    string `json:"lead_email,omitempty" bson:"lead_email,omitempty"`
	LeadName     string `json:"lead_name,omitempty" bson:"lead_name,omitempty"`
	LeadScore    int    `json:"lead_score" bson:"lead_score"`

	ReportEmailSent   bool       `json:"report_email_sent" bson:"report_email_sent"`
	ReportEmailSentAt *time.Time `json:"report_email_sent_at,omitempty" bson:"report_email_sent_at,omitempty"`
	EmailID           string     `json:"email_id,omitempty" bson:"email_id,omitempty"`
	EmailSubject      string     `json:"email_subject,omitempty" bson:"email_subject,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// DefaultRefinementsAllowed is the quota given to new sessions.
const DefaultRefinementsAllowed = 2

// New returns a fresh session in the conversation stage.
func New(id, userID, idea string, refinementsAllowed int, now time.Time) *Session {
	if refinementsAllowed < 0 {
		refinementsAllowed = DefaultRefinementsAllowed
	}
	return &Session{
		ID:                  id,
		UserID:              userID,
		Idea:                idea,
		Stage:               StageConversation,
		ContextHistory:      []SectionRecord{},
		ConversationHistory: []Message{},
		RefinementHistory:   []RefinementRecord{},
		Versions:            []Version{},
		RefinementsAllowed:  refinementsAllowed,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// RefinementsLeft is the remaining refinement quota.
func (s *Session) RefinementsLeft() int {
	left := s.RefinementsAllowed - s.RefinementsUsed
	if left < 0 {
		return 0
	}
	return left
}

// CanRefine reports whether another refinement cycle may start.
func (s *Session) CanRefine() bool {
	return s.RefinementsUsed < s.RefinementsAllowed
}

// UserTurns counts user messages in the conversation.
func (s *Session) UserTurns() int {
	n := 0
	for _, m := range s.ConversationHistory {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	c := *s
	c.ContextHistory = append([]SectionRecord{}, s.ContextHistory...)
	c.ConversationHistory = append([]Message{}, s.ConversationHistory...)
	c.RefinementHistory = append([]RefinementRecord{}, s.RefinementHistory...)
	c.Versions = append([]Version{}, s.Versions...)
	if s.ReportEmailSentAt != nil {
		t := *s.ReportEmailSentAt
		c.ReportEmailSentAt = &t
	}
	return &c
}

// The apply* helpers are the single-document point updates shared by the
// in-process backends; the Mongo backend expresses the same updates natively.

func (s *Session) applySection(sec Section, content string, at time.Time) {
	s.Context.Set(sec, content)
	s.CurrentStage = sec
	s.ProgressPercentage = sec.Progress()
	s.UpdatedAt = at
	s.ContextHistory = append(s.ContextHistory, SectionRecord{Stage: sec, Content: content, SavedAt: at})
}

func (s *Session) applyLeadCapture(c LeadCapture) error {
	if s.LeadCaptured {
		return ErrLeadAlreadyCaptured
	}
	s.LeadCaptured = true
	s.LeadEmail = c.Email
	s.LeadName = c.Name
	s.LeadScore = c.Score
	s.Stage = StageGeneratingFullReport
	s.UpdatedAt = c.At
	return nil
}

func (s *Session) applyEmailReceipt(r EmailReceipt) {
	at := r.SentAt
	s.ReportEmailSent = true
	s.ReportEmailSentAt = &at
	s.EmailID = r.EmailID
	s.EmailSubject = r.Subject
	s.UpdatedAt = r.SentAt
}

// LeadCapture carries the session-side fields set when a lead is captured.
type LeadCapture struct {
	Email string
	Name  string
	Score int
	At    time.Time
}

// EmailReceipt records a successfully delivered report email.
type EmailReceipt struct {
	EmailID string
	Subject string
	SentAt  time.Time
}

// LeadStatus tracks sales follow-up of a lead.
type LeadStatus string

const (
	LeadNew       LeadStatus = "new"
	LeadContacted LeadStatus = "contacted"
	LeadQualified LeadStatus = "qualified"
	LeadConverted LeadStatus = "converted"
)

// ParseLeadStatus validates a status name.
func ParseLeadStatus(name string) (LeadStatus, bool) {
	switch st := LeadStatus(strings.ToLower(strings.TrimSpace(name))); st {
	case LeadNew, LeadContacted, LeadQualified, LeadConverted:
		return st, true
	}
	return "", false
}

// LeadNote is an append-only sales note.
type LeadNote struct {
	Text      string    `json:"text" bson:"text"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Lead is a captured contact record. It references its session by id.
type Lead struct {
	LeadID              string     `json:"lead_id" bson:"lead_id"`
	SessionID           string     `json:"session_id" bson:"session_id"`
	Email               string     `json:"email" bson:"email"`
	Name                string     `json:"name" bson:"name"`
	Phone               string     `json:"phone,omitempty" bson:"phone,omitempty"`
	CapturedAt          time.Time  `json:"captured_at" bson:"captured_at"`
	Idea                string     `json:"idea" bson:"idea"`
	ConversationHistory []Message  `json:"conversation_history" bson:"conversation_history"`
	LeadScore           int        `json:"lead_score" bson:"lead_score"`
	Status              LeadStatus `json:"status" bson:"status"`
	Notes               []LeadNote `json:"notes" bson:"notes"`
}

// Clone returns a deep copy of l.
func (l *Lead) Clone() *Lead {
	c := *l
	c.ConversationHistory = append([]Message{}, l.ConversationHistory...)
	c.Notes = append([]LeadNote{}, l.Notes...)
	return &c
}

// LeadStats aggregates over all leads.
type LeadStats struct {
	Total        int
	HighQuality  int
	AverageScore float64
}
