package generator

import (
	"fmt"
	"strings"

	"ai_consultant/session"
)

// Prompt is the message set sent to the model.
type Prompt struct {
	// Kind labels the prompt for logs, metrics and the mock client.
	Kind    string
	System  string
	User    string
	History []Message
}

// Message is an optional prior chat turn.
type Message struct {
	Role    string
	Content string
}

const (
	KindConversation  = "conversation"
	KindImpact        = "impact_analysis"
	KindChangeSummary = "change_summary"
	KindEmailIntro    = "email_intro"
)

// RequirementsComplete is the sentinel the requirements expert emits once it
// has gathered enough information.
const RequirementsComplete = "REQUIREMENTS_COMPLETE"

// ApprovedStack constrains the technical architect.
const ApprovedStack = "Python, FastAPI, NextJS, React, React Native, TensorFlow, PyTorch, NumPy, Pandas, " +
	"Hugging Face, Streamlit, CrewAI, LangChain, LangGraph, RAG, MongoDB, PostgreSQL, " +
	"Redis, Pinecone, Prisma, Drizzle, AWS AI, Azure AI, Google Cloud AI, VAPI, Retell.AI, " +
	"BotPress, Relevance.AI, Whisper, ElevenLabs, Twilio, Stripe, WhatsApp API"

const requirementsExpert = "You are a professional AI product consultant specializing in converting vague ideas " +
	"into clear, structured product requirements. You ask insightful follow-up questions " +
	"and know when you have enough information to proceed."

var sectionSystem = map[session.Section]string{
	session.RequirementGathering: requirementsExpert,
	session.TechnicalArchitecture: "You are a senior AI systems architect specializing in designing scalable production-grade " +
		"agentic systems. Design using ONLY this approved tech stack: " + ApprovedStack + ". " +
		"Keep the architecture simple, lean and efficient.",
	session.UXDesign: "You are a UX architect who transforms conceptual ideas into clear, intuitive interactions. " +
		"You think in terms of user journey, mental models and task efficiency.",
	session.BusinessStrategy: "You are a SaaS strategy consultant who builds business models based on revenue potential " +
		"and cost efficiency. You present quantified assumptions to make plans investor-ready.",
}

var sectionTask = map[session.Section]string{
	session.RequirementGathering: "Generate a detailed understanding document for the idea. " +
		"Include: idea summary, target audience, key features, potential benefits, and suggested tech requirements.",
	session.TechnicalArchitecture: "Using the requirements, design a complete technical architecture. " +
		"Include: system components, data flow, agent responsibilities, tools, and which external APIs are needed. " +
		"Answer as a markdown blueprint.",
	session.UXDesign: "Using the requirement and architecture reports as context, create user experience documentation " +
		"including key user journeys, user flows, and interaction logic.",
	session.BusinessStrategy: "Using all previous deliverables as context, create a business strategy blueprint. " +
		"Include: ideal customer profiles, monetization models, pricing tiers, market size estimates, " +
		"CAC vs LTV, go-to-market channels, and competitive advantage.",
}

// PriorOutput is an earlier section's text used as conditioning context.
type PriorOutput struct {
	Section session.Section
	Text    string
}

// BuildConversationPrompt asks the requirements expert either to declare the
// requirements complete or to ask one or two clarifying questions.
func BuildConversationPrompt(transcript []session.Message) Prompt {
	var sb strings.Builder
	sb.WriteString("Conversation so far:\n")
	for _, m := range transcript {
		sb.WriteString(fmt.Sprintf("%s: %s\n", strings.ToUpper(string(m.Role)), m.Content))
	}
	sb.WriteString("\nYou are helping refine an AI agent idea. Based on the conversation:\n\n")
	sb.WriteString(fmt.Sprintf("1. If you have enough information (target audience, key features, technical needs, business goals), "+
		"respond with: %q followed by a summary of all gathered requirements.\n\n", RequirementsComplete))
	sb.WriteString("2. If you need more info, ask 1-2 specific clarifying questions about:\n")
	sb.WriteString("   - Target audience and their pain points\n")
	sb.WriteString("   - Core features and capabilities needed\n")
	sb.WriteString("   - Technical constraints or integrations\n")
	sb.WriteString("   - Business model and goals\n\n")
	sb.WriteString("Be conversational and encouraging. Don't overwhelm with too many questions at once.")

	return Prompt{
		Kind:   KindConversation,
		System: requirementsExpert,
		User:   sb.String(),
	}
}

// BuildSectionPrompt builds the generation prompt for one report section.
// priors carries the raw output of every earlier stage in this run.
func BuildSectionPrompt(sec session.Section, idea string, priors []PriorOutput) Prompt {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Idea:\n%s\n\n", idea))
	for _, p := range priors {
		sb.WriteString(fmt.Sprintf("### Context from %s\n%s\n\n", p.Section.Title(), p.Text))
	}
	sb.WriteString(sectionTask[sec])
	sb.WriteString("\nOutput markdown only, without any preamble.")

	return Prompt{
		Kind:   string(sec),
		System: sectionSystem[sec],
		User:   sb.String(),
	}
}

// BuildImpactPrompt asks which sections new information invalidates.
func BuildImpactPrompt(newInfo, contextPreview string) Prompt {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("User added new information: %q\n\n", newInfo))
	sb.WriteString(fmt.Sprintf("Existing context: %s...\n\n", contextPreview))
	sb.WriteString("Determine which sections need regeneration:\n")
	sb.WriteString("- requirement_gathering: ALWAYS include\n")
	sb.WriteString("- technical_architecture: Include if new features, tech stack, or integrations mentioned\n")
	sb.WriteString("- ux_design: Include if new user interactions or flows mentioned\n")
	sb.WriteString("- business_strategy: Include if target audience, pricing, or market changed\n\n")
	sb.WriteString(`Return ONLY a JSON array: ["section1", "section2"]`)

	return Prompt{
		Kind:   KindImpact,
		System: "You analyze how new requirements impact existing documentation and identify dependencies.",
		User:   sb.String(),
	}
}

// BuildChangeSummaryPrompt asks for a short bullet summary between two idea
// versions. delta may be empty.
func BuildChangeSummaryPrompt(oldIdea, newIdea, delta string) Prompt {
	var sb strings.Builder
	sb.WriteString("The user refined their AI agent idea. Summarize what changed:\n\n")
	sb.WriteString(fmt.Sprintf("Original idea: %s...\n", oldIdea))
	sb.WriteString(fmt.Sprintf("Updated idea: %s...\n", newIdea))
	if delta != "" {
		sb.WriteString(fmt.Sprintf("Added text: %s\n", delta))
	}
	sb.WriteString("\nCreate a bullet-point summary of KEY changes (3-5 bullets max).\n")
	sb.WriteString("Focus on: new features, tech changes, cost implications.")

	return Prompt{
		Kind:   KindChangeSummary,
		System: "You explain technical changes in simple, user-friendly terms.",
		User:   sb.String(),
	}
}

// EmailBrief is the input to the personalised email intro.
type EmailBrief struct {
	Name       string
	Idea       string
	Complexity string
	Features   []string
	Highlights map[session.Section]string
}

// BuildEmailIntroPrompt asks for a short personalised opening paragraph.
func BuildEmailIntroPrompt(b EmailBrief) Prompt {
	features := "custom AI agent"
	if len(b.Features) > 0 {
		features = strings.Join(b.Features, ", ")
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Write a warm two to three sentence opening paragraph of an email to %s about their AI agent idea.\n\n", b.Name))
	sb.WriteString(fmt.Sprintf("Idea:\n%s\n\n", b.Idea))
	sb.WriteString(fmt.Sprintf("Complexity level: %s\nKey features: %s\n\n", b.Complexity, features))
	for _, sec := range session.Sections {
		if h := b.Highlights[sec]; h != "" {
			sb.WriteString(fmt.Sprintf("%s highlights: %s\n", sec.Title(), h))
		}
	}
	sb.WriteString("\nReference one specific detail of their project. Plain text only, no greeting line, no signature.")

	return Prompt{
		Kind: KindEmailIntro,
		System: "You are an expert email copywriter for tech and AI products. " +
			"You write personal, engaging, action-oriented emails.",
		User: sb.String(),
	}
}
