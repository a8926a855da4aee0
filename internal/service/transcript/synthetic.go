package transcript

import "crm-call-service/internal/models"

// Line is one canned transcript line.
type Line struct {
	Speaker models.Speaker
	Text    string
}

// Greeting opens a synthetic transcript.
var Greeting = Line{
	Speaker: models.SpeakerAI,
	Text:    "Hello! This is your AI assistant calling. How are you doing today?",
}

// DefaultExchanges provides the canned AI/caller lines replayed in synthetic mode.
var DefaultExchanges = []Line{
	{models.SpeakerCaller, "Hi, yes, I'm doing well. What is this regarding?"},
	{models.SpeakerAI, "I'm following up on your recent inquiry about our services."},
	{models.SpeakerCaller, "Oh right, I did fill out a form last week."},
	{models.SpeakerAI, "Great. Do you have a few minutes to go over the options?"},
	{models.SpeakerCaller, "Sure, but I'd like to understand the pricing first."},
	{models.SpeakerAI, "Of course. Our plans start with a basic tier and scale with your team."},
	{models.SpeakerCaller, "That sounds reasonable. Can you send me the details by email?"},
	{models.SpeakerAI, "Absolutely, I'll send a summary right after this call."},
	{models.SpeakerCaller, "Thank you very much."},
	{models.SpeakerAI, "Is there anything else I can help you with today?"},
}

// Script cycles through a pool of canned lines.
type Script struct {
	lines []Line
	next  int
}

// NewScript creates a script over lines, or DefaultExchanges when empty.
func NewScript(lines []Line) *Script {
	if len(lines) == 0 {
		lines = DefaultExchanges
	}
	return &Script{lines: lines}
}

// Next returns the next line, wrapping around at the end of the pool.
func (s *Script) Next() Line {
	l := s.lines[s.next%len(s.lines)]
	s.next++
	return l
}
