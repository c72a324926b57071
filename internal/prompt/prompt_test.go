package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/framestudio/agency-assistant/internal/model"
)

var testFacts = Facts{
	Name:       "Frame Studio",
	Location:   "Athens, Greece",
	Email:      "hello@framestudio.gr",
	Phone:      "+30 210 000 0000",
	BookingURL: "https://framestudio.gr/contact",
}

func TestBuild_Deterministic(t *testing.T) {
	b := NewBuilder(testFacts)

	assert.Equal(t, b.Build(model.LanguageEnglish, "X"), b.Build(model.LanguageEnglish, "X"))
	assert.Equal(t, b.Build(model.LanguageGreek, ""), NewBuilder(testFacts).Build(model.LanguageGreek, ""))
}

func TestBuild_LanguageSeparation(t *testing.T) {
	b := NewBuilder(testFacts)

	for _, ctx := range []string{"", "Turnaround is ten working days.", "Τιμές από 900€"} {
		el := b.Build(model.LanguageGreek, ctx)
		assert.Contains(t, el, greekLanguageRule)
		assert.NotContains(t, el, englishLanguageRule)

		en := b.Build(model.LanguageEnglish, ctx)
		assert.Contains(t, en, englishLanguageRule)
		assert.NotContains(t, en, greekLanguageRule)
	}
}

func TestBuild_ContextAndFacts(t *testing.T) {
	b := NewBuilder(testFacts)
	ctx := "## Turnaround\nTen working days <for> edits & grading."

	p := b.Build(model.LanguageEnglish, ctx)

	assert.Contains(t, p, ctx)
	assert.NotContains(t, p, englishFallback)
	assert.Contains(t, p, SuggestionsDelimiter)
	assert.Contains(t, p, "exactly 3")
	assert.Contains(t, p, "under 40 characters")
	assert.Contains(t, p, testFacts.Email)
	assert.Contains(t, p, testFacts.Phone)
	assert.Contains(t, p, testFacts.BookingURL)
}

func TestBuild_FallbackWhenContextEmpty(t *testing.T) {
	b := NewBuilder(testFacts)

	assert.Contains(t, b.Build(model.LanguageEnglish, "  "), englishFallback)
	assert.Contains(t, b.Build(model.LanguageGreek, ""), greekFallback)
	assert.Contains(t, b.Build(model.LanguageGreek, ""), SuggestionsDelimiter)
}

func TestBuild_UnknownLanguageUsesEnglish(t *testing.T) {
	b := NewBuilder(testFacts)

	assert.Equal(t, b.Build(model.LanguageEnglish, "X"), b.Build(model.Language("de"), "X"))
}

func TestFormatContext(t *testing.T) {
	entries := []model.ScoredEntry{
		{Entry: model.KnowledgeEntry{Title: "Turnaround", Content: "2 weeks", ContentEN: "Ten working days", ContentEL: "Δέκα εργάσιμες"}},
		{Entry: model.KnowledgeEntry{Title: "Studio", Content: "Kerameikos"}},
		{Entry: model.KnowledgeEntry{Title: "Empty"}},
	}

	assert.Equal(t, "## Turnaround\nTen working days\n\n## Studio\nKerameikos", FormatContext(entries, model.LanguageEnglish))
	assert.Equal(t, "## Turnaround\nΔέκα εργάσιμες\n\n## Studio\nKerameikos", FormatContext(entries, model.LanguageGreek))
	assert.Empty(t, FormatContext(nil, model.LanguageEnglish))
}

func TestSplitSuggestions(t *testing.T) {
	tests := []struct {
		name        string
		reply       string
		answer      string
		suggestions []string
	}{
		{
			name:   "no block",
			reply:  "  We deliver in ten working days. ",
			answer: "We deliver in ten working days.",
		},
		{
			name:        "three lines",
			reply:       "We deliver in ten working days.\n\n[SUGGESTIONS]\nWhat does it cost?\nDo you travel?\nBook a call",
			answer:      "We deliver in ten working days.",
			suggestions: []string{"What does it cost?", "Do you travel?", "Book a call"},
		},
		{
			name:        "bullets and extra lines",
			reply:       "Yes.\n[SUGGESTIONS]\n- Pricing?\n\n2. Portfolio\n* Book a call\nOne more",
			answer:      "Yes.",
			suggestions: []string{"Pricing?", "Portfolio", "Book a call"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answer, suggestions := SplitSuggestions(tt.reply)
			assert.Equal(t, tt.answer, answer)
			assert.Equal(t, tt.suggestions, suggestions)
		})
	}
}
