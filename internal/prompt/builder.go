// Package prompt builds the system prompt for the chat assistant and parses
// the follow-up suggestions block out of finished replies.
package prompt

import (
	"strings"
	"text/template"

	"github.com/framestudio/agency-assistant/internal/model"
)

// SuggestionsDelimiter separates the answer from the follow-up suggestions.
const SuggestionsDelimiter = "[SUGGESTIONS]"

const (
	englishLanguageRule = "Always respond in English, even if the visitor writes in another language."
	greekLanguageRule   = "Απάντα πάντα στα ελληνικά, ακόμη κι αν ο επισκέπτης γράφει σε άλλη γλώσσα."
)

// Facts are the static business details every prompt carries.
type Facts struct {
	Name       string
	Location   string
	Email      string
	Phone      string
	BookingURL string
}

const englishTemplate = `You are the website assistant of {{.Facts.Name}}, a video production agency based in {{.Facts.Location}}.
Help visitors with questions about our services, process, pricing and availability. Keep answers short, warm and concrete. Never invent prices, dates or clients that are not in the knowledge below. If the knowledge does not answer the question, say so and point the visitor to the team.

LANGUAGE
{{.LanguageRule}}

KNOWLEDGE
{{.Knowledge}}

CONTACT
Email: {{.Facts.Email}}
Phone: {{.Facts.Phone}}
Book a call: {{.Facts.BookingURL}}

FOLLOW-UP SUGGESTIONS
After your answer, write the line ` + SuggestionsDelimiter + ` and then exactly 3 follow-up suggestions the visitor could send next, one per line.
Each suggestion must be under 40 characters.
Exactly one suggestion must be a call to action, such as booking a call or asking for a quote.
Do not number the suggestions and do not write anything after them.`

const greekTemplate = `Είσαι ο βοηθός της ιστοσελίδας του {{.Facts.Name}}, ενός γραφείου παραγωγής βίντεο με έδρα: {{.Facts.Location}}.
Βοήθα τους επισκέπτες με ερωτήσεις για τις υπηρεσίες, τη διαδικασία, τις τιμές και τη διαθεσιμότητά μας. Οι απαντήσεις να είναι σύντομες, φιλικές και συγκεκριμένες. Μην επινοείς τιμές, ημερομηνίες ή πελάτες που δεν υπάρχουν στις πληροφορίες παρακάτω. Αν οι πληροφορίες δεν καλύπτουν την ερώτηση, πες το και παράπεμψε τον επισκέπτη στην ομάδα.

ΓΛΩΣΣΑ
{{.LanguageRule}}

ΠΛΗΡΟΦΟΡΙΕΣ
{{.Knowledge}}

ΕΠΙΚΟΙΝΩΝΙΑ
Email: {{.Facts.Email}}
Τηλέφωνο: {{.Facts.Phone}}
Κλείστε ραντεβού: {{.Facts.BookingURL}}

ΠΡΟΤΑΣΕΙΣ ΣΥΝΕΧΕΙΑΣ
Μετά την απάντησή σου, γράψε τη γραμμή ` + SuggestionsDelimiter + ` και μετά ακριβώς 3 προτάσεις που θα μπορούσε να στείλει ο επισκέπτης, μία ανά γραμμή.
Κάθε πρόταση πρέπει να έχει λιγότερους από 40 χαρακτήρες.
Ακριβώς μία πρόταση πρέπει να είναι κάλεσμα σε δράση, όπως κλείσιμο ραντεβού ή αίτημα προσφοράς.
Μην αριθμείς τις προτάσεις και μη γράφεις τίποτα μετά από αυτές.`

const (
	englishFallback = "No specific knowledge matched this question. Answer from the contact details above and offer to put the visitor in touch with the team."
	greekFallback   = "Δεν βρέθηκαν σχετικές πληροφορίες για αυτή την ερώτηση. Απάντησε με βάση τα στοιχεία επικοινωνίας και πρότεινε στον επισκέπτη να έρθει σε επαφή με την ομάδα."
)

type localized struct {
	tmpl     *template.Template
	rule     string
	fallback string
}

type templateData struct {
	Facts        Facts
	LanguageRule string
	Knowledge    string
}

// Builder renders system prompts. It holds no mutable state and is safe for
// concurrent use.
type Builder struct {
	facts     Facts
	languages map[model.Language]localized
}

// NewBuilder parses the prompt templates and binds the business facts.
func NewBuilder(facts Facts) *Builder {
	return &Builder{
		facts: facts,
		languages: map[model.Language]localized{
			model.LanguageEnglish: {
				tmpl:     template.Must(template.New("en").Parse(englishTemplate)),
				rule:     englishLanguageRule,
				fallback: englishFallback,
			},
			model.LanguageGreek: {
				tmpl:     template.Must(template.New("el").Parse(greekTemplate)),
				rule:     greekLanguageRule,
				fallback: greekFallback,
			},
		},
	}
}

// Build returns the system prompt for lang with contextText interpolated
// verbatim. Unknown languages render in English. The output depends only on
// the arguments and the facts given to NewBuilder.
func (b *Builder) Build(lang model.Language, contextText string) string {
	l, ok := b.languages[lang]
	if !ok {
		l = b.languages[model.LanguageEnglish]
	}

	knowledge := contextText
	if strings.TrimSpace(knowledge) == "" {
		knowledge = l.fallback
	}

	var out strings.Builder
	// Execution only fails on writer errors or missing fields; neither can
	// happen here.
	_ = l.tmpl.Execute(&out, templateData{
		Facts:        b.facts,
		LanguageRule: l.rule,
		Knowledge:    knowledge,
	})
	return out.String()
}

// FormatContext joins retrieved entries into the knowledge text of a prompt,
// preferring each entry's content in lang.
func FormatContext(entries []model.ScoredEntry, lang model.Language) string {
	var b strings.Builder
	for _, e := range entries {
		content := strings.TrimSpace(e.Entry.LocalizedContent(lang))
		if content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(e.Entry.Title)
		b.WriteString("\n")
		b.WriteString(content)
	}
	return b.String()
}
