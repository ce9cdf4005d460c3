package pipeline

import (
	"context"
	"strings"
	"unicode"

	"github.com/berinia/conductor/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var domainTypos = map[string]string{
	"gmial.com":   "gmail.com",
	"gmai.com":    "gmail.com",
	"hotmial.com": "hotmail.com",
	"yahooo.com":  "yahoo.com",
	"outlok.com":  "outlook.com",
}

// Clean normalizes contact fields and drops unusable or repeated contacts.
type Clean struct{}

func NewClean() *Clean { return &Clean{} }

func (s *Clean) Name() models.StageName { return models.StageClean }

func (s *Clean) Process(ctx context.Context, items []models.Lead, _ *RunContext) (*Result, error) {
	title := cases.Title(language.Und)
	seen := make(map[string]bool, len(items))

	return ProcessEach(ctx, items, func(_ context.Context, _ int, lead models.Lead) (models.Lead, Outcome, error) {
		lead.Name = title.String(strings.Join(strings.Fields(lead.Name), " "))
		lead.Email = NormalizeEmail(lead.Email)
		lead.Phone = NormalizePhone(lead.Phone)
		lead.Company = strings.TrimSpace(lead.Company)
		lead.JobTitle = strings.TrimSpace(lead.JobTitle)
		lead.Website = strings.TrimSpace(lead.Website)

		switch {
		case !models.ValidEmail(lead.Email):
			return lead, Dropped("invalid email"), nil
		case len([]rune(lead.Name)) < 2:
			return lead, Dropped("name too short"), nil
		case seen[lead.Email]:
			return lead, Dropped("duplicate email"), nil
		}
		seen[lead.Email] = true
		return lead, Kept(), nil
	})
}

// NormalizeEmail lower-cases an address and fixes common domain typos.
func NormalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	if fixed, ok := domainTypos[email[at+1:]]; ok {
		return email[:at+1] + fixed
	}
	return email
}

// NormalizePhone keeps digits and a leading plus. Ten-digit national
// numbers starting with 0 are rewritten to +33.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range phone {
		if unicode.IsDigit(r) || (i == 0 && r == '+') {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 && digits[0] == '0' {
		return "+33" + digits[1:]
	}
	return digits
}
