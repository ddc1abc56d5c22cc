package models

import (
	"fmt"
	"strings"
	"time"
)

// PersonalInfo holds identity and free-text background for a user.
type PersonalInfo struct {
	FirstName  string   `json:"first_name"`
	LastName   string   `json:"last_name"`
	Email      string   `json:"email,omitempty"`
	City       string   `json:"city,omitempty"`
	Country    string   `json:"country,omitempty"`
	Headline   string   `json:"headline,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	Background string   `json:"background,omitempty"`
	Interests  []string `json:"interests,omitempty"`
}

// WritingPreferences captures the user's preferred voice.
type WritingPreferences struct {
	Tone          string   `json:"tone,omitempty"`
	Style         string   `json:"style,omitempty"`
	CommonPhrases []string `json:"common_phrases,omitempty"`
}

// Education is one education history entry.
type Education struct {
	School       string `json:"school"`
	Degree       string `json:"degree"`
	FieldOfStudy string `json:"field_of_study,omitempty"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
	Description  string `json:"description,omitempty"`
}

// Experience is one work history entry.
type Experience struct {
	Company      string   `json:"company"`
	Position     string   `json:"position"`
	StartDate    string   `json:"start_date,omitempty"`
	EndDate      string   `json:"end_date,omitempty"`
	Description  string   `json:"description,omitempty"`
	Achievements string   `json:"achievements,omitempty"`
	Skills       []string `json:"skills,omitempty"`
}

// Skill is one skill entry.
type Skill struct {
	Name            string `json:"name"`
	Proficiency     string `json:"proficiency,omitempty"`
	YearsExperience int    `json:"years_experience,omitempty"`
}

// UserProfile is the personalization record for a user. The styling and
// gap-check stages read it; the profile API writes it.
type UserProfile struct {
	UserID             string             `json:"user_id"`
	PersonalInfo       PersonalInfo       `json:"personal_info"`
	WritingPreferences WritingPreferences `json:"writing_preferences"`
	Education          []Education        `json:"education,omitempty"`
	Experience         []Experience       `json:"experience,omitempty"`
	Skills             []Skill            `json:"skills,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// PromptSummary renders the profile as compact prompt context. Sections with
// no data are omitted.
func (p *UserProfile) PromptSummary() string {
	var b strings.Builder
	name := strings.TrimSpace(p.PersonalInfo.FirstName + " " + p.PersonalInfo.LastName)
	if name != "" {
		fmt.Fprintf(&b, "Name: %s\n", name)
	}
	if p.PersonalInfo.Headline != "" {
		fmt.Fprintf(&b, "Headline: %s\n", p.PersonalInfo.Headline)
	}
	if p.PersonalInfo.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", p.PersonalInfo.Summary)
	}
	if p.PersonalInfo.Background != "" {
		fmt.Fprintf(&b, "Background: %s\n", p.PersonalInfo.Background)
	}
	for _, e := range p.Education {
		fmt.Fprintf(&b, "Education: %s", e.Degree)
		if e.FieldOfStudy != "" {
			fmt.Fprintf(&b, " in %s", e.FieldOfStudy)
		}
		fmt.Fprintf(&b, " at %s\n", e.School)
	}
	for _, e := range p.Experience {
		fmt.Fprintf(&b, "Experience: %s at %s", e.Position, e.Company)
		if e.Description != "" {
			fmt.Fprintf(&b, ". %s", e.Description)
		}
		b.WriteString("\n")
	}
	if len(p.Skills) > 0 {
		names := make([]string, 0, len(p.Skills))
		for _, s := range p.Skills {
			names = append(names, s.Name)
		}
		fmt.Fprintf(&b, "Skills: %s\n", strings.Join(names, ", "))
	}
	if p.WritingPreferences.Tone != "" {
		fmt.Fprintf(&b, "Preferred tone: %s\n", p.WritingPreferences.Tone)
	}
	if p.WritingPreferences.Style != "" {
		fmt.Fprintf(&b, "Preferred style: %s\n", p.WritingPreferences.Style)
	}
	return strings.TrimRight(b.String(), "\n")
}

// WritingSample is a saved high-quality artifact used as a voice reference
// for later runs.
type WritingSample struct {
	SampleID     string                 `json:"sample_id"`
	UserID       string                 `json:"user_id"`
	Content      string                 `json:"content"`
	Category     string                 `json:"type"`
	Context      map[string]interface{} `json:"context,omitempty"`
	QualityScore float64                `json:"quality_score,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// IndexText renders the sample as a single retrievable passage for the
// vector index, prefixed with its request context.
func (s *WritingSample) IndexText() string {
	var prefix string
	ctx := s.Context
	str := func(key string) string {
		if ctx == nil {
			return ""
		}
		v, _ := ctx[key].(string)
		return v
	}
	switch s.Category {
	case CategoryCoverLetter:
		switch {
		case str("job_title") != "" && str("company") != "":
			prefix = fmt.Sprintf("Cover letter for %s position at %s", str("job_title"), str("company"))
		case str("job_title") != "":
			prefix = fmt.Sprintf("Cover letter for %s position", str("job_title"))
		case str("company") != "":
			prefix = fmt.Sprintf("Cover letter for position at %s", str("company"))
		default:
			prefix = "Cover letter for job application"
		}
	case CategoryMotivationalLetter:
		switch {
		case str("program_name") != "" && str("scholarship_name") != "":
			prefix = fmt.Sprintf("Motivational letter for %s with %s", str("program_name"), str("scholarship_name"))
		case str("program_name") != "":
			prefix = fmt.Sprintf("Motivational letter for %s", str("program_name"))
		case str("scholarship_name") != "":
			prefix = fmt.Sprintf("Motivational letter for %s", str("scholarship_name"))
		default:
			prefix = "Motivational letter for program application"
		}
	case CategoryEmail:
		if subj := str("subject"); subj != "" {
			prefix = fmt.Sprintf("Email about %s", subj)
		} else {
			prefix = "Email correspondence"
		}
	case CategorySocialResponse:
		if post := str("post_content"); post != "" {
			if len(post) > 50 {
				post = post[:50] + "..."
			}
			prefix = fmt.Sprintf("Social media response to: %s", post)
		} else {
			prefix = "Social media response"
		}
	default:
		prefix = strings.ReplaceAll(s.Category, "_", " ")
	}
	return prefix + ". " + s.Content
}
