package pipeline

import (
	"context"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/venari/internal/models"
)

const maxTitleLength = 200

// skillsDictionary are the technology terms the cleaning stage extracts
// from descriptions into the raw bag.
var skillsDictionary = []string{
	"go", "golang", "python", "java", "javascript", "typescript", "rust",
	"c++", "c#", "ruby", "php", "scala", "kotlin", "swift",
	"react", "angular", "vue", "node.js",
	"sql", "postgresql", "mysql", "sqlite", "mongodb", "redis", "elasticsearch",
	"kafka", "rabbitmq", "grpc", "rest", "graphql",
	"docker", "kubernetes", "terraform", "ansible",
	"aws", "gcp", "azure",
	"ci/cd", "git", "linux", "agile", "scrum",
	"machine learning", "data engineering", "etl",
}

var whitespacePattern = regexp.MustCompile(`\s+`)

// CleaningStage normalizes text fields: strips residual HTML, decodes
// entities, collapses whitespace, bounds the title, and extracts a skills
// list from the description.
type CleaningStage struct{}

func (s *CleaningStage) Name() models.StageName { return models.StageCleaning }
func (s *CleaningStage) Parallel() bool         { return true }

func (s *CleaningStage) Process(ctx context.Context, rec *models.JobRecord) *models.PipelineResult {
	rec.Title = cleanText(rec.Title)
	if len(rec.Title) > maxTitleLength {
		rec.Title = strings.TrimSpace(rec.Title[:maxTitleLength])
	}
	rec.Company = cleanText(rec.Company)
	rec.Location = cleanText(rec.Location)
	rec.Description = cleanDescription(rec.Description)

	if skills := extractSkills(rec.Description + " " + rec.Title); len(skills) > 0 {
		rec.SetRaw("skills", skills)
	}
	return &models.PipelineResult{Status: models.ItemCompleted, Data: rec}
}

func cleanText(s string) string {
	s = html.UnescapeString(s)
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// cleanDescription additionally strips any HTML tags that survived
// acquisition.
func cleanDescription(s string) string {
	if s == "" {
		return ""
	}
	if strings.Contains(s, "<") && strings.Contains(s, ">") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	return cleanText(s)
}

func extractSkills(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, skill := range skillsDictionary {
		if containsToken(lower, skill) {
			found = append(found, skill)
		}
	}
	return found
}

// containsToken matches a skill on word boundaries so "go" does not fire
// inside "google".
func containsToken(text, skill string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], skill)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(skill)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
