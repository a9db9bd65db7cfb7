package platforms

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/ternarybob/venari/internal/models"
)

// fetchHTML retrieves a page over plain HTTP via colly. Used when no
// browser pool is configured or the site renders without JavaScript.
func fetchHTML(ctx context.Context, targetURL, userAgent string) (string, error) {
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(30 * time.Second)

	var html string
	var fetchErr error
	c.OnResponse(func(r *colly.Response) {
		html = string(r.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		switch {
		case r != nil && r.StatusCode == 429:
			fetchErr = fmt.Errorf("%w: %s throttled the request", models.ErrRateLimit, targetURL)
		case r != nil && (r.StatusCode == 403 || r.StatusCode == 451):
			fetchErr = fmt.Errorf("%w: %s refused the request (status %d)", models.ErrBlocked, targetURL, r.StatusCode)
		default:
			fetchErr = fmt.Errorf("%w: failed to fetch %s: %v", models.ErrNetwork, targetURL, err)
		}
	})

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := c.Visit(targetURL); err != nil && fetchErr == nil {
		fetchErr = fmt.Errorf("%w: failed to fetch %s: %v", models.ErrNetwork, targetURL, err)
	}
	c.Wait()

	if fetchErr != nil {
		return "", fetchErr
	}
	if html == "" {
		return "", fmt.Errorf("%w: empty response from %s", models.ErrNetwork, targetURL)
	}
	return html, nil
}

// parseSearchHTML extracts job records from a search results page using
// the platform's selector table. Zero cards is a parse failure.
func parseSearchHTML(html string, table *SelectorTable) ([]*models.JobRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse search page: %v", models.ErrParse, err)
	}

	var records []*models.JobRecord
	doc.Find(table.Search.JobCard).Each(func(_ int, card *goquery.Selection) {
		rec := &models.JobRecord{
			Platform:    table.Platform,
			Title:       text(card, table.Search.Title),
			Company:     text(card, table.Search.Company),
			Location:    text(card, table.Search.Location),
			Description: text(card, table.Search.Snippet),
		}
		if href, ok := card.Find(table.Search.JobLink).First().Attr("href"); ok {
			rec.URL = absoluteURL(table.BaseURL, href)
		}
		if salary := text(card, table.Search.Salary); salary != "" {
			rec.SalaryMin, rec.SalaryMax, rec.SalaryCurrency, rec.SalaryPeriod = parseSalaryText(salary)
			rec.SetRaw("salary_text", salary)
		}
		if rec.Title == "" && rec.URL == "" {
			return
		}
		records = append(records, rec)
	})

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no job cards matched selector %q", models.ErrParse, table.Search.JobCard)
	}
	return records, nil
}

// parseDetailHTML extracts one posting from its detail page. The
// description is converted to markdown so downstream stages work on clean
// text.
func parseDetailHTML(html, pageURL string, table *SelectorTable) (*models.JobRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse detail page: %v", models.ErrParse, err)
	}

	rec := &models.JobRecord{
		Platform: table.Platform,
		URL:      pageURL,
		Title:    text(doc.Selection, table.Detail.Title),
		Company:  text(doc.Selection, table.Detail.Company),
		Location: text(doc.Selection, table.Detail.Location),
	}
	if rec.Title == "" {
		return nil, fmt.Errorf("%w: no title matched selector %q", models.ErrParse, table.Detail.Title)
	}

	if desc := doc.Find(table.Detail.Description).First(); desc.Length() > 0 {
		descHTML, err := desc.Html()
		if err == nil {
			converter := md.NewConverter("", true, nil)
			if markdown, err := converter.ConvertString(descHTML); err == nil {
				rec.Description = strings.TrimSpace(markdown)
			}
		}
		if rec.Description == "" {
			rec.Description = strings.TrimSpace(desc.Text())
		}
	}
	if salary := text(doc.Selection, table.Detail.Salary); salary != "" {
		rec.SalaryMin, rec.SalaryMax, rec.SalaryCurrency, rec.SalaryPeriod = parseSalaryText(salary)
		rec.SetRaw("salary_text", salary)
	}
	if jobType := text(doc.Selection, table.Detail.JobType); jobType != "" {
		rec.JobType = models.NormalizeJobType(jobType)
	}
	return rec, nil
}

// extractLinks collects absolute posting URLs from a results page.
func extractLinks(html string, table *SelectorTable) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse results page: %v", models.ErrParse, err)
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find(table.Search.JobLink).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		abs := absoluteURL(table.BaseURL, href)
		if !seen[abs] {
			seen[abs] = true
			links = append(links, abs)
		}
	})
	return links, nil
}

func text(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(sel.Find(selector).First().Text())
}

func absoluteURL(base, href string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if parsed.IsAbs() {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(parsed).String()
}

// parseSalaryText pulls a salary range out of free-form text like
// "$120,000 - $150,000 a year" or "AU$60 per hour".
func parseSalaryText(s string) (min, max int, currency string, period models.SalaryPeriod) {
	lower := strings.ToLower(s)

	currency = "USD"
	switch {
	case strings.Contains(s, "AU$") || strings.Contains(lower, "aud"):
		currency = "AUD"
	case strings.Contains(s, "£") || strings.Contains(lower, "gbp"):
		currency = "GBP"
	case strings.Contains(s, "€") || strings.Contains(lower, "eur"):
		currency = "EUR"
	case strings.Contains(s, "CA$") || strings.Contains(lower, "cad"):
		currency = "CAD"
	}

	switch {
	case strings.Contains(lower, "hour"):
		period = models.SalaryPeriodHourly
	case strings.Contains(lower, "month"):
		period = models.SalaryPeriodMonthly
	case strings.Contains(lower, "year") || strings.Contains(lower, "annum"):
		period = models.SalaryPeriodYearly
	}

	amounts := extractAmounts(s)
	switch len(amounts) {
	case 0:
		return 0, 0, "", ""
	case 1:
		return amounts[0], amounts[0], currency, period
	default:
		return amounts[0], amounts[1], currency, period
	}
}

func extractAmounts(s string) []int {
	var amounts []int
	var digits strings.Builder
	flush := func() {
		if digits.Len() == 0 {
			return
		}
		n, err := strconv.Atoi(digits.String())
		digits.Reset()
		if err != nil || n <= 0 {
			return
		}
		// "120k" style shorthand
		amounts = append(amounts, n)
	}

	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == ',' && digits.Len() > 0:
			// thousands separator inside a number
		case (r == 'k' || r == 'K') && digits.Len() > 0:
			n, err := strconv.Atoi(digits.String())
			digits.Reset()
			if err == nil && n > 0 {
				amounts = append(amounts, n*1000)
			}
		default:
			flush()
		}
	}
	flush()

	// Filter artifacts like "401" from "401(k)" by keeping plausible values.
	var out []int
	for _, n := range amounts {
		if n >= 10 {
			out = append(out, n)
		}
	}
	return out
}
