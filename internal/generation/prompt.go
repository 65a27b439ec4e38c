package generation

import (
	"fmt"
	"strings"

	"github.com/sopworks/sop-api/internal/models"
)

var frameworkGuidance = map[models.RegulatoryFramework]string{
	models.FrameworkFDA21CFR211: "FDA 21 CFR Part 211 - current Good Manufacturing Practice for finished pharmaceuticals",
	models.FrameworkICHQ7:       "ICH Q7 - GMP guide for active pharmaceutical ingredients",
	models.FrameworkICHQ10:      "ICH Q10 - pharmaceutical quality system",
	models.FrameworkWHOGMP:      "WHO GMP - good manufacturing practices for pharmaceutical products",
	models.FrameworkEMAGMP:      "EMA GMP - EudraLex Volume 4 guidelines",
	models.FrameworkISO9001:     "ISO 9001 - quality management systems",
	models.FrameworkISO14001:    "ISO 14001 - environmental management systems",
}

// buildPrompt renders the generation prompt for one input descriptor. Section
// headers are numbered so the response parser can split them back out.
func buildPrompt(input Input) string {
	var b strings.Builder

	b.WriteString("You are a pharmaceutical documentation specialist. Write a Standard Operating Procedure (SOP) for a regulated manufacturing environment.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", input.Title)
	fmt.Fprintf(&b, "Description: %s\n", input.Description)
	if input.Department != "" {
		fmt.Fprintf(&b, "Department: %s\n", input.Department)
	}

	if len(input.Frameworks) > 0 {
		b.WriteString("\nApplicable regulatory frameworks:\n")
		for _, f := range input.Frameworks {
			guidance, ok := frameworkGuidance[f]
			if !ok {
				guidance = string(f)
			}
			fmt.Fprintf(&b, "- %s\n", guidance)
		}
	}

	b.WriteString("\nProduce exactly the following sections, each starting on its own line with its number and title:\n")
	for i, s := range input.Sections {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.Title)
		if s.Instructions != "" {
			fmt.Fprintf(&b, "   Guidance: %s\n", s.Instructions)
		}
	}

	if strings.TrimSpace(input.Requirements) != "" {
		b.WriteString("\nAdditional requirements:\n")
		b.WriteString(input.Requirements)
		b.WriteString("\n")
	}

	b.WriteString("\nUse precise GMP terminology, write in imperative voice, and do not include content outside the numbered sections.")
	return b.String()
}

// parseSections splits a generated response on the numbered section headers
// requested by the prompt. Returned map keys are normalized section titles.
func parseSections(response string, requested []models.SectionRequest) map[string]string {
	headers := make(map[string]string, len(requested))
	for i, s := range requested {
		headers[fmt.Sprintf("%d. %s", i+1, strings.TrimSpace(s.Title))] = normalizeTitle(s.Title)
	}

	produced := make(map[string]string, len(requested))
	var current string
	var body []string

	flush := func() {
		if current != "" && len(body) > 0 {
			produced[current] = strings.TrimSpace(strings.Join(body, "\n"))
		}
		body = body[:0]
	}

	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		if key, ok := matchHeader(trimmed, headers); ok {
			flush()
			current = key
			continue
		}
		if current != "" {
			body = append(body, line)
		}
	}
	flush()
	return produced
}

func matchHeader(line string, headers map[string]string) (string, bool) {
	if line == "" {
		return "", false
	}
	cleaned := strings.TrimRight(strings.TrimLeft(line, "#* "), ":* ")
	for header, key := range headers {
		if strings.EqualFold(cleaned, header) {
			return key, true
		}
	}
	return "", false
}
