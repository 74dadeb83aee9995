package projects

import (
	"regexp"
	"strings"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s, collapses every run of characters outside [a-z0-9]
// into a single '-' and trims leading and trailing dashes.
func Slugify(s string) string {
	return strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// FormPath is the public order-form path for a salesperson on a project.
func FormPath(projectSlug, salespersonSlug string) string {
	return "/form/" + projectSlug + "/" + salespersonSlug
}
