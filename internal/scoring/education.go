package scoring

import (
	"strings"

	"github.com/terra-clan/assessment-engine/internal/models"
)

// educationTier maps free-text education labels to years of schooling.
// Labels are matched by substring, first tier wins, so narrower labels
// ("junior high") come before wider ones ("high school").
type educationTier struct {
	years   int
	aliases []string
}

var educationTiers = []educationTier{
	{0, []string{"illiterate", "no formal", "文盲"}},
	{6, []string{"primary", "elementary", "小学"}},
	{9, []string{"junior", "middle school", "初中"}},
	{12, []string{"senior high", "high school", "secondary", "vocational", "高中", "中专"}},
	{15, []string{"college", "associate", "大专"}},
	{16, []string{"bachelor", "undergraduate", "本科"}},
	{19, []string{"master", "硕士"}},
	{22, []string{"doctor", "phd", "博士"}},
}

// defaultEducationYears applies to a recognised profile with an unmatched label
const defaultEducationYears = 12

// educationYears returns the estimated years of schooling and whether the
// profile carried an education label at all.
func educationYears(profile *models.SubjectProfile) (int, bool) {
	label := strings.ToLower(strings.TrimSpace(profile.EducationLabel()))
	if label == "" {
		return 0, false
	}
	for _, tier := range educationTiers {
		for _, alias := range tier.aliases {
			if strings.Contains(label, alias) {
				return tier.years, true
			}
		}
	}
	return defaultEducationYears, true
}
