package enrich

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/adubovik/freshscrape/internal/pipeline"
)

// MockAnalyzer derives a plausible analysis from the record's own fields
// without calling any external service. Deterministic per product, so
// repeated runs and tests see stable columns.
type MockAnalyzer struct{}

func (MockAnalyzer) Analyze(_ context.Context, rec pipeline.Record) (map[string]interface{}, error) {
	seed := fnv.New32a()
	seed.Write([]byte(rec.URL))
	h := seed.Sum32()

	rating := func(shift uint32) int { return int((h>>shift)%5) + 1 }

	proteins := parseF(rec.Field("proteins"))
	carbs := parseF(rec.Field("carbohydrates"))
	fats := parseF(rec.Field("fats"))

	role := "Other"
	switch {
	case proteins > 15:
		role = "Primary Protein Source"
	case carbs > 30:
		role = "Primary Carb Source"
	case fats > 20:
		role = "Primary Fat Source"
	}

	var tags []string
	if proteins > 10 {
		tags = append(tags, "Good Source of Protein")
	}
	if strings.Contains(strings.ToLower(rec.Field("content")), "клетчатка") {
		tags = append(tags, "High Fiber")
	}

	return map[string]interface{}{
		"meal_suitability": map[string]interface{}{
			"breakfast_rating": rating(0),
			"lunch_rating":     rating(3),
			"dinner_rating":    rating(6),
			"snack_rating":     rating(9),
		},
		"diet_goals": map[string]interface{}{
			"weight_loss_rating":    rating(12),
			"muscle_gain_rating":    rating(15),
			"general_health_rating": rating(18),
		},
		"meal_component_role": role,
		"health_benefit_tags": tags,
		"satiety_index_estimate": pick(h, []string{
			"Low", "Medium", "High",
		}),
		"likely_contains_added_sugar": strings.Contains(strings.ToLower(rec.Field("content")), "сахар"),
	}, nil
}

func pick(h uint32, options []string) string {
	return options[int(h)%len(options)]
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
	return v
}
