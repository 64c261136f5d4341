package ozon

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/adubovik/freshscrape/internal/pipeline"
)

var nonNumericRe = regexp.MustCompile(`[^0-9.,]`)

// flexString decodes JSON strings and numbers alike; the JSON-LD block is
// inconsistent about which one it emits for prices and ratings.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// productPayload bundles the two composer responses a product needs: the
// main layout page and the second layout page carrying description and
// characteristics. Second may be absent when its fetch failed.
type productPayload struct {
	Main   json.RawMessage `json:"main"`
	Second json.RawMessage `json:"second,omitempty"`
}

// extractProduct folds both composer pages into a product record. Missing
// widgets leave their fields empty; the record is always usable.
func extractProduct(payload productPayload, productURL string, now func() time.Time) (pipeline.Record, error) {
	rec := pipeline.Record{URL: productURL, Fields: make(map[string]string)}
	if now == nil {
		now = time.Now
	}
	rec.Set("last_upd_time", now().Format("2006-01-02 15:04:05"))
	rec.Set("html_path", "")

	main, err := parseComposerPage(payload.Main)
	if err != nil {
		return rec, err
	}

	extractHeading(main, &rec)
	extractNutrition(main, &rec)
	extractCategory(main, &rec)
	extractSeo(main, &rec)

	if len(payload.Second) > 0 {
		if second, err := parseComposerPage(payload.Second); err == nil {
			extractComposition(second, &rec)
			extractWeight(second, &rec)
		}
	}

	extractRatios(&rec)
	return rec, nil
}

func extractHeading(page *composerPage, rec *pipeline.Record) {
	raw, ok := page.widget("webProductHeading")
	if !ok {
		return
	}
	var heading struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(raw), &heading); err == nil {
		rec.Set("name", heading.Title)
	}
}

// extractNutrition reads the per-100g macro list. When any macro is present
// the absent ones are zero-filled, so a record never mixes known and
// unknown macros.
func extractNutrition(page *composerPage, rec *pipeline.Record) {
	raw, ok := page.widget("webNutritionInfo")
	if !ok {
		return
	}
	var nutrition struct {
		Values []struct {
			Label string `json:"label"`
			Value string `json:"value"`
		} `json:"values"`
	}
	if err := json.Unmarshal([]byte(raw), &nutrition); err != nil {
		return
	}

	proteins, fats, carbs, calories := "", "", "", ""
	for _, item := range nutrition.Values {
		label := strings.ToLower(item.Label)
		switch {
		case strings.Contains(label, "белки") || strings.Contains(label, "protein"):
			proteins = item.Value
		case strings.Contains(label, "жиры") || strings.Contains(label, "fat"):
			fats = item.Value
		case strings.Contains(label, "углеводы") || strings.Contains(label, "carbohydrate"):
			carbs = item.Value
		case strings.Contains(label, "ккал") || strings.Contains(label, "calorie"):
			calories = item.Value
		}
	}

	if proteins != "" || fats != "" || carbs != "" {
		if proteins == "" {
			proteins = "0"
		}
		if fats == "" {
			fats = "0"
		}
		if carbs == "" {
			carbs = "0"
		}
	}

	rec.Set("proteins", proteins)
	rec.Set("fats", fats)
	rec.Set("carbohydrates", carbs)
	rec.Set("calories", calories)
}

// extractCategory prefers the breadcrumb trail and falls back to the layout
// tracking hierarchy; both are flattened with '#' separators.
func extractCategory(page *composerPage, rec *pipeline.Record) {
	if page.LayoutTrackingInfo != "" {
		var tracking struct {
			Hierarchy string `json:"hierarchy"`
		}
		if err := json.Unmarshal([]byte(page.LayoutTrackingInfo), &tracking); err == nil && tracking.Hierarchy != "" {
			rec.Set("category", strings.ReplaceAll(tracking.Hierarchy, "/", "#"))
		}
	}

	raw, ok := page.widget("breadCrumbs")
	if !ok {
		return
	}
	var crumbs struct {
		Breadcrumbs []struct {
			Text string `json:"text"`
		} `json:"breadcrumbs"`
	}
	if err := json.Unmarshal([]byte(raw), &crumbs); err != nil || len(crumbs.Breadcrumbs) == 0 {
		return
	}
	parts := make([]string, 0, len(crumbs.Breadcrumbs))
	for _, crumb := range crumbs.Breadcrumbs {
		parts = append(parts, crumb.Text)
	}
	rec.Set("category", strings.Join(parts, "#"))
}

// extractSeo reads the JSON-LD block: price, stock state, rating, image and
// the description, plus the name when the heading widget was missing.
func extractSeo(page *composerPage, rec *pipeline.Record) {
	for _, script := range page.Seo.Script {
		if script.Type != "application/ld+json" {
			continue
		}
		var ld struct {
			Name        string          `json:"name"`
			Image       string          `json:"image"`
			Description string          `json:"description"`
			Offers      json.RawMessage `json:"offers"`
			Rating      struct {
				RatingValue flexString `json:"ratingValue"`
				ReviewCount flexString `json:"reviewCount"`
			} `json:"aggregateRating"`
		}
		if err := json.Unmarshal([]byte(script.InnerHTML), &ld); err != nil {
			continue
		}

		var offers struct {
			Price        flexString `json:"price"`
			Availability string     `json:"availability"`
		}
		if len(ld.Offers) > 0 && json.Unmarshal(ld.Offers, &offers) == nil {
			rec.Set("price", string(offers.Price))
			if offers.Availability == "http://schema.org/InStock" {
				rec.Set("availability", "1")
			} else {
				rec.Set("availability", "0")
			}
		}

		rec.Set("average_rating", string(ld.Rating.RatingValue))
		rec.Set("rating_count", string(ld.Rating.ReviewCount))
		rec.Set("imgUrl", ld.Image)
		if rec.Field("name") == "" {
			rec.Set("name", ld.Name)
		}
		if ld.Description != "" {
			rec.Set("description", ld.Description)
		}
		return
	}
}

// extractComposition pulls the ingredients line out of the long-form
// description characteristics on the second layout page.
func extractComposition(page *composerPage, rec *pipeline.Record) {
	raw, ok := page.widget("webDescription")
	if !ok {
		return
	}
	var desc struct {
		Characteristics []struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		} `json:"characteristics"`
	}
	if err := json.Unmarshal([]byte(raw), &desc); err != nil {
		return
	}
	for _, item := range desc.Characteristics {
		content := strings.TrimSpace(item.Content)
		if content == "" {
			continue
		}
		title := strings.ToLower(item.Title)
		if strings.Contains(title, "состав") || strings.Contains(title, "composition") {
			rec.Set("content", content)
		}
	}
}

// extractWeight finds the weight or volume characteristic and normalizes it
// to grams: millilitres count as grams, litres multiply by 1000.
func extractWeight(page *composerPage, rec *pipeline.Record) {
	raw, ok := page.widget("webCharacteristics")
	if !ok {
		return
	}
	var chars struct {
		Characteristics []struct {
			Short []struct {
				Name   string `json:"name"`
				Key    string `json:"key"`
				Values []struct {
					Text string `json:"text"`
				} `json:"values"`
			} `json:"short"`
		} `json:"characteristics"`
	}
	if err := json.Unmarshal([]byte(raw), &chars); err != nil {
		return
	}

	var found string
	for _, section := range chars.Characteristics {
		for _, item := range section.Short {
			name := strings.ToLower(item.Name)
			key := strings.ToLower(item.Key)
			isWeight := strings.Contains(name, "вес") || strings.Contains(key, "weight")
			isVolume := strings.Contains(name, "объем") || strings.Contains(key, "volume")
			if (isWeight || isVolume) && len(item.Values) > 0 {
				found = strings.TrimSpace(item.Values[0].Text)
			}
			if found != "" {
				break
			}
		}
		if found != "" {
			break
		}
	}
	if found == "" {
		return
	}

	clean := strings.ReplaceAll(nonNumericRe.ReplaceAllString(found, ""), ",", ".")
	lower := strings.ToLower(found)
	if strings.Contains(lower, "л") && !strings.Contains(lower, "мл") {
		if num, err := strconv.ParseFloat(clean, 64); err == nil {
			clean = strconv.Itoa(int(num * 1000))
		}
	}
	rec.Set("weight", clean)
}

// extractRatios derives the protein density and price-per-gram columns.
// Unparseable inputs yield "0" rather than propagating an error.
func extractRatios(rec *pipeline.Record) {
	proCal := 0.0
	proteins, errP := parseNumber(rec.Field("proteins"))
	calories, errC := parseNumber(rec.Field("calories"))
	if errP == nil && errC == nil && calories > 0 {
		proCal = proteins / calories
	}
	rec.Set("pro/cal", strconv.FormatFloat(proCal, 'f', -1, 64))

	priWe := 0.0
	price, errPr := parseNumber(rec.Field("price"))
	weight, errW := parseNumber(rec.Field("weight"))
	if errPr == nil && errW == nil && weight > 0 {
		priWe = price / weight
	}
	rec.Set("pri/we", strconv.FormatFloat(priWe, 'f', -1, 64))
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
}
