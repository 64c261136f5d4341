package vkusvill

import (
	"bytes"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/adubovik/freshscrape/internal/pipeline"
)

// StockBlock is what the product page exposes about availability, collected
// before any precedence rule is applied.
type StockBlock struct {
	Present  bool   // quantity block exists at all
	NotAvail bool   // block carries the explicit not_avail class
	Quantity string // data-quantity attribute, may be empty
	Text     string // block text, e.g. "В наличии 3 шт" / "Завтра будет 66 шт"
	Tomorrow bool   // "tomorrow" wording present
}

// StockRule decides the availability count from the raw markers. The site
// exposes several overlapping out-of-stock signals whose precedence has
// changed over time, so the rule is pluggable rather than hard-coded.
type StockRule func(StockBlock) int

// DefaultStockRule applies the markers in order: explicit not_avail class
// wins, then the quantity attribute, then the first integer in the block
// text, and finally the "available tomorrow" wording forces zero.
func DefaultStockRule(b StockBlock) int {
	if !b.Present || b.NotAvail {
		return 0
	}

	qty := 0
	if b.Quantity != "" {
		if f, err := strconv.ParseFloat(strings.ReplaceAll(b.Quantity, ",", "."), 64); err == nil {
			qty = int(f)
		}
	} else if m := firstIntRe.FindString(b.Text); m != "" {
		qty, _ = strconv.Atoi(m)
	}

	if b.Tomorrow {
		return 0
	}
	return qty
}

var (
	firstIntRe = regexp.MustCompile(`\d+`)
	spaceRe    = regexp.MustCompile(`\s+`)
	weightRe   = regexp.MustCompile(`^([\d\.]+)(.*)$`)
	// "белки X г ... жиры Y г ... Z ккал" subsequences in free-form
	// nutrition text (the fallback markup variant).
	tripleRe = regexp.MustCompile(`(?i)белки\s+([\d\.,]+)\s*г[^\d]*жиры\s+([\d\.,]+)\s*г[^\d]*([\d\.,]+)\s*(?:ккал|кал)`)
	kcalRe   = regexp.MustCompile(`(?i)([\d\.,]+)\s*(?:ккал|кал)`)
	proRe    = regexp.MustCompile(`(?i)белки\s+([\d\.,]+)`)
	fatRe    = regexp.MustCompile(`(?i)жиры\s+([\d\.,]+)`)
	carbRe   = regexp.MustCompile(`(?i)углеводы\s+([\d\.,]+)`)
	segSplit = regexp.MustCompile(`[\.\x{2026}\x{00A0}]+`)
)

// Extractor parses product detail pages. Every field has a fallback default;
// a page that matches nothing still yields a record keyed by URL.
type Extractor struct {
	// Stock decides availability; nil means DefaultStockRule.
	Stock StockRule
	// Now is overridable for tests; nil means time.Now.
	Now func() time.Time
}

// Extract parses a product page into a record. It never fails: unparseable
// fields fall back to documented defaults (empty string, weight 1000).
func (e *Extractor) Extract(content []byte, productURL string) pipeline.Record {
	rec := pipeline.Record{URL: productURL, Fields: make(map[string]string)}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	rec.Set("last_upd_time", now().Format("2006-01-02 15:04:05"))

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		rec.Set("name", "")
		rec.Set("weight", "1000")
		rec.Set("availability", "0")
		return rec
	}

	name := cleanText(doc.Find("h1.Product__title").First().Text())

	weight := 1000.0
	if wt := cleanText(doc.Find("div.ProductCard__weight").First().Text()); wt != "" {
		weight = processWeight(wt)
	}

	price, _ := doc.Find(`meta[itemprop="price"]`).First().Attr("content")
	imgURL, _ := doc.Find(`meta[itemprop="image"]`).First().Attr("content")

	description := cleanText(doc.Find("div.VV23_DetailProdPageDescription").First().Text())
	description = strings.TrimSpace(strings.TrimPrefix(description, "Описание"))

	composition := cleanText(doc.Find("div.Product__text--composition").First().Text())
	composition = strings.TrimSpace(strings.TrimPrefix(composition, "Состав"))

	// Availability markers feed the pluggable rule.
	stock := e.Stock
	if stock == nil {
		stock = DefaultStockRule
	}
	rec.Set("availability", strconv.Itoa(stock(readStockBlock(doc))))

	calories, proteins, fats, carbs, altUsed := extractNutrition(doc)
	if altUsed && name != "" {
		// Values recovered through the fallback text patterns are less
		// trustworthy; flag the record name so reviewers can spot them.
		name = "!!" + name
	}

	// Estimate calories from macros when the page omits them.
	if calories == 0 && (proteins != 0 || fats != 0 || carbs != 0) {
		calories = 4*proteins + 9*fats + 4*carbs
	}

	if calories == 0 && proteins == 0 && fats == 0 && carbs == 0 {
		rec.Set("calories", "")
		rec.Set("proteins", "")
		rec.Set("fats", "")
		rec.Set("carbohydrates", "")
	} else {
		rec.Set("calories", formatFloat(calories))
		rec.Set("proteins", formatFloat(proteins))
		rec.Set("fats", formatFloat(fats))
		rec.Set("carbohydrates", formatFloat(carbs))
	}

	ratingValue := cleanText(doc.Find("div.Rating__text").First().Text())
	ratingCount := cleanText(doc.Find("div.VV23_DetailProdPageInfoTabs__HeaderTogglerCount").First().Text())

	category := cleanText(doc.Find("span.js-datalayer-catalog-list-category").First().Text())
	category = strings.ReplaceAll(category, "//", "#")

	proCal := 0.0
	if calories > 0 {
		proCal = proteins / calories
	}
	pricePer := 0.0
	if priceVal, err := strconv.ParseFloat(price, 64); err == nil && weight > 0 {
		pricePer = priceVal / weight
	}

	rec.Set("name", name)
	rec.Set("weight", formatFloat(weight))
	rec.Set("price", price)
	rec.Set("imgUrl", imgURL)
	rec.Set("description", description)
	rec.Set("content", composition)
	rec.Set("average_rating", ratingValue)
	rec.Set("rating_count", ratingCount)
	rec.Set("category", category)
	rec.Set("pro/cal", formatFloat(proCal))
	rec.Set("pri/we", formatFloat(pricePer))

	return rec
}

func readStockBlock(doc *goquery.Document) StockBlock {
	sel := doc.Find("#product-quantity-block").First()
	if sel.Length() == 0 {
		return StockBlock{}
	}

	class, _ := sel.Attr("class")
	qty, _ := sel.Attr("data-quantity")
	text := cleanText(sel.Text())

	return StockBlock{
		Present:  true,
		NotAvail: strings.Contains(class, "not_avail"),
		Quantity: strings.TrimSpace(qty),
		Text:     text,
		Tomorrow: strings.Contains(text, "Завтра"),
	}
}

// extractNutrition tries the structured energy block first and falls back to
// the free-text "Пищевая и энергетическая ценность" section. The boolean
// reports whether the fallback was used.
func extractNutrition(doc *goquery.Document) (calories, proteins, fats, carbs float64, altUsed bool) {
	energy := doc.Find("div.VV23_DetailProdPageAccordion__Energy").First()
	if energy.Length() > 0 {
		values := energy.Find("div.VV23_DetailProdPageAccordion__EnergyValue")
		descs := energy.Find("div.VV23_DetailProdPageAccordion__EnergyDesc")

		n := values.Length()
		if descs.Length() < n {
			n = descs.Length()
		}
		for i := 0; i < n; i++ {
			valText := strings.ReplaceAll(cleanText(values.Eq(i).Text()), ",", ".")
			descText := strings.ToLower(cleanText(descs.Eq(i).Text()))

			val, err := strconv.ParseFloat(valText, 64)
			if err != nil {
				continue
			}
			switch {
			case strings.Contains(descText, "ккал"):
				calories = val
			case strings.Contains(descText, "белки"):
				proteins = val
			case strings.Contains(descText, "жиры"):
				fats = val
			case strings.Contains(descText, "углеводы"):
				carbs = val
			}
		}
	}

	if calories != 0 || proteins != 0 || fats != 0 || carbs != 0 {
		return calories, proteins, fats, carbs, false
	}

	altText := findAltNutritionText(doc)
	if altText == "" {
		return 0, 0, 0, 0, false
	}

	type candidate struct{ kcal, pro, fat, carb float64 }
	var candidates []candidate

	for _, m := range tripleRe.FindAllStringSubmatch(altText, -1) {
		candidates = append(candidates, candidate{
			kcal: parseComma(m[3]),
			pro:  parseComma(m[1]),
			fat:  parseComma(m[2]),
		})
	}

	if len(candidates) == 0 {
		for _, seg := range segSplit.Split(altText, -1) {
			seg = strings.TrimSpace(seg)
			if seg == "" {
				continue
			}
			kcalMatch := kcalRe.FindStringSubmatch(seg)
			if kcalMatch == nil {
				continue
			}
			cand := candidate{kcal: parseComma(kcalMatch[1])}
			if m := proRe.FindStringSubmatch(seg); m != nil {
				cand.pro = parseComma(m[1])
			}
			if m := fatRe.FindStringSubmatch(seg); m != nil {
				cand.fat = parseComma(m[1])
			}
			if m := carbRe.FindStringSubmatch(seg); m != nil {
				cand.carb = parseComma(m[1])
			}
			candidates = append(candidates, cand)
		}
	}

	if len(candidates) == 0 {
		return 0, 0, 0, 0, false
	}

	// Prefer the highest-calorie candidate (per-portion entries list the
	// full product first), break ties on lower protein.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].kcal != candidates[j].kcal {
			return candidates[i].kcal > candidates[j].kcal
		}
		return candidates[i].pro < candidates[j].pro
	})

	best := candidates[0]
	return best.kcal, best.pro, best.fat, best.carb, true
}

func findAltNutritionText(doc *goquery.Document) string {
	var text string
	doc.Find("div.VV23_DetailProdPageInfoDescItem").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		title := cleanText(s.Find(".VV23_DetailProdPageInfoDescItem__Title").First().Text())
		title = strings.ReplaceAll(title, " ", " ")
		if !strings.Contains(title, "Пищевая и энергетическая ценность") {
			return true
		}
		text = cleanText(s.Find("div.VV23_DetailProdPageInfoDescItem__Desc").First().Text())
		return false
	})
	return text
}

// processWeight normalizes a display weight to grams (millilitres count as
// grams). Unparseable text defaults to 1000.
func processWeight(text string) float64 {
	text = strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(text, " ", ""), ",", "."))

	m := weightRe.FindStringSubmatch(text)
	if m == nil {
		if v, err := strconv.ParseFloat(text, 64); err == nil {
			return v
		}
		return 1000
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 1000
	}

	switch unit := m[2]; unit {
	case "г", "г.", "гр", "гр.", "грамм", "грамм.", "мл", "мл.", "миллилитр", "миллилитров":
		return value
	case "кг", "кг.", "килограмм", "килограмм.", "л", "л.", "литр", "литров":
		return value * 1000
	default:
		return value
	}
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func parseComma(s string) float64 {
	v, _ := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	return v
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
