package vkusvill

import (
	"testing"
	"time"
)

const fullProductPage = `<!DOCTYPE html>
<html><head>
<meta itemprop="price" content="189">
<meta itemprop="image" content="https://img.vkusvill.ru/pim/images/site_Gallery/1.jpg">
</head><body>
<h1 class="Product__title">Творог мягкий 5%</h1>
<div class="ProductCard__weight">330 г</div>
<span class="js-datalayer-catalog-list-category">Молочные продукты // Творог</span>
<div id="product-quantity-block" class="ProductCard__quantity" data-quantity="7">В наличии 7 шт</div>
<div class="VV23_DetailProdPageDescription">Описание Нежный творог из отборного молока.</div>
<div class="Product__text--composition">Состав молоко, закваска.</div>
<div class="Rating__text">4.8</div>
<div class="VV23_DetailProdPageInfoTabs__HeaderTogglerCount">152</div>
<div class="VV23_DetailProdPageAccordion__Energy">
  <div class="VV23_DetailProdPageAccordion__EnergyValue">121</div>
  <div class="VV23_DetailProdPageAccordion__EnergyDesc">ккал</div>
  <div class="VV23_DetailProdPageAccordion__EnergyValue">16</div>
  <div class="VV23_DetailProdPageAccordion__EnergyDesc">белки</div>
  <div class="VV23_DetailProdPageAccordion__EnergyValue">5</div>
  <div class="VV23_DetailProdPageAccordion__EnergyDesc">жиры</div>
  <div class="VV23_DetailProdPageAccordion__EnergyValue">3</div>
  <div class="VV23_DetailProdPageAccordion__EnergyDesc">углеводы</div>
</div>
</body></html>`

func fixedExtractor() *Extractor {
	return &Extractor{
		Now: func() time.Time {
			return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
		},
	}
}

func TestExtractFullPage(t *testing.T) {
	rec := fixedExtractor().Extract([]byte(fullProductPage), "https://vkusvill.ru/goods/tvorog-myagkiy-5.html")

	want := map[string]string{
		"name":           "Творог мягкий 5%",
		"weight":         "330",
		"price":          "189",
		"imgUrl":         "https://img.vkusvill.ru/pim/images/site_Gallery/1.jpg",
		"description":    "Нежный творог из отборного молока.",
		"content":        "молоко, закваска.",
		"availability":   "7",
		"calories":       "121",
		"proteins":       "16",
		"fats":           "5",
		"carbohydrates":  "3",
		"average_rating": "4.8",
		"rating_count":   "152",
		"category":       "Молочные продукты # Творог",
		"last_upd_time":  "2026-08-29 12:00:00",
	}
	for key, val := range want {
		if got := rec.Field(key); got != val {
			t.Errorf("Field(%q) = %q, want %q", key, got, val)
		}
	}

	// pro/cal = 16/121, pri/we = 189/330
	if got := rec.Field("pro/cal"); got[:4] != "0.13" {
		t.Errorf("pro/cal = %q, want ~0.132", got)
	}
	if got := rec.Field("pri/we"); got[:4] != "0.57" {
		t.Errorf("pri/we = %q, want ~0.573", got)
	}
}

func TestExtractAvailability(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			"not_avail class wins over quantity",
			`<div id="product-quantity-block" class="qty not_avail" data-quantity="5">В наличии 5 шт</div>`,
			"0",
		},
		{
			"tomorrow wording forces zero",
			`<div id="product-quantity-block" class="qty">Завтра будет 66 шт</div>`,
			"0",
		},
		{
			"quantity from block text",
			`<div id="product-quantity-block" class="qty">В наличии 12 шт</div>`,
			"12",
		},
		{
			"attribute preferred over text",
			`<div id="product-quantity-block" class="qty" data-quantity="3">В наличии 99 шт</div>`,
			"3",
		},
		{
			"missing block means out of stock",
			`<p>nothing here</p>`,
			"0",
		},
	}

	e := fixedExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.Extract([]byte("<html><body>"+tt.html+"</body></html>"), "https://vkusvill.ru/goods/x.html")
			if got := rec.Field("availability"); got != tt.want {
				t.Errorf("availability = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractCustomStockRule(t *testing.T) {
	e := fixedExtractor()
	e.Stock = func(b StockBlock) int {
		if b.Present {
			return 1
		}
		return 0
	}
	html := `<html><body><div id="product-quantity-block" class="not_avail">Завтра будет 5 шт</div></body></html>`
	rec := e.Extract([]byte(html), "https://vkusvill.ru/goods/x.html")
	if got := rec.Field("availability"); got != "1" {
		t.Errorf("availability = %q, want 1 from custom rule", got)
	}
}

func TestExtractNutritionFallbackMarksName(t *testing.T) {
	html := `<html><body>
<h1 class="Product__title">Сыр твёрдый</h1>
<div class="VV23_DetailProdPageInfoDescItem">
  <div class="VV23_DetailProdPageInfoDescItem__Title">Пищевая и энергетическая ценность</div>
  <div class="VV23_DetailProdPageInfoDescItem__Desc">белки 25 г, жиры 30 г, 360 ккал на 100 г</div>
</div>
</body></html>`

	rec := fixedExtractor().Extract([]byte(html), "https://vkusvill.ru/goods/syr.html")
	if got := rec.Field("name"); got != "!!Сыр твёрдый" {
		t.Errorf("name = %q, want fallback marker prefix", got)
	}
	if got := rec.Field("calories"); got != "360" {
		t.Errorf("calories = %q, want 360", got)
	}
	if got := rec.Field("proteins"); got != "25" {
		t.Errorf("proteins = %q, want 25", got)
	}
	if got := rec.Field("fats"); got != "30" {
		t.Errorf("fats = %q, want 30", got)
	}
}

func TestExtractCaloriesEstimatedFromMacros(t *testing.T) {
	html := `<html><body>
<div class="VV23_DetailProdPageAccordion__Energy">
  <div class="VV23_DetailProdPageAccordion__EnergyValue">10</div>
  <div class="VV23_DetailProdPageAccordion__EnergyDesc">белки</div>
  <div class="VV23_DetailProdPageAccordion__EnergyValue">2</div>
  <div class="VV23_DetailProdPageAccordion__EnergyDesc">жиры</div>
  <div class="VV23_DetailProdPageAccordion__EnergyValue">5</div>
  <div class="VV23_DetailProdPageAccordion__EnergyDesc">углеводы</div>
</div>
</body></html>`

	rec := fixedExtractor().Extract([]byte(html), "https://vkusvill.ru/goods/x.html")
	// 4*10 + 9*2 + 4*5 = 78
	if got := rec.Field("calories"); got != "78" {
		t.Errorf("calories = %q, want estimated 78", got)
	}
}

func TestExtractNoNutritionLeavesFieldsEmpty(t *testing.T) {
	rec := fixedExtractor().Extract([]byte("<html><body><p>bare</p></body></html>"), "https://vkusvill.ru/goods/x.html")
	for _, key := range []string{"calories", "proteins", "fats", "carbohydrates"} {
		if got := rec.Field(key); got != "" {
			t.Errorf("Field(%q) = %q, want empty", key, got)
		}
	}
	if got := rec.Field("weight"); got != "1000" {
		t.Errorf("weight = %q, want default 1000", got)
	}
}

func TestProcessWeight(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"330 г", 330},
		{"0,5 кг", 500},
		{"1 л", 1000},
		{"250 мл", 250},
		{"2 кг", 2000},
		{"980", 980},
		{"примерно", 1000},
	}
	for _, tt := range tests {
		if got := processWeight(tt.in); got != tt.want {
			t.Errorf("processWeight(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDefaultStockRule(t *testing.T) {
	tests := []struct {
		name  string
		block StockBlock
		want  int
	}{
		{"absent block", StockBlock{}, 0},
		{"not_avail", StockBlock{Present: true, NotAvail: true, Quantity: "4"}, 0},
		{"quantity attribute", StockBlock{Present: true, Quantity: "4"}, 4},
		{"fractional quantity truncates", StockBlock{Present: true, Quantity: "2,5"}, 2},
		{"text fallback", StockBlock{Present: true, Text: "В наличии 8 шт"}, 8},
		{"tomorrow zeroes", StockBlock{Present: true, Quantity: "6", Tomorrow: true}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultStockRule(tt.block); got != tt.want {
				t.Errorf("DefaultStockRule() = %d, want %d", got, tt.want)
			}
		})
	}
}
