package transaction

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Internal category labels.
const (
	CategoryDining         = "Dining"
	CategoryGroceries      = "Groceries"
	CategoryHousing        = "Housing"
	CategoryTransportation = "Transportation"
	CategoryTravel         = "Travel"
	CategoryShopping       = "Shopping"
	CategoryUtilities      = "Utilities"
	CategoryHealth         = "Health"
	CategoryEntertainment  = "Entertainment"
	CategoryServices       = "Services"
	CategoryTransfer       = "Transfer"
)

// CategoryMap maps an external category key (category id or top-level
// category string) to an internal category label.
type CategoryMap map[string]string

// CategoryInput carries the raw category signals of one transaction.
type CategoryInput struct {
	CategoryID   string
	TopCategory  string
	Hierarchy    []string
	MerchantName string
}

type keywordRule struct {
	keywords []string
	category string
}

// Checked in order; entries are compared after trimming and lowercasing.
var hierarchyRules = []keywordRule{
	{[]string{"transportation"}, CategoryTransportation},
	{[]string{"travel"}, CategoryTravel},
	{[]string{"food and drink", "restaurants", "food"}, CategoryDining},
	{[]string{"groceries", "supermarkets and groceries"}, CategoryGroceries},
	{[]string{"housing"}, CategoryHousing},
	{[]string{"shopping", "shops"}, CategoryShopping},
	{[]string{"utilities"}, CategoryUtilities},
	{[]string{"health and fitness", "personal"}, CategoryHealth},
	{[]string{"entertainment", "recreation"}, CategoryEntertainment},
	{[]string{"service", "services"}, CategoryServices},
	{[]string{"transfer"}, CategoryTransfer},
}

var merchantRules = []keywordRule{
	{[]string{"uber", "lyft", "taxi"}, CategoryTransportation},
	{[]string{"airbnb", "hotel", "marriott", "hilton", "delta", "united", "american airlines"}, CategoryTravel},
	{[]string{"grocery", "whole foods", "safeway", "trader joe", "kroger"}, CategoryGroceries},
	{[]string{"shell", "exxon", "chevron", "bp "}, CategoryTransportation},
}

var looseTopCategoryRules = []keywordRule{
	{[]string{"food", "restaurant"}, CategoryDining},
	{[]string{"grocery"}, CategoryGroceries},
	{[]string{"transport", "taxi"}, CategoryTransportation},
	{[]string{"rent", "mortgage"}, CategoryHousing},
	{[]string{"retail", "shopping"}, CategoryShopping},
	{[]string{"utilities"}, CategoryUtilities},
	{[]string{"health"}, CategoryHealth},
	{[]string{"entertainment"}, CategoryEntertainment},
	{[]string{"travel"}, CategoryTravel},
	{[]string{"service"}, CategoryServices},
	{[]string{"transfer"}, CategoryTransfer},
}

// ResolveCategory picks the internal category for a transaction. The first
// matching stage wins: map by category id, map by top category, hierarchy
// keywords, merchant keywords, then a loose match on the top category.
// It returns nil when nothing matches.
func ResolveCategory(in CategoryInput, m CategoryMap) *string {
	if in.CategoryID != "" {
		if c, ok := m[in.CategoryID]; ok {
			return &c
		}
	}
	if in.TopCategory != "" {
		if c, ok := m[in.TopCategory]; ok {
			return &c
		}
	}

	for _, rule := range hierarchyRules {
		for _, entry := range in.Hierarchy {
			if rule.matchExact(entry) {
				return ptr(rule.category)
			}
		}
	}

	if merchant := strings.ToLower(in.MerchantName); merchant != "" {
		for _, rule := range merchantRules {
			if rule.matchSubstring(merchant) {
				return ptr(rule.category)
			}
		}
	}

	if top := strings.ToLower(in.TopCategory); top != "" {
		for _, rule := range looseTopCategoryRules {
			if rule.matchSubstring(top) {
				return ptr(rule.category)
			}
		}
	}

	return nil
}

func (r keywordRule) matchExact(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, kw := range r.keywords {
		if s == kw {
			return true
		}
	}
	return false
}

// matchSubstring expects s already lowercased.
func (r keywordRule) matchSubstring(s string) bool {
	for _, kw := range r.keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func ptr(s string) *string {
	return &s
}

//go:embed default_category_map.yaml
var defaultCategoryMapYAML []byte

type categoryMapFile struct {
	Mappings []struct {
		Key      string `yaml:"key"`
		Category string `yaml:"category"`
	} `yaml:"mappings"`
}

// ParseCategoryMap reads a YAML category map document.
func ParseCategoryMap(r io.Reader) (CategoryMap, error) {
	var doc categoryMapFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode category map: %w", err)
	}

	m := make(CategoryMap, len(doc.Mappings))
	for i, entry := range doc.Mappings {
		key := strings.TrimSpace(entry.Key)
		category := strings.TrimSpace(entry.Category)
		if key == "" || category == "" {
			return nil, fmt.Errorf("category map entry %d: key and category are required", i)
		}
		m[key] = category
	}
	return m, nil
}

// DefaultCategoryMap returns the built-in seed mappings.
func DefaultCategoryMap() (CategoryMap, error) {
	return ParseCategoryMap(strings.NewReader(string(defaultCategoryMapYAML)))
}
