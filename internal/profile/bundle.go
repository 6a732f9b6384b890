package profile

import (
	"fmt"

	"github.com/andybalholm/cascadia"
)

const (
	// Auto asks the registry to detect the profile from the rendered page.
	Auto = "auto"
	// Generic is the fallback bundle that always exists.
	Generic = "Generic"
)

// SelectorBundle is a named set of CSS selectors, one per extraction role.
// Bundles handed out by a Registry are copies and never change afterward.
type SelectorBundle struct {
	Name         string   `yaml:"name" json:"name"`
	Items        string   `yaml:"items" json:"items"`
	Title        string   `yaml:"title" json:"title"`
	Price        string   `yaml:"price" json:"price"`
	RegularPrice string   `yaml:"regular_price" json:"regular_price"`
	SalePrice    string   `yaml:"sale_price" json:"sale_price"`
	Image        string   `yaml:"image" json:"image"`
	Link         string   `yaml:"link" json:"link"`
	Description  string   `yaml:"description" json:"description"`
	NextPage     string   `yaml:"next_page" json:"next_page"`
	HTMLMarkers  []string `yaml:"html_markers" json:"html_markers,omitempty"`
	URLMarkers   []string `yaml:"url_markers" json:"url_markers,omitempty"`
}

func (b SelectorBundle) clone() SelectorBundle {
	b.HTMLMarkers = append([]string(nil), b.HTMLMarkers...)
	b.URLMarkers = append([]string(nil), b.URLMarkers...)
	return b
}

// roles lists every role selector with its name, for validation and defaulting.
func (b *SelectorBundle) roles() map[string]*string {
	return map[string]*string{
		"items":         &b.Items,
		"title":         &b.Title,
		"price":         &b.Price,
		"regular_price": &b.RegularPrice,
		"sale_price":    &b.SalePrice,
		"image":         &b.Image,
		"link":          &b.Link,
		"description":   &b.Description,
		"next_page":     &b.NextPage,
	}
}

// inherit fills empty roles from base.
func (b *SelectorBundle) inherit(base SelectorBundle) {
	baseRoles := base.roles()
	for role, sel := range b.roles() {
		if *sel == "" {
			*sel = *baseRoles[role]
		}
	}
}

// Validate checks that every non-empty role parses as a CSS selector group.
func (b SelectorBundle) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("profile name is required")
	}

	for role, sel := range b.roles() {
		if *sel == "" {
			continue
		}
		if _, err := cascadia.ParseGroup(*sel); err != nil {
			return fmt.Errorf("profile %q: invalid %s selector %q: %w", b.Name, role, *sel, err)
		}
	}

	return nil
}

func builtinBundles() []SelectorBundle {
	return []SelectorBundle{
		{
			Name:         Generic,
			Items:        "article, .product, .product-card, .grid-item, li[id*='product'], div[class*='product'], [data-product-id]",
			Title:        "h2, h3, h4, .product-title, .name, .title, [class*='product-name'], [class*='title']",
			Price:        ".price, [class*='price'], .amount, .product-price, [data-price]",
			RegularPrice: ".regular-price, .original-price, .compare-at-price, [class*='regular-price'], [class*='original-price']",
			SalePrice:    ".sale-price, .special-price, [class*='sale-price'], [class*='special-price']",
			Image:        "img",
			Link:         "a",
			Description:  ".description, [class*='description'], .excerpt, .summary, [class*='product-details']",
			NextPage:     ".next, .pagination a:last-child, [class*='next'], a[rel='next'], a[aria-label*='Next']",
		},
		{
			Name:         "Shopify",
			Items:        ".product-card, .grid__item, .product-item, [class*='product-card']",
			Title:        ".product-card__title, .product-title, .product-item__title, h2, h3",
			Price:        ".price, .product-price, [class*='price']",
			RegularPrice: ".regular-price, .price__regular",
			SalePrice:    ".sale-price, .price__sale",
			Image:        "img",
			Link:         "a",
			Description:  ".description, .product-excerpt",
			NextPage:     "a.pagination__next, .next a",
			HTMLMarkers:  []string{"shopify"},
		},
		{
			Name:         "WooCommerce",
			Items:        "li.product, .product-type-simple, .product-type-variable, .type-product",
			Title:        "h2.woocommerce-loop-product__title, .product-title, h3",
			Price:        ".price, .woocommerce-Price-amount",
			RegularPrice: ".regular-price, del .woocommerce-Price-amount",
			SalePrice:    ".sale-price, ins .woocommerce-Price-amount",
			Image:        "img.wp-post-image, img.attachment-woocommerce_thumbnail",
			Link:         "a.woocommerce-LoopProduct-link",
			Description:  ".short-description, .woocommerce-product-details__short-description",
			NextPage:     ".next.page-numbers",
			HTMLMarkers:  []string{"woocommerce"},
		},
		{
			Name:         "Magento",
			Items:        "li.item.product.product-item, .product-item, .product-items > li",
			Title:        ".product-item-name, .product-name, a.product-item-link",
			Price:        ".price, .price-container .price, [data-price-type='finalPrice']",
			RegularPrice: "[data-price-type='oldPrice'], .old-price .price",
			SalePrice:    "[data-price-type='finalPrice'], .special-price .price",
			Image:        "img.product-image-photo",
			Link:         "a.product-item-photo, a.product-item-link",
			Description:  ".product-item-description, .description",
			NextPage:     ".pages-item-next a",
			HTMLMarkers:  []string{"magento"},
		},
		{
			Name:         "Fashion Nova",
			Items:        ".product-grid-item, .grid-item, [class*='product-item']",
			Title:        ".product-name, .product-title, .name, h3",
			Price:        ".price, .product-price",
			RegularPrice: ".regular-price, .compare-at-price",
			SalePrice:    ".special-price, .price--sale",
			Image:        "img.product-featured-img, .product-image img",
			Link:         "a.product-grid-item__link, a",
			Description:  ".product-description",
			NextPage:     ".pagination__next, .pagination-next",
			URLMarkers:   []string{"fashionnova"},
		},
		{
			Name:         "ASOS",
			Items:        "article[data-auto-id='productTile'], [data-test-id='product-card']",
			Title:        "[data-auto-id='productTileDescription'], h2, .product-title",
			Price:        "[data-auto-id='productTilePrice'], .current-price, [data-test-id='price']",
			RegularPrice: ".previous-price, .was-price",
			SalePrice:    ".current-price, .now-price",
			Image:        "img",
			Link:         "a[data-auto-id='productTileLink'], a",
			Description:  ".product-description, .product-info",
			NextPage:     "[data-auto-id='loadMoreProducts'], .pagination-next",
			URLMarkers:   []string{"asos"},
		},
		{
			Name:         "Zara",
			Items:        ".product-item, .product, article[class*='product']",
			Title:        ".product-info .name, .item-name, h3.product-info-item-name",
			Price:        ".price, .product-info-price",
			RegularPrice: ".original-price, .line-through",
			SalePrice:    ".sale-price, .price-current",
			Image:        "img.product-media, .media-image img",
			Link:         "a.item, a.link",
			Description:  ".description, .product-info-description",
			NextPage:     ".next-page, .zds-button--pagination-next",
			URLMarkers:   []string{"zara"},
		},
	}
}
