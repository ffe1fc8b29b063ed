package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Subtitle    string          `json:"subtitle"`
	Description string          `json:"description"`
	Type        string          `json:"type"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Sold        int             `json:"sold"`
	ImageID     string          `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (p *Product) HasImage() bool {
	return p.ImageID != ""
}

// ImageURL is the public path the image is served from, empty when the product has none.
func (p *Product) ImageURL() string {
	if !p.HasImage() {
		return ""
	}
	return fmt.Sprintf("/api/products/%d/image", p.ID)
}
