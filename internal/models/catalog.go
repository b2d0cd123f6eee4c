package models

// CatalogItem is one row of the product catalog. Predictors see it as pricing.Item.
type CatalogItem struct {
	ProductID         string  `json:"product_id"`
	Price             int     `json:"price"`
	Cost              int     `json:"cost"`
	ReviewScore       float64 `json:"review_score"`
	NameLength        int     `json:"product_name_length"`
	DescriptionLength int     `json:"product_description_length"`
	PhotoCount        int     `json:"product_photos_qty"`
	WeightG           int     `json:"product_weight_g"`
	LengthCm          int     `json:"product_length_cm"`
	HeightCm          int     `json:"product_height_cm"`
	WidthCm           int     `json:"product_width_cm"`
}

// Margin returns the profit per unit sold at the given price
func (c CatalogItem) Margin(price int) int {
	return price - c.Cost
}
