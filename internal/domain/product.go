package domain

type Product struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	SellerID string `json:"seller_id"`
	Price    int64  `json:"price"`
	Stock    int    `json:"stock"`
	IsActive bool   `json:"is_active"`
}
