package domain

// Category groups items. IDs are allocated sequentially starting at 0.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Item is a listed item. ImageName is the content address of its image.
type Item struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	CategoryID int64  `json:"category_id"`
	Category   string `json:"category"`
	ImageName  string `json:"image_name"`
}
