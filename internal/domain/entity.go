package domain

import "time"

// EntityType names the canonical table an ImportLink points into.
type EntityType string

const (
	EntityTypeRestaurant EntityType = "RESTAURANT"
	EntityTypeDish       EntityType = "DISH"
)

// Match methods recorded on ImportLink.
const (
	MatchMethodExternalID = "EXTERNAL_ID"
	MatchMethodCreated    = "CREATED"
)

// Import link statuses.
const (
	LinkStatusActive   = "ACTIVE"
	LinkStatusInactive = "INACTIVE"
)

// Restaurant is the canonical, deduplicated restaurant record every external
// source is merged into.
type Restaurant struct {
	ID                  string     `gorm:"type:text;primaryKey" json:"id"`
	Name                string     `gorm:"type:text;not null" json:"name"`
	Slug                string     `gorm:"type:text;not null;index:idx_restaurants_slug" json:"slug"`
	Address             *string    `gorm:"type:text" json:"address,omitempty"`
	City                *string    `gorm:"type:text;index:idx_restaurants_city" json:"city,omitempty"`
	Latitude            *float64   `json:"latitude,omitempty"`
	Longitude           *float64   `json:"longitude,omitempty"`
	CuisineType         *string    `gorm:"type:text" json:"cuisineType,omitempty"`
	PriceRange          *string    `gorm:"type:text" json:"priceRange,omitempty"`
	Phone               *string    `gorm:"type:text" json:"phone,omitempty"`
	Website             *string    `gorm:"type:text" json:"website,omitempty"`
	ExternalSourceCount int        `gorm:"not null;default:0" json:"externalSourceCount"`
	DataSource          DataSource `gorm:"type:text;not null;default:MANUAL" json:"dataSource"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// TableName returns the database table name for Restaurant.
func (Restaurant) TableName() string {
	return "restaurants"
}

// Dish is the canonical dish record. RestaurantID references Restaurant.ID.
type Dish struct {
	ID                  string     `gorm:"type:text;primaryKey" json:"id"`
	RestaurantID        string     `gorm:"type:text;not null;index:idx_dishes_restaurant" json:"restaurantId"`
	Name                string     `gorm:"type:text;not null" json:"name"`
	Slug                string     `gorm:"type:text;not null" json:"slug"`
	Category            *string    `gorm:"type:text" json:"category,omitempty"`
	Description         *string    `gorm:"type:text" json:"description,omitempty"`
	Price               *float64   `json:"price,omitempty"`
	IsVegetarian        *bool      `json:"isVegetarian,omitempty"`
	SpicyLevel          *int       `json:"spicyLevel,omitempty"`
	ExternalSourceCount int        `gorm:"not null;default:0" json:"externalSourceCount"`
	DataSource          DataSource `gorm:"type:text;not null;default:MANUAL" json:"dataSource"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// TableName returns the database table name for Dish.
func (Dish) TableName() string {
	return "dishes"
}

// ImportLink ties one external identity (source, type, external id) to a
// canonical entity. It is the only place that mapping lives.
type ImportLink struct {
	ImportID        string     `gorm:"column:import_id;type:text;primaryKey" json:"importId"`
	EntityID        string     `gorm:"type:text;not null;uniqueIndex:idx_import_links_entity_source" json:"entityId"`
	EntityType      EntityType `gorm:"type:text;not null;uniqueIndex:idx_import_links_external" json:"entityType"`
	SourceID        string     `gorm:"type:text;not null;uniqueIndex:idx_import_links_entity_source;uniqueIndex:idx_import_links_external" json:"sourceId"`
	ExternalID      string     `gorm:"type:text;not null;uniqueIndex:idx_import_links_external" json:"externalId"`
	ConfidenceScore float64    `gorm:"not null;default:1" json:"confidenceScore"`
	MatchMethod     string     `gorm:"type:text;not null" json:"matchMethod"`
	Status          string     `gorm:"type:text;not null;default:ACTIVE" json:"status"`
	LastUpdated     time.Time  `json:"lastUpdated"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// TableName returns the database table name for ImportLink.
func (ImportLink) TableName() string {
	return "import_links"
}
