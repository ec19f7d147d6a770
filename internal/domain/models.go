package domain

// Models lists every gorm model owned by the canonical store, in dependency order.
func Models() []interface{} {
	return []interface{}{
		&ImportJob{},
		&ImportBatch{},
		&Restaurant{},
		&Dish{},
		&ImportLink{},
		&RankingInteraction{},
	}
}
