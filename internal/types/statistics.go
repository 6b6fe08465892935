package types

// LibraryStatistics summarises a user's library for the dashboard.
type LibraryStatistics struct {
	TotalPlans      int `json:"totalPlans"`
	FavoritePlans   int `json:"favoritePlans"`
	ArchivedPlans   int `json:"archivedPlans"`
	Folders         int `json:"folders"`
	LifetimeCredits int `json:"lifetimeCredits"`
}
