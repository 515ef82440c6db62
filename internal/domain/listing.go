package domain

const ListingAvailable = "available"

// Listing is a property offered by a tenant.
type Listing struct {
	ID           string
	TenantID     string
	Type         string
	Neighborhood string
	City         string
	Price        float64
	Bedrooms     *int
	AreaM2       *float64
	Purpose      string
	Status       string
	Furnished    bool
	PetFriendly  bool
}

// ListingFilter holds the equality predicates the record store can evaluate.
// Empty fields are not applied.
type ListingFilter struct {
	Type         string
	Neighborhood string
	Purpose      string
	Status       string
}
