package enums

import "fmt"

// RatingRole names which counterpart of an order is being rated.
type RatingRole string

const (
	RatingRoleSeller RatingRole = "seller"
	RatingRoleDriver RatingRole = "driver"
)

func (r RatingRole) IsValid() bool {
	return r == RatingRoleSeller || r == RatingRoleDriver
}

func ParseRatingRole(value string) (RatingRole, error) {
	if r := RatingRole(value); r.IsValid() {
		return r, nil
	}
	return "", fmt.Errorf("invalid rating role %q", value)
}
