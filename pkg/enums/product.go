package enums

import "fmt"

// CartProductType distinguishes regular catalog items from daily specials.
type CartProductType string

const (
	CartProductTypeRegular CartProductType = "regular"
	CartProductTypeDaily   CartProductType = "daily"
)

func (p CartProductType) IsValid() bool {
	return p == CartProductTypeRegular || p == CartProductTypeDaily
}

func ParseCartProductType(value string) (CartProductType, error) {
	switch CartProductType(value) {
	case CartProductTypeRegular, CartProductTypeDaily:
		return CartProductType(value), nil
	case "":
		return CartProductTypeRegular, nil
	}
	return "", fmt.Errorf("invalid product type %q", value)
}
