package validate

import "regexp"

var CurrencyCode = regexp.MustCompile(`^[A-Z]{3}$`)
