package processor

import (
	"strings"

	"github.com/google/uuid"
)

// PSPLinker issues customer-facing payment links for card collection.
type PSPLinker struct {
	frontendURL string
}

func NewPSPLinker(frontendURL string) *PSPLinker {
	return &PSPLinker{frontendURL: strings.TrimRight(frontendURL, "/")}
}

// Issue generates a fresh payment token and the link a customer opens to
// submit card data against it.
func (l *PSPLinker) Issue() (token, link string) {
	token = uuid.New().String()
	return token, l.frontendURL + "/pay/" + token
}
