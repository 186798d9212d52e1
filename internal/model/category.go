package model

import "strings"

// Category is the closed set of labels an email can carry.
type Category string

const (
	CategoryInvoice      Category = "invoice"
	CategoryReceipt      Category = "receipt"
	CategoryDocument     Category = "document"
	CategoryProfessional Category = "professional"
	CategoryNewsletter   Category = "newsletter"
	CategoryPromotion    Category = "promotion"
	CategorySocial       Category = "social"
	CategoryNotification Category = "notification"
	CategoryPersonal     Category = "personal"
	CategorySpam         Category = "spam"
	CategoryUnknown      Category = "unknown"
)

var allCategories = []Category{
	CategoryInvoice,
	CategoryReceipt,
	CategoryDocument,
	CategoryProfessional,
	CategoryNewsletter,
	CategoryPromotion,
	CategorySocial,
	CategoryNotification,
	CategoryPersonal,
	CategorySpam,
	CategoryUnknown,
}

var categoryDescriptions = map[Category]string{
	CategoryInvoice:      "Invoices and billing documents (amounts, VAT, IBAN, or an attachment named invoice)",
	CategoryReceipt:      "Payment receipts and order confirmations",
	CategoryDocument:     "Shared documents (Google Drive, Dropbox, WeTransfer links)",
	CategoryProfessional: "Important work email (projects, meetings, decisions)",
	CategoryNewsletter:   "Newsletters and information bulletins",
	CategoryPromotion:    "Promotions, advertising and commercial offers",
	CategorySocial:       "Social network notifications (LinkedIn, Facebook, Twitter)",
	CategoryNotification: "Automatic notifications (confirmations, system alerts)",
	CategoryPersonal:     "Personal email (family, friends)",
	CategorySpam:         "Obvious spam and junk mail",
	CategoryUnknown:      "Cannot be classified with confidence",
}

// AllCategories returns every category in display order. The slice is a copy.
func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// ParseCategory maps a raw token to a category, ignoring case and surrounding space.
func ParseCategory(token string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(token)))
	if _, ok := categoryDescriptions[c]; !ok {
		return CategoryUnknown, false
	}
	return c, true
}

func (c Category) Valid() bool {
	_, ok := categoryDescriptions[c]
	return ok
}

func (c Category) Description() string {
	return categoryDescriptions[c]
}

func (c Category) String() string {
	return string(c)
}
