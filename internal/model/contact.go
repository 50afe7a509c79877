// internal/model/contact.go
package model

type Contact struct {
	ID               string `db:"id" json:"id"`
	TenantID         string `db:"tenant_id" json:"tenant_id"`
	Phone            string `db:"phone" json:"phone"`
	FirstName        string `db:"first_name" json:"first_name"`
	LastName         string `db:"last_name" json:"last_name"`
	Location         string `db:"location" json:"location"`
	PreferredProduct string `db:"preferred_product" json:"preferred_product"`
}

// Recipient is a contact resolved through one of a campaign's lists.
type Recipient struct {
	Contact
	ListID string `json:"list_id"`
}

// Placeholders returns the values available to message templates.
func (c Contact) Placeholders() map[string]string {
	return map[string]string{
		"first_name":        c.FirstName,
		"last_name":         c.LastName,
		"location":          c.Location,
		"preferred_product": c.PreferredProduct,
		"phone":             c.Phone,
	}
}
