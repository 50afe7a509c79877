package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/unclebandit/dispatch-engine/internal/model"
)

// ContactRepositoryInterface defines methods used by the senders
type ContactRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.Contact, error)
	// ListRecipients resolves the members of the given lists, one entry per
	// contact even when a contact sits in several lists.
	ListRecipients(ctx context.Context, tenantID string, listIDs []string) ([]model.Recipient, error)
}

// ContactRepository reads the contact store owned by the CRUD side of the platform.
type ContactRepository struct {
	DB *sql.DB
}

// GetByID fetches a contact by ID
func (r *ContactRepository) GetByID(ctx context.Context, id string) (*model.Contact, error) {
	query := `
		SELECT id, tenant_id, phone, first_name, last_name, location, preferred_product
		FROM contacts
		WHERE id = $1
	`
	var c model.Contact
	err := r.DB.QueryRowContext(ctx, query, id).
		Scan(&c.ID, &c.TenantID, &c.Phone, &c.FirstName, &c.LastName, &c.Location, &c.PreferredProduct)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // not found
		}
		return nil, err
	}
	return &c, nil
}

func (r *ContactRepository) ListRecipients(ctx context.Context, tenantID string, listIDs []string) ([]model.Recipient, error) {
	query := `
		SELECT DISTINCT ON (c.id)
			c.id, c.tenant_id, c.phone, c.first_name, c.last_name, c.location, c.preferred_product, lm.list_id
		FROM contacts c
		JOIN list_members lm ON lm.contact_id = c.id
		WHERE c.tenant_id = $1 AND lm.list_id = ANY($2)
		ORDER BY c.id, array_position($2, lm.list_id)
	`
	rows, err := r.DB.QueryContext(ctx, query, tenantID, pq.Array(listIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		var rc model.Recipient
		if err := rows.Scan(&rc.ID, &rc.TenantID, &rc.Phone, &rc.FirstName, &rc.LastName,
			&rc.Location, &rc.PreferredProduct, &rc.ListID); err != nil {
			return nil, err
		}
		recipients = append(recipients, rc)
	}
	return recipients, rows.Err()
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
