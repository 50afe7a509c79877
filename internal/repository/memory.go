package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/model"
)

// MemoryStore keeps campaigns, delivery reports and contacts in process
// memory. It backs STORE_DRIVER=memory and the service tests, and follows the
// same conditional-update rules as the Postgres repositories.
type MemoryStore struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign
	reports   map[string]*model.DeliveryReport
	byPair    map[string]string // campaign|contact -> report id
	contacts  map[string]model.Contact
	members   map[string][]string // list id -> contact ids
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns: map[string]*model.Campaign{},
		reports:   map[string]*model.DeliveryReport{},
		byPair:    map[string]string{},
		contacts:  map[string]model.Contact{},
		members:   map[string][]string{},
	}
}

// AddContact registers a contact as a member of the given lists.
func (m *MemoryStore) AddContact(c model.Contact, listIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[c.ID] = c
	for _, l := range listIDs {
		if !slices.Contains(m.members[l], c.ID) {
			m.members[l] = append(m.members[l], c.ID)
		}
	}
}

func copyCampaign(c *model.Campaign) *model.Campaign {
	cp := *c
	cp.ListIDs = slices.Clone(c.ListIDs)
	return &cp
}

func copyReport(r *model.DeliveryReport) *model.DeliveryReport {
	cp := *r
	return &cp
}

// ====================== Campaigns ======================

func (m *MemoryStore) Create(_ context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.CreatedAt = time.Now().UTC()
	if c.Status == "" {
		c.Status = model.CampaignPending
	}
	m.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return copyCampaign(c), nil
}

func (m *MemoryStore) ListCampaigns(_ context.Context, f CampaignFilter) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var filtered []*model.Campaign
	for _, c := range m.campaigns {
		if f.TenantID != "" && c.TenantID != f.TenantID {
			continue
		}
		if f.Channel != "" && c.Channel != f.Channel {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		filtered = append(filtered, copyCampaign(c))
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].ID > filtered[j].ID
		}
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	total := len(filtered)
	start := min(f.Offset, total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	return filtered[start:end], total, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[id]; !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	delete(m.campaigns, id)
	for rid, r := range m.reports {
		if r.CampaignID == id {
			delete(m.reports, rid)
			delete(m.byPair, pairKey(r.CampaignID, r.ContactID))
		}
	}
	return nil
}

func eligible(c *model.Campaign, now time.Time, staleBefore *time.Time) bool {
	switch c.Status {
	case model.CampaignQueued, model.CampaignPending:
		return true
	case model.CampaignScheduled:
		return c.ScheduledAt != nil && !c.ScheduledAt.After(now)
	case model.CampaignSending:
		return staleBefore != nil && c.ClaimedAt != nil && !c.ClaimedAt.After(*staleBefore)
	}
	return false
}

func dueKey(c *model.Campaign) time.Time {
	if c.ScheduledAt != nil {
		return *c.ScheduledAt
	}
	return c.CreatedAt
}

func (m *MemoryStore) ListDue(_ context.Context, now time.Time, staleBefore *time.Time, limit int) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*model.Campaign
	for _, c := range m.campaigns {
		if eligible(c, now, staleBefore) {
			due = append(due, copyCampaign(c))
		}
	}
	sort.Slice(due, func(i, j int) bool { return dueKey(due[i]).Before(dueKey(due[j])) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryStore) Claim(_ context.Context, id string, now time.Time, staleBefore *time.Time) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || !eligible(c, now, staleBefore) {
		return time.Time{}, false, nil
	}
	c.Status = model.CampaignSending
	c.ClaimedAt = &now
	if c.SentAt == nil {
		c.SentAt = &now
	}
	c.DispatchAttempts++
	c.UpdatedAt = &now
	return now, true, nil
}

// holds reports whether claimedAt is still the live claim on c.
func holds(c *model.Campaign, claimedAt time.Time) bool {
	return c.Status == model.CampaignSending && c.ClaimedAt != nil && c.ClaimedAt.Equal(claimedAt)
}

func (m *MemoryStore) Complete(_ context.Context, id string, claimedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || !holds(c, claimedAt) {
		return false, nil
	}
	now := time.Now().UTC()
	c.Status = model.CampaignCompleted
	c.ClaimedAt = nil
	c.LastError = ""
	c.UpdatedAt = &now
	return true, nil
}

func (m *MemoryStore) Release(_ context.Context, id string, claimedAt time.Time, status model.CampaignStatus, lastError string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || !holds(c, claimedAt) {
		return false, nil
	}
	now := time.Now().UTC()
	c.Status = status
	c.LastError = lastError
	c.ClaimedAt = nil
	c.UpdatedAt = &now
	return true, nil
}

func (m *MemoryStore) Requeue(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || !c.Status.Requeueable() {
		return false, nil
	}
	if c.Status == model.CampaignFailed {
		c.DispatchAttempts = 0
	}
	now := time.Now().UTC()
	c.Status = model.CampaignQueued
	c.LastError = ""
	c.UpdatedAt = &now
	return true, nil
}

// ====================== Delivery reports ======================

func pairKey(campaignID, contactID string) string {
	return campaignID + "|" + contactID
}

func (m *MemoryStore) Record(_ context.Context, r *model.DeliveryReport) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(r.CampaignID, r.ContactID)
	if _, exists := m.byPair[key]; exists {
		return false, nil
	}
	r.UpdatedAt = r.SentAt
	m.reports[r.ID] = copyReport(r)
	m.byPair[key] = r.ID
	return true, nil
}

func (m *MemoryStore) AttemptedContacts(_ context.Context, campaignID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for _, r := range m.reports {
		if r.CampaignID == campaignID {
			seen[r.ContactID] = true
		}
	}
	return seen, nil
}

func (m *MemoryStore) GetByProviderMessageID(_ context.Context, ch model.Channel, providerMessageID string) (*model.DeliveryReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reports {
		if r.Channel == ch && r.ProviderMessageID != nil && *r.ProviderMessageID == providerMessageID {
			return copyReport(r), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) AdvanceStatus(_ context.Context, id string, from, to model.DeliveryStatus, at time.Time, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = at
	switch to {
	case model.DeliveryDelivered:
		if r.DeliveredAt == nil {
			r.DeliveredAt = &at
		}
	case model.DeliveryRead:
		if r.DeliveredAt == nil {
			r.DeliveredAt = &at
		}
		r.ReadAt = &at
	case model.DeliveryFailed:
		if reason != "" {
			r.FailureReason = &reason
		}
	}
	return true, nil
}

func (m *MemoryStore) ListByCampaign(_ context.Context, campaignID string) ([]*model.DeliveryReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reports := []*model.DeliveryReport{}
	for _, r := range m.reports {
		if r.CampaignID == campaignID {
			reports = append(reports, copyReport(r))
		}
	}
	sort.Slice(reports, func(i, j int) bool {
		if reports[i].SentAt.Equal(reports[j].SentAt) {
			return reports[i].ID < reports[j].ID
		}
		return reports[i].SentAt.Before(reports[j].SentAt)
	})
	return reports, nil
}

func (m *MemoryStore) CountByStatus(_ context.Context, campaignID string) (map[model.DeliveryStatus]int, error) {
	return m.countWhere(func(r *model.DeliveryReport) bool { return r.CampaignID == campaignID }), nil
}

// CountByStatusForList only counts reports of campaigns owned by tenantID.
func (m *MemoryStore) CountByStatusForList(_ context.Context, tenantID, listID string) (map[model.DeliveryStatus]int, error) {
	return m.countWhere(func(r *model.DeliveryReport) bool {
		c, ok := m.campaigns[r.CampaignID]
		return r.ListID == listID && ok && c.TenantID == tenantID
	}), nil
}

func (m *MemoryStore) countWhere(match func(*model.DeliveryReport) bool) map[model.DeliveryStatus]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[model.DeliveryStatus]int{}
	for _, r := range m.reports {
		if match(r) {
			counts[r.Status]++
		}
	}
	return counts
}

// ====================== Contacts ======================

// GetContact looks up a contact. Contacts() wraps it as a ContactRepositoryInterface.
func (m *MemoryStore) GetContact(_ context.Context, id string) (*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *MemoryStore) ListRecipients(_ context.Context, tenantID string, listIDs []string) ([]model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	recipients := []model.Recipient{}
	for _, l := range listIDs {
		for _, cid := range m.members[l] {
			c := m.contacts[cid]
			if seen[cid] || c.TenantID != tenantID {
				continue
			}
			seen[cid] = true
			recipients = append(recipients, model.Recipient{Contact: c, ListID: l})
		}
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i].ID < recipients[j].ID })
	return recipients, nil
}

// Contacts returns the contact-store view of the memory store.
func (m *MemoryStore) Contacts() ContactRepositoryInterface {
	return memoryContacts{m}
}

type memoryContacts struct{ m *MemoryStore }

func (mc memoryContacts) GetByID(ctx context.Context, id string) (*model.Contact, error) {
	return mc.m.GetContact(ctx, id)
}

func (mc memoryContacts) ListRecipients(ctx context.Context, tenantID string, listIDs []string) ([]model.Recipient, error) {
	return mc.m.ListRecipients(ctx, tenantID, listIDs)
}

var (
	_ CampaignRepositoryInterface       = (*MemoryStore)(nil)
	_ DeliveryReportRepositoryInterface = (*MemoryStore)(nil)
	_ ContactRepositoryInterface        = memoryContacts{}
)
