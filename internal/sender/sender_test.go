package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/repository"
)

type fakeProvider struct {
	mu    sync.Mutex
	fail  map[string]error // keyed by phone
	calls []OutboundMessage
}

func (f *fakeProvider) Send(_ context.Context, msg OutboundMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg)
	if err := f.fail[msg.To]; err != nil {
		return "", err
	}
	return "pm-" + msg.ContactID, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newFixture(t *testing.T, n int) (*repository.MemoryStore, *model.Campaign) {
	t.Helper()
	store := repository.NewMemoryStore()
	for i := 1; i <= n; i++ {
		store.AddContact(model.Contact{
			ID:        fmt.Sprintf("k%d", i),
			TenantID:  "t1",
			Phone:     fmt.Sprintf("+2547000000%02d", i),
			FirstName: fmt.Sprintf("Name%d", i),
		}, "l1")
	}
	c := &model.Campaign{
		ID:       "c1",
		TenantID: "t1",
		Channel:  model.ChannelSMS,
		Status:   model.CampaignSending,
		ListIDs:  []string{"l1"},
		Body:     "Hi {first_name}",
	}
	return store, c
}

func TestDispatchIsolatesRecipientFailures(t *testing.T) {
	store, c := newFixture(t, 3)
	provider := &fakeProvider{fail: map[string]error{"+254700000002": errors.New("invalid number")}}
	s := New(model.ChannelSMS, provider, store.Contacts(), store, Options{Workers: 2})

	res, err := s.Dispatch(context.Background(), c)
	if err != nil {
		t.Fatalf("per-recipient failure must not fail dispatch: %v", err)
	}
	if res.Sent != 2 || res.Failed != 1 || res.Recipients != 3 {
		t.Fatalf("unexpected result %+v", res)
	}

	reports, _ := store.ListByCampaign(context.Background(), "c1")
	if len(reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(reports))
	}
	for _, r := range reports {
		switch r.ContactID {
		case "k2":
			if r.Status != model.DeliveryFailed || r.FailureReason == nil || *r.FailureReason != "invalid number" {
				t.Fatalf("k2 should be FAILED with reason: %+v", r)
			}
			if r.ProviderMessageID != nil {
				t.Fatal("failed report should carry no provider message id")
			}
		default:
			if r.Status != model.DeliverySent || r.ProviderMessageID == nil || *r.ProviderMessageID != "pm-"+r.ContactID {
				t.Fatalf("expected SENT report: %+v", r)
			}
			if r.ListID != "l1" {
				t.Fatalf("list id not recorded: %+v", r)
			}
		}
	}
}

func TestDispatchSkipsAttemptedContacts(t *testing.T) {
	store, c := newFixture(t, 3)
	_, _ = store.Record(context.Background(), &model.DeliveryReport{ID: "r1", CampaignID: "c1", ContactID: "k1", Status: model.DeliverySent})

	provider := &fakeProvider{}
	s := New(model.ChannelSMS, provider, store.Contacts(), store, Options{Workers: 1})
	res, err := s.Dispatch(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 1 || res.Sent != 2 || provider.callCount() != 2 {
		t.Fatalf("unexpected result %+v calls=%d", res, provider.callCount())
	}
}

func TestDispatchAbortsOnFatalError(t *testing.T) {
	store, c := newFixture(t, 5)
	fatal := &FatalError{Err: errors.New("bad token")}
	provider := &fakeProvider{fail: map[string]error{}}
	for i := 1; i <= 5; i++ {
		provider.fail[fmt.Sprintf("+2547000000%02d", i)] = fatal
	}
	s := New(model.ChannelSMS, provider, store.Contacts(), store, Options{Workers: 1})

	_, err := s.Dispatch(context.Background(), c)
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if provider.callCount() != 1 {
		t.Fatalf("dispatch should stop after the fatal error, got %d calls", provider.callCount())
	}
	if reports, _ := store.ListByCampaign(context.Background(), "c1"); len(reports) != 0 {
		t.Fatalf("fatal errors must not produce reports, got %d", len(reports))
	}
}

func TestDispatchAbortsWhenProviderUnavailable(t *testing.T) {
	store, c := newFixture(t, 2)
	unavailable := fmt.Errorf("%w: connection refused", ErrProviderUnavailable)
	provider := &fakeProvider{fail: map[string]error{"+254700000001": unavailable, "+254700000002": unavailable}}
	s := New(model.ChannelSMS, provider, store.Contacts(), store, Options{Workers: 1})

	if _, err := s.Dispatch(context.Background(), c); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestDispatchRejectsOtherChannel(t *testing.T) {
	store, c := newFixture(t, 1)
	c.Channel = model.ChannelChat
	provider := &fakeProvider{}
	s := New(model.ChannelSMS, provider, store.Contacts(), store, Options{})
	if _, err := s.Dispatch(context.Background(), c); err == nil {
		t.Fatal("sms sender must refuse a chat campaign")
	}
	if provider.callCount() != 0 {
		t.Fatal("no sends expected")
	}
}

func TestBuildMessagePersonalises(t *testing.T) {
	c := &model.Campaign{
		ID:           "c1",
		Channel:      model.ChannelChat,
		TemplateID:   "promo_v1",
		TemplateVars: map[string]string{"1": "{first_name}", "2": "{preferred_product} in {location}"},
		MediaURL:     "https://cdn.example.com/a.png",
	}
	r := model.Recipient{Contact: model.Contact{ID: "k1", Phone: "+1", FirstName: "Alice", PreferredProduct: "Shoes", Location: "Nairobi"}}

	msg := BuildMessage(c, r)
	if msg.TemplateVars["1"] != "Alice" || msg.TemplateVars["2"] != "Shoes in Nairobi" {
		t.Fatalf("unexpected vars %v", msg.TemplateVars)
	}
	if c.TemplateVars["1"] != "{first_name}" {
		t.Fatal("campaign template vars must not be mutated")
	}
	if msg.To != "+1" || msg.TemplateID != "promo_v1" || msg.MediaURL == "" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"all fields", "Hi {first_name} {last_name}", "Hi Alice Smith"},
		{"unknown placeholder kept", "Hi {nickname}", "Hi {nickname}"},
		{"empty value", "Hi {location}!", "Hi !"},
		{"no placeholders", "Plain text", "Plain text"},
	}
	data := map[string]string{"first_name": "Alice", "last_name": "Smith", "location": ""}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderTemplate(tt.tmpl, data); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
