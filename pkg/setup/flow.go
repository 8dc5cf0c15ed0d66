package setup

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/andreweacott/jatekukko-exporter/pkg/logger"
)

var (
	// ErrAlreadyConfigured is returned by CreateEntry when the customer number
	// already has an entry. The stored password has been updated.
	ErrAlreadyConfigured = errors.New("customer number already configured")

	// ErrReauthNoEntry is returned by Reauth for a customer number without an entry
	ErrReauthNoEntry = errors.New("no existing entry to re-authenticate")
)

// Flow creates and re-authenticates entries. Credentials are stored only after
// they validate.
type Flow struct {
	store   *Store
	factory ClientFactory
	log     *logger.Logger
	now     func() time.Time
}

// NewFlow creates a setup flow
func NewFlow(store *Store, factory ClientFactory, log *logger.Logger) *Flow {
	if log == nil {
		log = logger.Discard()
	}
	return &Flow{store: store, factory: factory, log: log, now: time.Now}
}

// CreateEntry validates the credentials and stores a new entry
func (f *Flow) CreateEntry(ctx context.Context, customerNumber, password string) (Entry, error) {
	customerNumber = strings.TrimSpace(customerNumber)

	title, err := Validate(ctx, f.factory, customerNumber, password, f.log)
	if err != nil {
		return Entry{}, err
	}

	now := f.now()
	existing, err := f.store.Get(customerNumber)
	switch {
	case err == nil:
		existing.Password = password
		existing.UpdatedAt = now
		if err := f.store.Put(existing); err != nil {
			return Entry{}, err
		}
		f.log.WithCustomerNumber(customerNumber).Info("Entry already configured, password updated")
		return existing, ErrAlreadyConfigured
	case !errors.Is(err, ErrEntryNotFound):
		return Entry{}, err
	}

	entry := Entry{
		CustomerNumber: customerNumber,
		Password:       password,
		Title:          title,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := f.store.Put(entry); err != nil {
		return Entry{}, err
	}

	f.log.Info("Entry created", "customer_number", customerNumber, "title", title)
	return entry, nil
}

// Reauth validates new credentials for an existing entry and stores the new password
func (f *Flow) Reauth(ctx context.Context, customerNumber, password string) (Entry, error) {
	customerNumber = strings.TrimSpace(customerNumber)

	if _, err := Validate(ctx, f.factory, customerNumber, password, f.log); err != nil {
		return Entry{}, err
	}

	entry, err := f.store.Get(customerNumber)
	if errors.Is(err, ErrEntryNotFound) {
		return Entry{}, ErrReauthNoEntry
	}
	if err != nil {
		return Entry{}, err
	}

	entry.Password = password
	entry.UpdatedAt = f.now()
	if err := f.store.Put(entry); err != nil {
		return Entry{}, err
	}

	f.log.WithCustomerNumber(customerNumber).Info("Re-authentication successful")
	return entry, nil
}

// Adopt stores credentials that were already proven by a successful refresh,
// such as ones given on the command line, so later re-authentication finds an
// entry. An existing entry keeps its title and creation time. It reports
// whether the store changed.
func (f *Flow) Adopt(entry Entry) (bool, error) {
	entry.CustomerNumber = strings.TrimSpace(entry.CustomerNumber)
	now := f.now()

	existing, err := f.store.Get(entry.CustomerNumber)
	switch {
	case err == nil:
		if existing.Password == entry.Password {
			return false, nil
		}
		existing.Password = entry.Password
		existing.UpdatedAt = now
		if err := f.store.Put(existing); err != nil {
			return false, err
		}
		f.log.WithCustomerNumber(entry.CustomerNumber).Info("Stored password updated from configuration")
		return true, nil
	case !errors.Is(err, ErrEntryNotFound):
		return false, err
	}

	if entry.Title == "" {
		entry.Title = entry.CustomerNumber
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if err := f.store.Put(entry); err != nil {
		return false, err
	}
	f.log.WithCustomerNumber(entry.CustomerNumber).Info("Entry stored from configuration")
	return true, nil
}
