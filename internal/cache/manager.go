package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/colthorp/vitals-cli-go/internal/api"
	"github.com/colthorp/vitals-cli-go/internal/core"
	"golang.org/x/sync/singleflight"
)

// ErrIdentityContract matches IdentityContractViolation.
var ErrIdentityContract = errors.New("cache: patient identifier contract violated")

// IdentityContractViolation reports a Patient whose first identifier is
// not the expected MRN. It aborts the whole listing.
type IdentityContractViolation struct {
	Title  string
	Want   string
	Got    string
	Reason string
}

func (e *IdentityContractViolation) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("patient %s: identifier is unexpected: %s", e.Title, e.Reason)
	}
	return fmt.Sprintf("patient %s: identifier type is unexpected: got label %q, want %q", e.Title, e.Got, e.Want)
}

func (e *IdentityContractViolation) Is(target error) bool { return target == ErrIdentityContract }

// Cache keys
var patientListKey = MustKey("patients", "list")

func vitalsKey(patientID int) Key {
	return MustKey("vitals", strconv.Itoa(patientID))
}

// Manager orchestrates caching and fetching of patient data.
//
// Both lookups follow the same read-through policy: try the cache, return
// on a hit without touching the network, otherwise search the remote
// source, transform the entries, store the result and return it. A failed
// write is an error; a result that cannot be cached is not returned.
type Manager struct {
	fetcher         *api.Fetcher
	cache           *KeyedCache
	identifierLabel string
	logger          *slog.Logger

	flight singleflight.Group
}

// NewManager creates a new cache manager. An empty identifierLabel uses
// core.DefaultIdentifierLabel.
func NewManager(fetcher *api.Fetcher, cache *KeyedCache, identifierLabel string, logger *slog.Logger) *Manager {
	if identifierLabel == "" {
		identifierLabel = core.DefaultIdentifierLabel
	}
	if logger == nil {
		logger = core.DiscardLogger()
	}
	return &Manager{
		fetcher:         fetcher,
		cache:           cache,
		identifierLabel: identifierLabel,
		logger:          logger,
	}
}

// PatientIDs returns the ids of every patient, in the order the server
// listed them. Duplicates are kept.
func (m *Manager) PatientIDs(ctx context.Context) ([]int, error) {
	var ids []int
	if m.cache.Get(ctx, patientListKey, &ids) {
		return ids, nil
	}

	ids = make([]int, 0)
	for entry, err := range m.fetcher.Search(ctx, "Patient", "", nil) {
		if err != nil {
			return nil, err
		}
		id, err := m.patientID(entry)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := m.cache.Set(ctx, patientListKey, ids); err != nil {
		return nil, err
	}
	m.logger.Debug("patient list fetched", "count", len(ids))
	return ids, nil
}

// patientID extracts the MRN from a Patient entry.
func (m *Manager) patientID(entry api.Entry) (int, error) {
	var content api.PatientContent
	if err := json.Unmarshal(entry.Content, &content); err != nil {
		return 0, &IdentityContractViolation{Title: entry.Title, Want: m.identifierLabel, Reason: err.Error()}
	}
	if len(content.Identifier) == 0 {
		return 0, &IdentityContractViolation{Title: entry.Title, Want: m.identifierLabel, Reason: "no identifier"}
	}

	identifier := content.Identifier[0]
	if identifier.Label != m.identifierLabel {
		return 0, &IdentityContractViolation{Title: entry.Title, Want: m.identifierLabel, Got: identifier.Label}
	}

	raw := strings.TrimSpace(string(identifier.Value))
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &IdentityContractViolation{
			Title:  entry.Title,
			Want:   m.identifierLabel,
			Reason: fmt.Sprintf("value %s is not an integer", identifier.Value),
		}
	}
	return id, nil
}

// VitalsFor returns the measured observations of one patient, in the
// order the server listed them. Observations without a valueQuantity are
// dropped.
func (m *Manager) VitalsFor(ctx context.Context, patientID int) ([]api.Vital, error) {
	key := vitalsKey(patientID)

	var vitals []api.Vital
	if m.cache.Get(ctx, key, &vitals) {
		return vitals, nil
	}

	params := map[string]string{
		"subject:Patient": strconv.Itoa(patientID),
	}

	vitals = make([]api.Vital, 0)
	for entry, err := range m.fetcher.Search(ctx, "Observation", "_search", params) {
		if err != nil {
			return nil, err
		}

		var content api.ObservationContent
		if err := json.Unmarshal(entry.Content, &content); err != nil {
			return nil, fmt.Errorf("%w: observation %s: %w", api.ErrMalformedEnvelope, entry.Title, err)
		}
		if content.ValueQuantity == nil {
			continue
		}
		if len(content.Name.Coding) == 0 {
			return nil, fmt.Errorf("%w: observation %s has no coding", api.ErrMalformedEnvelope, entry.Title)
		}

		vitals = append(vitals, api.Vital{
			Applies:  content.AppliesDateTime,
			Coding:   content.Name.Coding[0],
			Quantity: *content.ValueQuantity,
		})
	}

	if err := m.cache.Set(ctx, key, vitals); err != nil {
		return nil, err
	}
	m.logger.Debug("vitals fetched", "patient", patientID, "count", len(vitals))
	return vitals, nil
}

// sharedVitalsFor is VitalsFor with concurrent calls for the same patient
// collapsed into one.
func (m *Manager) sharedVitalsFor(ctx context.Context, patientID int) ([]api.Vital, error) {
	v, err, _ := m.flight.Do(vitalsKey(patientID).String(), func() (any, error) {
		return m.VitalsFor(ctx, patientID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]api.Vital), nil
}

// Cache returns the keyed cache behind the manager.
func (m *Manager) Cache() *KeyedCache {
	return m.cache
}
