package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

// RequestLogEntry records a request made to a fake transport.
type RequestLogEntry struct {
	Endpoint string
	Params   map[string]string
}

// InMemoryTransport is a lightweight simulation of a FHIR server.
// Only implements the Patient and Observation/_search endpoints, which is
// sufficient for unit testing cache and aggregation logic.
type InMemoryTransport struct {
	mu           sync.Mutex
	patients     []map[string]any
	observations map[string][]map[string]any
	requestLog   []RequestLogEntry

	// Err, when set, is returned by every request.
	Err error
}

// NewInMemoryTransport creates a new in-memory transport for testing.
func NewInMemoryTransport() *InMemoryTransport {
	return &InMemoryTransport{
		observations: make(map[string][]map[string]any),
	}
}

// SeedPatient adds a Patient whose first identifier carries label and id.
func (t *InMemoryTransport) SeedPatient(id int, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.patients = append(t.patients, map[string]any{
		"resourceType": "Patient",
		"identifier": []any{
			map[string]any{"label": label, "value": strconv.Itoa(id)},
		},
	})
}

// SeedObservation adds raw Observation content for the given patient.
func (t *InMemoryTransport) SeedObservation(patientID int, content map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := strconv.Itoa(patientID)
	t.observations[key] = append(t.observations[key], content)
}

// SeedVital adds a measured Observation for the given patient.
func (t *InMemoryTransport) SeedVital(patientID int, applies, code, display string, value float64, units string) {
	t.SeedObservation(patientID, ObservationFixture(applies, code, display, value, units))
}

// RequestsMade returns the number of requests made to this transport.
func (t *InMemoryTransport) RequestsMade() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requestLog)
}

// Requests returns a copy of the request log.
func (t *InMemoryTransport) Requests() []RequestLogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RequestLogEntry, len(t.requestLog))
	copy(out, t.requestLog)
	return out
}

// Request simulates a low-level FHIR request.
func (t *InMemoryTransport) Request(_ context.Context, endpoint string, params map[string]string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Track the call for assertions in unit tests
	t.requestLog = append(t.requestLog, RequestLogEntry{
		Endpoint: endpoint,
		Params:   copyParams(params),
	})

	if t.Err != nil {
		return nil, t.Err
	}

	switch endpoint {
	case "Patient":
		return envelopeFixture("Patient", t.patients)
	case "Observation/_search":
		return envelopeFixture("Observation", t.observations[params["subject:Patient"]])
	default:
		return json.Marshal(map[string]any{"totalResults": 0})
	}
}

// ObservationFixture builds Observation content with a valueQuantity.
func ObservationFixture(applies, code, display string, value float64, units string) map[string]any {
	return map[string]any{
		"resourceType":    "Observation",
		"appliesDateTime": applies,
		"name": map[string]any{
			"coding": []any{
				map[string]any{"system": "http://loinc.org", "code": code, "display": display},
			},
		},
		"valueQuantity": map[string]any{"value": value, "units": units},
	}
}

// envelopeFixture wraps resource contents into a search envelope.
func envelopeFixture(kind string, contents []map[string]any) ([]byte, error) {
	entries := make([]any, len(contents))
	for i, c := range contents {
		entries[i] = map[string]any{
			"title":   fmt.Sprintf("%s/%d", kind, i+1),
			"updated": "2014-01-01T00:00:00Z",
			"content": c,
		}
	}
	return json.Marshal(map[string]any{
		"totalResults": len(entries),
		"entry":        entries,
	})
}

// copyParams creates a copy of the params map.
func copyParams(params map[string]string) map[string]string {
	result := make(map[string]string)
	for k, v := range params {
		result[k] = v
	}
	return result
}

// MockTransport is an in-memory fake returning fixed bodies per endpoint.
type MockTransport struct {
	Fixtures   map[string]string
	RequestLog []RequestLogEntry
}

// NewMockTransport creates a new mock transport with the given fixtures.
func NewMockTransport(fixtures map[string]string) *MockTransport {
	return &MockTransport{
		Fixtures:   fixtures,
		RequestLog: make([]RequestLogEntry, 0),
	}
}

// Request returns the fixture registered for endpoint, or an empty envelope.
func (t *MockTransport) Request(_ context.Context, endpoint string, params map[string]string) ([]byte, error) {
	t.RequestLog = append(t.RequestLog, RequestLogEntry{
		Endpoint: endpoint,
		Params:   copyParams(params),
	})

	body, ok := t.Fixtures[endpoint]
	if !ok {
		return []byte(`{"totalResults": 0}`), nil
	}
	return []byte(body), nil
}
