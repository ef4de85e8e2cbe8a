package api

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/colthorp/vitals-cli-go/internal/core"
	"github.com/colthorp/vitals-cli-go/internal/observe"
)

// Fetcher runs collection searches over a Transport and flattens the
// result envelope into entries.
//
// Only the first page of a search is read. When the server reports more
// results than it returned, the shortfall is logged and counted, but no
// further pages are requested.
type Fetcher struct {
	transport Transport
	logger    *slog.Logger
	tracer    trace.Tracer

	searches  metric.Int64Counter
	entries   metric.Int64Counter
	truncated metric.Int64Counter
}

// NewFetcher creates a Fetcher. Nil logger and providers fall back to a
// discarding logger and the global OpenTelemetry providers.
func NewFetcher(transport Transport, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider) *Fetcher {
	if logger == nil {
		logger = core.DiscardLogger()
	}
	meter := observe.Meter(mp)
	return &Fetcher{
		transport: transport,
		logger:    logger,
		tracer:    observe.Tracer(tp),
		searches:  observe.Counter(meter, "fhir.search.requests", "Collection searches sent to the remote source", "{request}"),
		entries:   observe.Counter(meter, "fhir.search.entries", "Entries yielded by collection searches", "{entry}"),
		truncated: observe.Counter(meter, "fhir.search.truncated", "Searches whose total exceeded the entries of the single page read", "{search}"),
	}
}

// Search requests collection[/subResource] with params and yields its
// entries. Nothing is requested until the sequence is ranged over, and
// the sequence can be ranged over once; call Search again to repeat it.
// On failure a single (Entry{}, err) pair is yielded and the sequence ends.
func (f *Fetcher) Search(ctx context.Context, collection, subResource string, params map[string]string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		endpoint := collection
		if subResource != "" {
			endpoint += "/" + subResource
		}

		ctx, span := f.tracer.Start(ctx, "fhir.search", trace.WithAttributes(
			attribute.String("fhir.collection", collection),
			attribute.String("fhir.endpoint", endpoint),
		))
		defer span.End()

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(Entry{}, err)
		}

		attrs := metric.WithAttributes(attribute.String("fhir.collection", collection))
		f.searches.Add(ctx, 1, attrs)

		body, err := f.transport.Request(ctx, endpoint, params)
		if err != nil {
			fail(err)
			return
		}

		entries, total, err := decodeEnvelope(collection, body)
		if err != nil {
			fail(err)
			return
		}
		span.SetAttributes(
			attribute.Int("fhir.total_results", total),
			attribute.Int("fhir.page_entries", len(entries)),
		)

		if total > len(entries) {
			f.truncated.Add(ctx, 1, attrs)
			f.logger.Warn("search returned a partial page; remaining pages are not read",
				"collection", collection, "total", total, "received", len(entries))
		}

		for _, e := range entries {
			f.entries.Add(ctx, 1, attrs)
			if !yield(e, nil) {
				return
			}
		}
	}
}

// decodeEnvelope validates the envelope shape and returns its entries
// together with the reported total.
func decodeEnvelope(collection string, body []byte) ([]Entry, int, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, 0, &MalformedEnvelopeError{Collection: collection, Reason: err.Error(), Payload: body}
	}

	if env.TotalResults == 0 {
		return nil, 0, nil
	}

	if env.Entries == nil {
		return nil, env.TotalResults, &MalformedEnvelopeError{Collection: collection, Reason: `missing key "entry"`, Payload: body}
	}

	for _, e := range *env.Entries {
		if len(e.Content) == 0 {
			return nil, env.TotalResults, &MalformedEnvelopeError{
				Collection: collection,
				Reason:     `missing key "content" in entry ` + e.Title,
				Payload:    body,
			}
		}
	}

	return *env.Entries, env.TotalResults, nil
}
