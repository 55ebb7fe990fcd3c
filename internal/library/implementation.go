// internal/library/implementation.go
package library

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"shelfkeeper/internal/address"
	"shelfkeeper/internal/identity"
)

// DefaultNamespace labels library addresses unless WithResolver says otherwise.
const DefaultNamespace = "library"

const instrumentationName = "shelfkeeper/library"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// service implements the Service interface.
type service struct {
	store    Store
	resolver address.Resolver
	limiter  *rate.Limiter
	log      zerolog.Logger
	tracer   trace.Tracer
	ops      metric.Int64Counter
}

// Option configures the service.
type Option func(*service)

// WithResolver replaces the default address namespace.
func WithResolver(r address.Resolver) Option {
	return func(s *service) { s.resolver = r }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *service) { s.log = log }
}

// WithCreateLimiter throttles CreateLibrary.
func WithCreateLimiter(l *rate.Limiter) Option {
	return func(s *service) { s.limiter = l }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *service) { s.tracer = tp.Tracer(instrumentationName) }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *service) { s.ops = newOpsCounter(mp) }
}

// NewService creates a new library service instance.
func NewService(store Store, opts ...Option) Service {
	s := &service{
		store:    store,
		resolver: address.Namespace(DefaultNamespace),
		log:      zerolog.Nop(),
		tracer:   otel.Tracer(instrumentationName),
		ops:      newOpsCounter(otel.GetMeterProvider()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newOpsCounter(mp metric.MeterProvider) metric.Int64Counter {
	counter, err := mp.Meter(instrumentationName).Int64Counter(
		"library.operations",
		metric.WithDescription("Library operations by outcome"),
	)
	if err != nil {
		return noop.Int64Counter{}
	}
	return counter
}

// CreateLibrary opens the owner's library. The address must not be occupied.
func (s *service) CreateLibrary(ctx context.Context, owner identity.Identity, name string) (lib *Library, err error) {
	ctx, span := s.start(ctx, "create_library", owner)
	defer func() { s.finish(ctx, span, "create_library", err) }()

	if s.limiter != nil && !s.limiter.Allow() {
		return nil, ErrRateLimited
	}

	lib, err = NewLibrary(owner, name)
	if err != nil {
		return nil, err
	}
	ev, err := newEvent(EventLibraryCreated, LibraryCreatedEvent{Owner: owner, Name: name})
	if err != nil {
		return nil, err
	}

	addr := s.resolver.Resolve(owner)
	if err := s.store.Create(ctx, addr, lib, ev); err != nil {
		return nil, fmt.Errorf("create library: %w", err)
	}

	s.log.Info().
		Stringer("owner", owner).
		Stringer("address", addr).
		Str("name", name).
		Msg("library created")
	return lib, nil
}

// GetLibrary returns the whole record.
func (s *service) GetLibrary(ctx context.Context, caller, owner identity.Identity) (lib *Library, err error) {
	ctx, span := s.start(ctx, "get_library", owner)
	defer func() { s.finish(ctx, span, "get_library", err) }()

	return s.load(ctx, caller, owner)
}

// AddBook appends an available book.
func (s *service) AddBook(ctx context.Context, caller, owner identity.Identity, name string, pages uint16) (err error) {
	ctx, span := s.start(ctx, "add_book", owner)
	defer func() { s.finish(ctx, span, "add_book", err) }()

	err = s.mutate(ctx, caller, owner, func(lib *Library) (Event, error) {
		if err := lib.AddBook(name, pages); err != nil {
			return Event{}, err
		}
		return newEvent(EventBookAdded, BookAddedEvent{Name: name, Pages: pages})
	})
	if err != nil {
		return err
	}

	s.log.Info().Stringer("owner", owner).Str("book", name).Uint16("pages", pages).Msg("book added")
	return nil
}

// RemoveBook removes the first book with the given name.
func (s *service) RemoveBook(ctx context.Context, caller, owner identity.Identity, name string) (err error) {
	ctx, span := s.start(ctx, "remove_book", owner)
	defer func() { s.finish(ctx, span, "remove_book", err) }()

	err = s.mutate(ctx, caller, owner, func(lib *Library) (Event, error) {
		if err := lib.RemoveBook(name); err != nil {
			return Event{}, err
		}
		return newEvent(EventBookRemoved, BookRemovedEvent{Name: name})
	})
	if err != nil {
		return err
	}

	s.log.Info().Stringer("owner", owner).Str("book", name).Msg("book removed")
	return nil
}

// ListBooks returns the books in stored order.
func (s *service) ListBooks(ctx context.Context, caller, owner identity.Identity) (books []Book, err error) {
	ctx, span := s.start(ctx, "list_books", owner)
	defer func() { s.finish(ctx, span, "list_books", err) }()

	lib, err := s.load(ctx, caller, owner)
	if err != nil {
		return nil, err
	}
	books = lib.ListBooks()
	span.SetAttributes(attribute.Int("books.count", len(books)))
	return books, nil
}

// ToggleAvailability flips the first matching book and returns its new state.
func (s *service) ToggleAvailability(ctx context.Context, caller, owner identity.Identity, name string) (available bool, err error) {
	ctx, span := s.start(ctx, "toggle_availability", owner)
	defer func() { s.finish(ctx, span, "toggle_availability", err) }()

	err = s.mutate(ctx, caller, owner, func(lib *Library) (Event, error) {
		flipped, err := lib.ToggleAvailability(name)
		if err != nil {
			return Event{}, err
		}
		available = flipped
		return newEvent(EventBookAvailabilityToggled, BookAvailabilityToggledEvent{Name: name, Available: flipped})
	})
	if err != nil {
		return false, err
	}

	s.log.Info().Stringer("owner", owner).Str("book", name).Bool("available", available).Msg("book availability changed")
	return available, nil
}

// History returns the journal of committed changes.
func (s *service) History(ctx context.Context, caller, owner identity.Identity) (events []Event, err error) {
	ctx, span := s.start(ctx, "history", owner)
	defer func() { s.finish(ctx, span, "history", err) }()

	if _, err := s.load(ctx, caller, owner); err != nil {
		return nil, err
	}
	return s.store.Events(ctx, s.resolver.Resolve(owner))
}

// load resolves and gates a read.
func (s *service) load(ctx context.Context, caller, owner identity.Identity) (*Library, error) {
	lib, err := s.store.Load(ctx, s.resolver.Resolve(owner))
	if err != nil {
		return nil, err
	}
	if err := authorize(lib, caller); err != nil {
		return nil, err
	}
	return lib, nil
}

// mutate resolves and gates a change; change only runs for the owner.
func (s *service) mutate(ctx context.Context, caller, owner identity.Identity, change UpdateFunc) error {
	return s.store.Update(ctx, s.resolver.Resolve(owner), func(lib *Library) (Event, error) {
		if err := authorize(lib, caller); err != nil {
			return Event{}, err
		}
		return change(lib)
	})
}

func newEvent(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return Event{Type: eventType, Data: data}, nil
}

func (s *service) start(ctx context.Context, op string, owner identity.Identity) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "library."+op,
		trace.WithAttributes(attribute.String("library.owner", owner.String())),
	)
}

func (s *service) finish(ctx context.Context, span trace.Span, op string, err error) {
	result := outcome(err)
	span.SetAttributes(attribute.String("library.outcome", result))
	if result == "error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error().Err(err).Str("operation", op).Msg("library operation failed")
	} else if err != nil {
		s.log.Debug().Err(err).Str("operation", op).Msg("library operation rejected")
	}
	span.End()

	s.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", result),
	))
}

// outcome classifies err for telemetry. Domain rejections are not errors.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrBookNotFound):
		return "book_not_found"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrNameTooLong):
		return "name_too_long"
	case errors.Is(err, ErrLibraryExists):
		return "library_exists"
	case errors.Is(err, ErrLibraryNotFound):
		return "library_not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
