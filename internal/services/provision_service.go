// Package services: ProvisionService
//
// This file implements ProvisionService, the component that turns a customer's
// frame configuration (width, height, material, price) into a live catalog
// variant. It validates input, suppresses duplicate in-flight requests,
// reuses an existing variant for the same configuration when one exists,
// creates one otherwise, waits for the catalog to report the requested price,
// and records the created variant for later cleanup.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the product identifier and configuration dimensions.

package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/emirhandeniz58/frame-customizer-v2/internal/catalog"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/domain"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Price bounds accepted from clients, inclusive, after rounding to cents.
var (
	minPrice = decimal.RequireFromString("0.01")
	maxPrice = decimal.RequireFromString("999999.99")

	// priceEpsilon is the tolerance when comparing the catalog's reported
	// price against the requested one. Catalog prices are cent-precision
	// decimals, so one cent absorbs any representation drift.
	priceEpsilon = decimal.RequireFromString("0.01")
)

// Variant weight derivation. The catalog wants grams per variant for shipping
// rates; frames are priced per configuration but weighed by glass area.
const (
	defaultGramsPerArea = 0.5 // material not in the table
	minVariantGrams     = 50
	maxVariantGrams     = 50000
)

// gramsPerArea maps a normalized material name to its weight per unit of
// frame area (width x height).
var gramsPerArea = map[string]float64{
	"pine":      0.35,
	"oak":       0.55,
	"walnut":    0.60,
	"aluminium": 0.25,
	"aluminum":  0.25,
}

// SessionStore resolves a session identifier to the shop credentials needed
// for catalog calls.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*domain.ShopSession, error)
}

// CatalogClient is the subset of catalog operations the provisioner and the
// cleanup worker use. *catalog.Client satisfies it.
type CatalogClient interface {
	GetVariant(ctx context.Context, variantID int64) (*catalog.Variant, error)
	ListVariants(ctx context.Context, productID int64) ([]catalog.Variant, error)
	CreateVariant(ctx context.Context, productID int64, v catalog.NewVariant) (*catalog.Variant, error)
	UpdateVariantPrice(ctx context.Context, variantID int64, price decimal.Decimal) (*catalog.Variant, error)
	DeleteVariant(ctx context.Context, productID, variantID int64) error
}

// ClientFactory builds a catalog client for one shop's credentials. Each
// session may belong to a different shop, so clients are constructed per
// request rather than injected once.
type ClientFactory func(shopDomain, accessToken string) CatalogClient

// DBSessionStore is the GORM-backed SessionStore used in production.
type DBSessionStore struct {
	DB *gorm.DB
}

// Get returns the session or repo.ErrNotFound.
func (s *DBSessionStore) Get(ctx context.Context, sessionID string) (*domain.ShopSession, error) {
	return repo.GetSession(ctx, s.DB, sessionID)
}

// ProvisionInput is one provisioning request. Dimensions and price arrive as
// strings from the HTTP layer and are validated here.
type ProvisionInput struct {
	ProductID int64
	Width     string
	Height    string
	Material  string
	Price     string
	SessionID string
}

// ProvisionResult reports the variant served to the client.
type ProvisionResult struct {
	// Variant is the catalog variant (existing or newly created).
	Variant *catalog.Variant
	// Price is the price the variant carries from the client's perspective.
	Price decimal.Decimal
	// PriceSettled is false when the catalog never confirmed the requested
	// price within the polling budget.
	PriceSettled bool
	// Reused is true when an existing variant for the same configuration was
	// served instead of creating a new one.
	Reused bool
	// Record is the persisted cleanup record; nil on the reuse path and when
	// persistence failed (which is logged, not surfaced).
	Record *domain.EphemeralVariant
}

// ProvisionService creates and re-prices ephemeral catalog variants.
type ProvisionService struct {
	DB        *gorm.DB
	Sessions  SessionStore
	NewClient ClientFactory
	Dedup     *DedupGuard

	// VariantTTL is how long a created variant lives before the cleanup
	// worker may delete it.
	VariantTTL time.Duration

	// Price settlement polling after creation.
	PricePollAttempts  int
	PricePollBaseDelay time.Duration

	sleep func(ctx context.Context, d time.Duration) error // test seam
}

// NewProvisionService returns a service with the production defaults: a two
// hour variant lifetime and an 8-attempt price poll starting at 600ms.
func NewProvisionService(db *gorm.DB, sessions SessionStore, factory ClientFactory) *ProvisionService {
	return &ProvisionService{
		DB:                 db,
		Sessions:           sessions,
		NewClient:          factory,
		Dedup:              NewDedupGuard(),
		VariantTTL:         2 * time.Hour,
		PricePollAttempts:  8,
		PricePollBaseDelay: 600 * time.Millisecond,
		sleep:              sleepCtx,
	}
}

// validated carries the parsed form of a ProvisionInput.
type validated struct {
	width    int
	height   int
	material string
	price    decimal.Decimal
}

// Provision validates the input, then serves an existing variant for the same
// configuration or creates a new one. Created variants are recorded for
// cleanup with a deletion deadline of now + VariantTTL.
func (s *ProvisionService) Provision(ctx context.Context, in ProvisionInput) (*ProvisionResult, error) {
	tr := otel.Tracer("services/ProvisionService")
	ctx, span := tr.Start(ctx, "Provision",
		trace.WithAttributes(
			attribute.Int64("product.id", in.ProductID),
			attribute.String("variant.width", in.Width),
			attribute.String("variant.height", in.Height),
			attribute.String("variant.material", in.Material),
		),
	)
	defer span.End()

	v, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	if s.Dedup != nil {
		if retryAfter, ok := s.Dedup.Acquire(v.width, v.height, v.material); !ok {
			return nil, &ConflictError{RetryAfter: retryAfter}
		}
	}

	sess, err := s.Sessions.Get(ctx, in.SessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	client := s.NewClient(sess.ShopDomain, sess.AccessToken)

	// Reuse an existing variant for this configuration when one exists.
	res, err := s.reuseExisting(ctx, client, in.ProductID, v)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}

	res, err = s.createNew(ctx, client, in.ProductID, v)
	if err != nil {
		if catalog.IsAlreadyExists(err) {
			// Lost a race with a concurrent creation. Serve the winner's
			// variant instead of failing.
			res, err = s.reuseExisting(ctx, client, in.ProductID, v)
			if err != nil {
				return nil, err
			}
			if res != nil {
				return res, nil
			}
			return nil, fmt.Errorf("%w: catalog reported a duplicate but no matching variant was found", ErrCreationFailed)
		}
		return nil, err
	}

	s.persistRecord(ctx, sess, in.ProductID, v, res)
	return res, nil
}

// validate parses and bounds-checks one input.
func (s *ProvisionService) validate(in ProvisionInput) (validated, error) {
	var v validated

	if in.ProductID <= 0 {
		return v, &ValidationError{Field: "product_id", Reason: "must be a positive integer"}
	}

	var err error
	if v.width, err = parseDimension(in.Width); err != nil {
		return v, &ValidationError{Field: "width", Reason: err.Error()}
	}
	if v.height, err = parseDimension(in.Height); err != nil {
		return v, &ValidationError{Field: "height", Reason: err.Error()}
	}

	v.material = strings.ToLower(strings.TrimSpace(in.Material))
	if v.material == "" {
		return v, &ValidationError{Field: "material", Reason: "must not be empty"}
	}

	price, err := decimal.NewFromString(strings.TrimSpace(in.Price))
	if err != nil {
		return v, &ValidationError{Field: "price", Reason: "must be a decimal number"}
	}
	price = price.Round(2)
	if price.LessThan(minPrice) || price.GreaterThan(maxPrice) {
		return v, &ValidationError{Field: "price", Reason: fmt.Sprintf("must be between %s and %s", minPrice, maxPrice)}
	}
	v.price = price

	return v, nil
}

// parseDimension parses one width/height value.
func parseDimension(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	if n <= 0 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}

// reuseExisting serves an existing variant whose options match the requested
// configuration exactly. It re-prices the variant to the requested price; if
// that update fails the existing price is served instead, since a stale price
// is preferable to failing a request the catalog can already satisfy.
// Returns (nil, nil) when no matching variant exists.
func (s *ProvisionService) reuseExisting(ctx context.Context, client CatalogClient, productID int64, v validated) (*ProvisionResult, error) {
	variants, err := client.ListVariants(ctx, productID)
	if err != nil {
		return nil, mapCatalogErr(err)
	}

	opt1, opt2, opt3 := optionValues(v.width, v.height, v.material)
	var match *catalog.Variant
	for i := range variants {
		cand := &variants[i]
		if cand.Option1 == opt1 && cand.Option2 == opt2 && strings.EqualFold(cand.Option3, opt3) {
			match = cand
			break
		}
	}
	if match == nil {
		return nil, nil
	}

	res := &ProvisionResult{Variant: match, Price: v.price, PriceSettled: true, Reused: true}
	if match.Price.Equal(v.price) {
		return res, nil
	}

	updated, err := client.UpdateVariantPrice(ctx, match.ID, v.price)
	if err != nil {
		log.Warn().
			Err(err).
			Int64("variant_id", match.ID).
			Str("price", v.price.StringFixed(2)).
			Msg("re-price of existing variant failed; serving existing price")
		res.Price = match.Price
		res.PriceSettled = false
		return res, nil
	}
	res.Variant = updated
	return res, nil
}

// createNew creates the variant and waits for the catalog to report the
// requested price before returning.
func (s *ProvisionService) createNew(ctx context.Context, client CatalogClient, productID int64, v validated) (*ProvisionResult, error) {
	opt1, opt2, opt3 := optionValues(v.width, v.height, v.material)
	created, err := client.CreateVariant(ctx, productID, catalog.NewVariant{
		Price:               v.price,
		SKU:                 fmt.Sprintf("frame-%dx%d-%s", v.width, v.height, v.material),
		Option1:             opt1,
		Option2:             opt2,
		Option3:             opt3,
		Grams:               variantGrams(v.width, v.height, v.material),
		InventoryPolicy:     "continue",
		InventoryManagement: "",
	})
	if err != nil {
		if errors.Is(err, catalog.ErrTimeout) {
			return nil, ErrTimeout
		}
		if catalog.IsAlreadyExists(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}

	settled, latest, err := s.awaitPrice(ctx, client, created, v.price)
	if err != nil {
		return nil, err
	}
	return &ProvisionResult{Variant: latest, Price: v.price, PriceSettled: settled}, nil
}

// awaitPrice polls the catalog until the variant reports the requested price,
// with linearly increasing waits between reads. When the polling budget runs
// out it pushes the price once more and takes whatever the final read says.
// Read failures during polling are tolerated; the next attempt retries.
func (s *ProvisionService) awaitPrice(ctx context.Context, client CatalogClient, created *catalog.Variant, want decimal.Decimal) (bool, *catalog.Variant, error) {
	attempts := s.PricePollAttempts
	if attempts <= 0 {
		attempts = 8
	}
	baseDelay := s.PricePollBaseDelay
	if baseDelay <= 0 {
		baseDelay = 600 * time.Millisecond
	}

	latest := created
	if priceSettled(latest.Price, want) {
		return true, latest, nil
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := s.sleep(ctx, time.Duration(attempt)*baseDelay); err != nil {
			return false, latest, mapCatalogErr(err)
		}
		got, err := client.GetVariant(ctx, created.ID)
		if err != nil {
			if errors.Is(err, catalog.ErrTimeout) {
				return false, latest, ErrTimeout
			}
			continue
		}
		latest = got
		if priceSettled(got.Price, want) {
			return true, latest, nil
		}
	}

	// The catalog never confirmed the price. Push it once more and report
	// whatever the final read says rather than failing a created variant.
	if updated, err := client.UpdateVariantPrice(ctx, created.ID, want); err == nil {
		latest = updated
	} else if errors.Is(err, catalog.ErrTimeout) {
		return false, latest, ErrTimeout
	}
	if got, err := client.GetVariant(ctx, created.ID); err == nil {
		latest = got
	}
	return priceSettled(latest.Price, want), latest, nil
}

// persistRecord stores the cleanup record and the creation audit entry.
// Persistence failures are logged instead of surfaced: the variant exists in
// the catalog and the client can use it; the daily scan will find the record
// gap via the catalog sweep.
func (s *ProvisionService) persistRecord(ctx context.Context, sess *domain.ShopSession, productID int64, v validated, res *ProvisionResult) {
	now := time.Now().UTC()
	rec := &domain.EphemeralVariant{
		ProductID:           productID,
		VariantID:           res.Variant.ID,
		Width:               v.width,
		Height:              v.height,
		Material:            v.material,
		ComputedArea:        v.width * v.height,
		Price:               res.Price,
		ShopDomain:          sess.ShopDomain,
		SessionID:           sess.ID,
		CreatedAt:           now,
		ScheduledDeletionAt: now.Add(s.variantTTL()),
	}
	if err := repo.CreateEphemeralVariant(ctx, s.DB, rec); err != nil {
		log.Warn().
			Err(err).
			Int64("product_id", productID).
			Int64("variant_id", res.Variant.ID).
			Msg("ephemeral variant record not persisted; variant will not be swept")
		return
	}
	res.Record = rec

	entry := &domain.AuditLogEntry{
		Action:    domain.ActionVariantCreated,
		ProductID: &productID,
		VariantID: &res.Variant.ID,
		Message:   fmt.Sprintf("created variant %dx%d %s at %s", v.width, v.height, v.material, res.Price.StringFixed(2)),
	}
	if err := repo.AppendAudit(ctx, s.DB, entry); err != nil {
		log.Warn().Err(err).Int64("variant_id", res.Variant.ID).Msg("audit entry not persisted")
	}
}

func (s *ProvisionService) variantTTL() time.Duration {
	if s.VariantTTL > 0 {
		return s.VariantTTL
	}
	return 2 * time.Hour
}

// optionValues renders a configuration as the catalog's three option strings.
// The material is title-cased for display ("oak" becomes "Oak").
func optionValues(width, height int, material string) (string, string, string) {
	label := cases.Title(language.English).String(material)
	return strconv.Itoa(width), strconv.Itoa(height), label
}

// variantGrams derives the shipping weight from the frame area and material,
// clamped to the catalog's accepted range.
func variantGrams(width, height int, material string) int {
	perArea, ok := gramsPerArea[material]
	if !ok {
		perArea = defaultGramsPerArea
	}
	grams := int(float64(width*height) * perArea)
	if grams < minVariantGrams {
		return minVariantGrams
	}
	if grams > maxVariantGrams {
		return maxVariantGrams
	}
	return grams
}

// priceSettled reports whether got is within one cent of want.
func priceSettled(got, want decimal.Decimal) bool {
	return got.Sub(want).Abs().LessThanOrEqual(priceEpsilon)
}

// mapCatalogErr converts catalog timeouts into the service-level sentinel and
// passes other errors through.
func mapCatalogErr(err error) error {
	if errors.Is(err, catalog.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
