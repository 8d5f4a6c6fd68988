// Package marketplace is the typed REST and websocket client for the NFT
// marketplace the engine bids on. It owns no bidding state; every REST call
// is admitted through the shared request scheduler.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/ordbot/internal/domain"
	"github.com/alanyoungcy/ordbot/internal/scheduler"
)

const (
	// feeRateTier selects the network fee estimate used for offer
	// transactions.
	feeRateTier = "halfHourFee"

	// maxPlaceAttempts bounds the cancel-then-retry resolution of
	// duplicate-offer conflicts.
	maxPlaceAttempts = 3

	// maxActivityPages bounds one ActivitySince sweep.
	maxActivityPages = 3

	activityPageSize = 100
)

// Client is the marketplace REST client.
type Client struct {
	baseURL    string
	balanceURL string
	apiKey     string
	http       *http.Client
	sched      *scheduler.Scheduler
	logger     *slog.Logger
}

// NewClient creates a marketplace client rooted at baseURL. balanceURL is the
// root of the chain balance service; apiKey is sent on every request.
func NewClient(baseURL, balanceURL, apiKey string, sched *scheduler.Scheduler, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		balanceURL: strings.TrimRight(balanceURL, "/"),
		apiKey:     apiKey,
		http:       &http.Client{Timeout: 30 * time.Second},
		sched:      sched,
		logger:     logger.With(slog.String("component", "marketplace")),
	}
}

// PlaceRequest carries the parameters for one item-offer placement.
type PlaceRequest struct {
	TokenID   string
	Price     int64
	ExpiresAt time.Time
	Wallet    domain.Wallet
}

// CollectionPlaceRequest carries the parameters for an aggregate
// collection-offer placement.
type CollectionPlaceRequest struct {
	CollectionSymbol string
	Price            int64
	ExpiresAt        time.Time
	Wallet           domain.Wallet
}

// FloorStats returns the collection's floor price, supply, and listed count.
func (c *Client) FloorStats(ctx context.Context, collectionSymbol string) (*domain.FloorStats, error) {
	params := url.Values{}
	params.Set("collectionSymbol", collectionSymbol)

	var resp statResponse
	if err := c.getJSON(ctx, "floor_stats", "/stat", params, &resp); err != nil {
		return nil, err
	}
	return resp.toDomain(), nil
}

// CheapestTokens returns up to bidCount currently-listed tokens, cheapest
// first. The page size is rounded up to the marketplace's 20-token page
// granularity and capped at 100.
func (c *Client) CheapestTokens(ctx context.Context, collectionSymbol string, bidCount int) ([]domain.Token, error) {
	params := url.Values{}
	params.Set("collectionSymbol", collectionSymbol)
	params.Set("limit", strconv.Itoa(pageLimit(bidCount)))
	params.Set("offset", "0")
	params.Set("sortBy", "priceAsc")
	params.Set("disablePendingTransactions", "true")

	var resp tokensResponse
	if err := c.getJSON(ctx, "cheapest_tokens", "/tokens", params, &resp); err != nil {
		return nil, err
	}

	tokens := make([]domain.Token, 0, bidCount)
	for i := range resp.Tokens {
		if !resp.Tokens[i].Listed {
			continue
		}
		tokens = append(tokens, resp.Tokens[i].toDomain())
		if len(tokens) == bidCount {
			break
		}
	}
	return tokens, nil
}

// BestOffers returns the top two valid offers on a token, price descending.
// Either may be nil.
func (c *Client) BestOffers(ctx context.Context, tokenID string) (best, second *domain.Offer, err error) {
	offers, err := c.listOffers(ctx, "best_offers", tokenID, "", 2)
	if err != nil {
		return nil, nil, err
	}
	if len(offers) > 0 {
		best = &offers[0]
	}
	if len(offers) > 1 {
		second = &offers[1]
	}
	return best, second, nil
}

// TokenOffers returns valid offers on a token, optionally filtered to a
// single bidder's receive address.
func (c *Client) TokenOffers(ctx context.Context, tokenID, buyerAddress string) ([]domain.Offer, error) {
	limit := 100
	if buyerAddress != "" {
		limit = 1
	}
	return c.listOffers(ctx, "token_offers", tokenID, buyerAddress, limit)
}

// OwnerOffers returns every valid offer held by the given receive address.
func (c *Client) OwnerOffers(ctx context.Context, receiveAddress string) ([]domain.Offer, error) {
	return c.listOffers(ctx, "owner_offers", "", receiveAddress, 100)
}

func (c *Client) listOffers(ctx context.Context, op, tokenID, buyerAddress string, limit int) ([]domain.Offer, error) {
	params := url.Values{}
	params.Set("status", "valid")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", "0")
	params.Set("sortBy", "priceDesc")
	if tokenID != "" {
		params.Set("token_id", tokenID)
	}
	if buyerAddress != "" {
		params.Set("wallet_address_buyer", strings.ToLower(buyerAddress))
	}

	var resp offersResponse
	if err := c.getJSON(ctx, op, "/offers", params, &resp); err != nil {
		return nil, err
	}
	offers := make([]domain.Offer, 0, len(resp.Offers))
	for i := range resp.Offers {
		offers = append(offers, resp.Offers[i].toDomain())
	}
	return offers, nil
}

// BestCollectionOffer returns the highest aggregate offer on a collection,
// or nil when none exists.
func (c *Client) BestCollectionOffer(ctx context.Context, collectionSymbol string) (*domain.CollectionOffer, error) {
	params := url.Values{}
	params.Set("collectionSymbol", collectionSymbol)
	params.Set("sortBy", "priceDesc")
	params.Set("limit", "1")

	var resp collectionOffersResponse
	if err := c.getJSON(ctx, "best_collection_offer", "/offers/collection", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Offers) == 0 {
		return nil, nil
	}
	return resp.Offers[0].toDomain(), nil
}

// PlaceItemOffer runs the create → sign → submit flow for a per-token offer.
// It returns placed=false with a nil error when the marketplace or signer
// produced nothing to submit; that silent no-op is an accepted outcome.
// Duplicate-offer conflicts are resolved by cancelling our existing offer on
// the token and retrying, bounded by maxPlaceAttempts.
func (c *Client) PlaceItemOffer(ctx context.Context, req PlaceRequest) (bool, error) {
	var lastErr error
	for attempt := 0; attempt < maxPlaceAttempts; attempt++ {
		placed, err := c.placeItemOnce(ctx, req)
		if err == nil {
			return placed, nil
		}
		if domain.KindOf(err) != domain.KindDuplicateOffer {
			return false, err
		}
		lastErr = err
		c.logger.Warn("duplicate offer conflict, cancelling existing",
			slog.String("token", req.TokenID),
			slog.Int("attempt", attempt+1),
		)
		ours, lookupErr := c.TokenOffers(ctx, req.TokenID, req.Wallet.ReceiveAddress)
		if lookupErr == nil && len(ours) > 0 {
			if cancelErr := c.CancelItemOffer(ctx, ours[0].ID, req.Wallet); cancelErr != nil {
				c.logger.Warn("cancel of duplicate offer failed",
					slog.String("token", req.TokenID),
					slog.String("error", cancelErr.Error()),
				)
			}
		}
	}
	return false, lastErr
}

func (c *Client) placeItemOnce(ctx context.Context, req PlaceRequest) (bool, error) {
	params := url.Values{}
	params.Set("tokenId", req.TokenID)
	params.Set("price", strconv.FormatInt(req.Price, 10))
	params.Set("expirationDate", strconv.FormatInt(req.ExpiresAt.UnixMilli(), 10))
	params.Set("buyerTokenReceiveAddress", req.Wallet.ReceiveAddress)
	params.Set("buyerPaymentAddress", req.Wallet.PaymentAddress)
	params.Set("buyerPaymentPublicKey", req.Wallet.PublicKey)
	params.Set("feerateTier", feeRateTier)

	var unsigned domain.UnsignedTemplate
	if err := c.getJSON(ctx, "create_offer", "/offers/create", params, &unsigned); err != nil {
		return false, err
	}
	signed, err := signTemplate(req.Wallet, &unsigned)
	if err != nil {
		return false, fmt.Errorf("marketplace: create_offer: sign: %w", err)
	}
	if signed == "" {
		return false, nil
	}

	body := map[string]any{
		"signedPSBTBase64":         signed,
		"feerateTier":              feeRateTier,
		"tokenId":                  req.TokenID,
		"price":                    req.Price,
		"expirationDate":           strconv.FormatInt(req.ExpiresAt.UnixMilli(), 10),
		"buyerPaymentAddress":      req.Wallet.PaymentAddress,
		"buyerPaymentPublicKey":    req.Wallet.PublicKey,
		"buyerReceiveAddress":      req.Wallet.ReceiveAddress,
	}
	var resp submitOfferResponse
	if err := c.postJSON(ctx, "submit_offer", "/offers/create", body, &resp); err != nil {
		return false, err
	}
	return true, nil
}

// CancelItemOffer fetches the cancel template for an offer, signs it, and
// submits the cancellation. An empty template or signature is a no-op.
func (c *Client) CancelItemOffer(ctx context.Context, offerID string, wallet domain.Wallet) error {
	params := url.Values{}
	params.Set("offerId", offerID)

	var unsigned domain.UnsignedTemplate
	if err := c.getJSON(ctx, "cancel_offer_format", "/offers/cancel", params, &unsigned); err != nil {
		return err
	}
	signed, err := signTemplate(wallet, &unsigned)
	if err != nil {
		return fmt.Errorf("marketplace: cancel_offer: sign: %w", err)
	}
	if signed == "" {
		return nil
	}

	body := map[string]any{
		"offerId":          offerID,
		"signedPSBTBase64": signed,
	}
	var resp struct {
		OK bool `json:"ok"`
	}
	return c.postJSON(ctx, "submit_cancel", "/offers/cancel", body, &resp)
}

// PlaceCollectionOffer places an aggregate offer on the collection and
// returns the backing offer IDs. The same silent no-op rule as item offers
// applies.
func (c *Client) PlaceCollectionOffer(ctx context.Context, req CollectionPlaceRequest) ([]string, error) {
	params := url.Values{}
	params.Set("collectionSymbol", req.CollectionSymbol)
	params.Set("price", strconv.FormatInt(req.Price, 10))
	params.Set("expirationDate", strconv.FormatInt(req.ExpiresAt.UnixMilli(), 10))
	params.Set("buyerTokenReceiveAddress", req.Wallet.ReceiveAddress)
	params.Set("buyerPaymentAddress", req.Wallet.PaymentAddress)
	params.Set("buyerPaymentPublicKey", req.Wallet.PublicKey)
	params.Set("feerateTier", feeRateTier)

	var unsigned domain.UnsignedTemplate
	if err := c.getJSON(ctx, "create_collection_offer", "/offers/collection/create", params, &unsigned); err != nil {
		return nil, err
	}
	signed, err := signTemplate(req.Wallet, &unsigned)
	if err != nil {
		return nil, fmt.Errorf("marketplace: create_collection_offer: sign: %w", err)
	}
	if signed == "" {
		return nil, nil
	}

	body := map[string]any{
		"signedPSBTBase64":      signed,
		"collectionSymbol":      req.CollectionSymbol,
		"price":                 req.Price,
		"expirationDate":        strconv.FormatInt(req.ExpiresAt.UnixMilli(), 10),
		"buyerPaymentAddress":   req.Wallet.PaymentAddress,
		"buyerPaymentPublicKey": req.Wallet.PublicKey,
		"buyerReceiveAddress":   req.Wallet.ReceiveAddress,
	}
	var resp submitCollectionOfferResponse
	if err := c.postJSON(ctx, "submit_collection_offer", "/offers/collection/create", body, &resp); err != nil {
		return nil, err
	}
	return resp.OfferIDs, nil
}

// CancelCollectionOffer cancels every offer ID backing an aggregate offer.
func (c *Client) CancelCollectionOffer(ctx context.Context, offerIDs []string, wallet domain.Wallet) error {
	for _, id := range offerIDs {
		if err := c.CancelItemOffer(ctx, id, wallet); err != nil {
			return err
		}
	}
	return nil
}

// CancelAllOffers cancels every open offer held by the wallet's receive
// address. Per-offer failures are logged and do not stop the sweep.
func (c *Client) CancelAllOffers(ctx context.Context, wallet domain.Wallet) error {
	offers, err := c.OwnerOffers(ctx, wallet.ReceiveAddress)
	if err != nil {
		return err
	}
	for i := range offers {
		if err := c.CancelItemOffer(ctx, offers[i].ID, wallet); err != nil {
			c.logger.Warn("cancel offer failed",
				slog.String("offer", offers[i].ID),
				slog.String("token", offers[i].TokenID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// ActivitySince returns collection activity strictly newer than cursor, in
// chronological order. The feed is paginated most-recent-first; the sweep is
// bounded to a few pages per call, which is plenty between reconciliations.
func (c *Client) ActivitySince(ctx context.Context, collectionSymbol string, cursor time.Time) ([]domain.MarketEvent, error) {
	var events []domain.MarketEvent

page:
	for page := 0; page < maxActivityPages; page++ {
		params := url.Values{}
		params.Set("collectionSymbol", collectionSymbol)
		params.Set("limit", strconv.Itoa(activityPageSize))
		params.Set("offset", strconv.Itoa(page*activityPageSize))

		var resp activitiesResponse
		if err := c.getJSON(ctx, "activities", "/activities", params, &resp); err != nil {
			return nil, err
		}
		if len(resp.Activities) == 0 {
			break
		}
		for i := range resp.Activities {
			ev := resp.Activities[i].toDomain()
			if !ev.CreatedAt.After(cursor) {
				break page
			}
			events = append(events, ev)
		}
		if len(resp.Activities) < activityPageSize {
			break
		}
	}

	// Newest-first from the API; flip to arrival order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// Balance returns the spendable balance of a payment address in base units.
func (c *Client) Balance(ctx context.Context, address string) (int64, error) {
	var balance int64
	err := c.sched.Do(ctx, "balance", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.balanceURL+"/q/addressbalance/"+address, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-NFT-API-Key", c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return &domain.APIError{Kind: domain.KindNetwork, Op: "balance", Message: err.Error()}
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 64))
		if err != nil {
			return &domain.APIError{Kind: domain.KindNetwork, Op: "balance", Message: err.Error()}
		}
		if resp.StatusCode != http.StatusOK {
			return classify("balance", resp.StatusCode, apiErrorBody{Error: string(raw)})
		}
		n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		if err != nil {
			return fmt.Errorf("marketplace: balance: parse %q: %w", string(raw), err)
		}
		balance = n
		return nil
	})
	return balance, err
}

// ---------------------------------------------------------------------------
// Transport helpers
// ---------------------------------------------------------------------------

func (c *Client) getJSON(ctx context.Context, op, path string, params url.Values, out any) error {
	return c.sched.Do(ctx, op, func(ctx context.Context) error {
		u := c.baseURL + path
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		return c.doOnce(req, op, out)
	})
}

func (c *Client) postJSON(ctx context.Context, op, path string, body, out any) error {
	return c.sched.Do(ctx, op, func(ctx context.Context) error {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marketplace: %s: marshal body: %w", op, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.doOnce(req, op, out)
	})
}

// doOnce performs a single attempt: transport failures map to KindNetwork,
// non-2xx responses go through classify, 2xx bodies decode into out.
func (c *Client) doOnce(req *http.Request, op string, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-NFT-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.APIError{Kind: domain.KindNetwork, Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &domain.APIError{Kind: domain.KindNetwork, Op: op, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope apiErrorBody
		_ = json.Unmarshal(raw, &envelope)
		if envelope.Error == "" {
			envelope.Error = strings.TrimSpace(string(raw))
		}
		return classify(op, resp.StatusCode, envelope)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("marketplace: %s: decode response: %w", op, err)
	}
	return nil
}

// signTemplate applies the wallet's signer to a template. Nothing to sign
// yields an empty signature with no error.
func signTemplate(wallet domain.Wallet, unsigned *domain.UnsignedTemplate) (string, error) {
	if unsigned.Empty() || wallet.Signer == nil {
		return "", nil
	}
	return wallet.Signer.Sign(unsigned)
}

// pageLimit rounds a bid count up to the marketplace's 20-token page
// granularity, capped at the 100-token page maximum.
func pageLimit(bidCount int) int {
	quotient := (bidCount + 19) / 20
	limit := quotient * 20
	if limit > 100 {
		limit = 100
	}
	if limit < 20 {
		limit = 20
	}
	return limit
}
