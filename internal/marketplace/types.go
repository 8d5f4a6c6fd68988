package marketplace

import (
	"strconv"
	"time"

	"github.com/alanyoungcy/ordbot/internal/domain"
)

// ---------------------------------------------------------------------------
// Wire types. The marketplace API returns numbers-as-strings in several
// places; mapping to domain types happens here and nowhere else.
// ---------------------------------------------------------------------------

type statResponse struct {
	Symbol      string `json:"symbol"`
	FloorPrice  string `json:"floorPrice"`
	Supply      string `json:"supply"`
	TotalListed string `json:"totalListed"`
}

func (r *statResponse) toDomain() *domain.FloorStats {
	return &domain.FloorStats{
		Symbol:      r.Symbol,
		FloorPrice:  parseInt64(r.FloorPrice),
		Supply:      parseInt64(r.Supply),
		TotalListed: parseInt64(r.TotalListed),
	}
}

type apiToken struct {
	ID               string `json:"id"`
	CollectionSymbol string `json:"collectionSymbol"`
	Listed           bool   `json:"listed"`
	ListedPrice      int64  `json:"listedPrice"`
	ListedAt         string `json:"listedAt"`
	Owner            string `json:"owner"`
}

func (t *apiToken) toDomain() domain.Token {
	return domain.Token{
		ID:               t.ID,
		CollectionSymbol: t.CollectionSymbol,
		Listed:           t.Listed,
		ListedPrice:      t.ListedPrice,
		ListedAt:         parseTime(t.ListedAt),
		Owner:            t.Owner,
	}
}

type tokensResponse struct {
	Tokens []apiToken `json:"tokens"`
}

type apiOffer struct {
	ID                  string `json:"id"`
	TokenID             string `json:"tokenId"`
	Price               int64  `json:"price"`
	BuyerPaymentAddress string `json:"buyerPaymentAddress"`
	BuyerReceiveAddress string `json:"buyerReceiveAddress"`
	ExpirationDate      int64  `json:"expirationDate"`
	IsValid             bool   `json:"isValid"`
	Token               struct {
		CollectionSymbol string `json:"collectionSymbol"`
	} `json:"token"`
}

func (o *apiOffer) toDomain() domain.Offer {
	return domain.Offer{
		ID:               o.ID,
		TokenID:          o.TokenID,
		Price:            o.Price,
		PaymentAddress:   o.BuyerPaymentAddress,
		ReceiveAddress:   o.BuyerReceiveAddress,
		ExpiresAt:        time.UnixMilli(o.ExpirationDate),
		IsValid:          o.IsValid,
		CollectionSymbol: o.Token.CollectionSymbol,
	}
}

type offersResponse struct {
	Total  string     `json:"total"`
	Offers []apiOffer `json:"offers"`
}

type apiCollectionOffer struct {
	IDs                 []string `json:"ids"`
	Price               int64    `json:"price"`
	BuyerPaymentAddress string   `json:"buyerPaymentAddress"`
	ExpirationDate      int64    `json:"expirationDate"`
}

func (o *apiCollectionOffer) toDomain() *domain.CollectionOffer {
	return &domain.CollectionOffer{
		IDs:            o.IDs,
		Price:          o.Price,
		PaymentAddress: o.BuyerPaymentAddress,
		ExpiresAt:      time.UnixMilli(o.ExpirationDate),
	}
}

type collectionOffersResponse struct {
	Offers []apiCollectionOffer `json:"offers"`
}

type apiActivity struct {
	Kind                string `json:"kind"`
	TokenID             string `json:"tokenId"`
	CollectionSymbol    string `json:"collectionSymbol"`
	ListedPrice         int64  `json:"listedPrice"`
	BuyerPaymentAddress string `json:"buyerPaymentAddress"`
	NewOwner            string `json:"newOwner"`
	CreatedAt           string `json:"createdAt"`
}

func (a *apiActivity) toDomain() domain.MarketEvent {
	return domain.MarketEvent{
		Kind:             domain.EventKind(a.Kind),
		TokenID:          a.TokenID,
		CollectionSymbol: a.CollectionSymbol,
		Counterparty:     a.BuyerPaymentAddress,
		Receiver:         a.NewOwner,
		Price:            a.ListedPrice,
		CreatedAt:        parseTime(a.CreatedAt),
	}
}

type activitiesResponse struct {
	Activities []apiActivity `json:"activities"`
}

// submitOfferResponse is returned when a signed offer is submitted.
type submitOfferResponse struct {
	Offer apiOffer `json:"offer"`
}

type submitCollectionOfferResponse struct {
	OfferIDs []string `json:"offerIds"`
}

// apiErrorBody is the error envelope on non-2xx responses. Classification
// keys off the machine-readable code, not the human message.
type apiErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// classify maps an HTTP status and error envelope to a structured kind.
func classify(op string, status int, body apiErrorBody) *domain.APIError {
	kind := domain.KindUnknown
	switch body.Code {
	case "DUPLICATE_OFFER":
		kind = domain.KindDuplicateOffer
	case "INSUFFICIENT_FUNDS":
		kind = domain.KindInsufficientFunds
	case "OFFER_NOT_FOUND":
		kind = domain.KindOfferNotFound
	case "MAX_OFFERS_EXCEEDED":
		kind = domain.KindOfferCapExceeded
	}
	if kind == domain.KindUnknown {
		switch {
		case status == 429:
			kind = domain.KindRateLimited
		case status >= 500:
			kind = domain.KindServerError
		}
	}
	return &domain.APIError{
		Kind:       kind,
		StatusCode: status,
		Op:         op,
		Message:    body.Error,
	}
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
