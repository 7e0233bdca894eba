package dmarket

import (
	"strconv"
	"time"

	"dmarket_go/internal/domain"

	"github.com/shopspring/decimal"
)

// money is the {"Currency": "USD", "Amount": 4.81} object of the
// marketplace-api endpoints. Amount is in dollars.
type money struct {
	Currency string          `json:"Currency"`
	Amount   decimal.Decimal `json:"Amount"`
}

func usd(c domain.Cents) money {
	return money{Currency: "USD", Amount: c.Dollars()}
}

// lastSalesResponse - GET /trade-aggregator/v1/last-sales
type lastSalesResponse struct {
	Sales []struct {
		Price decimal.Decimal `json:"price"` // dollars
		Date  string          `json:"date"`  // unix seconds
	} `json:"sales"`
}

// aggregatedPricesResponse - GET /price-aggregator/v1/aggregated-prices
type aggregatedPricesResponse struct {
	AggregatedTitles []struct {
		MarketHashName string    `json:"MarketHashName"`
		Offers         bookLevel `json:"Offers"`
		Orders         bookLevel `json:"Orders"`
	} `json:"AggregatedTitles"`
}

type bookLevel struct {
	BestPrice decimal.Decimal `json:"BestPrice"` // dollars
	Count     int             `json:"Count"`
}

// marketItemsResponse - GET /exchange/v1/market/items
type marketItemsResponse struct {
	Objects []struct {
		Title string `json:"title"`
	} `json:"objects"`
	Cursor string `json:"cursor"`
}

// balanceResponse - GET /account/v1/balance (amounts in cents)
type balanceResponse struct {
	USD string `json:"usd"`
}

type createTargetsRequest struct {
	GameID  string         `json:"GameID"`
	Targets []targetCreate `json:"Targets"`
}

type targetCreate struct {
	Amount int    `json:"Amount"`
	Price  money  `json:"Price"`
	Title  string `json:"Title"`
}

type createOffersRequest struct {
	Offers []offerCreate `json:"Offers"`
}

type offerCreate struct {
	AssetID string `json:"AssetID"`
	Price   money  `json:"Price"`
}

// batchResponse is the Result envelope of the create and delete endpoints.
type batchResponse struct {
	Result []struct {
		TargetID   string    `json:"TargetID"`
		OfferID    string    `json:"OfferID"`
		Successful bool      `json:"Successful"`
		Error      *apiError `json:"Error"`
	} `json:"Result"`
}

type apiError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

type deleteTargetsRequest struct {
	Targets []targetRef `json:"Targets"`
}

type targetRef struct {
	TargetID string `json:"TargetID"`
}

// deleteOffersRequest - DELETE /exchange/v1/offers
type deleteOffersRequest struct {
	Force   bool          `json:"force"`
	Objects []offerDelete `json:"objects"`
}

type offerDelete struct {
	ItemID  string     `json:"itemId"`
	OfferID string     `json:"offerId"`
	Price   centsPrice `json:"price"`
}

type centsPrice struct {
	Amount   string `json:"amount"` // cents
	Currency string `json:"currency"`
}

type deleteOffersResponse struct {
	Fail []struct {
		OfferID   string `json:"offerId"`
		ErrorCode string `json:"errorCode"`
	} `json:"fail"`
}

// closedTradesResponse - GET user-targets/closed and user-offers/closed
type closedTradesResponse struct {
	Trades []closedTrade `json:"Trades"`
	Cursor string        `json:"Cursor"`
}

type closedTrade struct {
	TargetID string `json:"TargetID"`
	OfferID  string `json:"OfferID"`
	AssetID  string `json:"AssetID"`
	Title    string `json:"Title"`
	GameID   string `json:"GameID"`
	Price    money  `json:"Price"`
	ClosedAt string `json:"ClosedAt"` // unix seconds
}

func parseUnix(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
