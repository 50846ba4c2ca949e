package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"model-market-go/internal/models"
	"model-market-go/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *LedgerService) handleListCurrencies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.CurrenciesResponse{Currencies: s.currencies.Symbols()})
}

// handleCreatePopup opens a balance popup for the caller. The unit price is quoted when the
// request does not carry one.
func (s *LedgerService) handleCreatePopup(w http.ResponseWriter, r *http.Request) {
	user := models.UserFromContext(r.Context())

	var req models.CreatePopupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	currency, ok := s.currencies.BySymbol(req.Currency)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported currency %q", req.Currency))
		return
	}

	var priceUsd decimal.Decimal
	switch {
	case req.PriceUsd != nil:
		priceUsd = *req.PriceUsd
	case s.quotes != nil && currency.CoingeckoId != "":
		quoted, err := s.quotes.PriceUsd(r.Context(), currency.CoingeckoId)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		priceUsd = quoted
	default:
		writeError(w, http.StatusBadRequest, "price_usd is required for "+currency.Symbol)
		return
	}

	amountExpected := decimal.Zero
	if req.AmountExpected != nil {
		amountExpected = *req.AmountExpected
	}

	popup, err := s.db.CreateBalancePopup(r.Context(), store.CreatePopupParams{
		UserId:           user.Id,
		Currency:         currency.Symbol,
		PriceUsd:         priceUsd,
		AmountExpected:   amountExpected,
		AddressToPay:     s.popup.AddressToPay,
		TimeToPayMinutes: s.popup.TimeToPayMinutes,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, popupRecord(popup))
}

// handleGetPopup returns a popup owned by the caller. Other users' popups are reported missing.
func (s *LedgerService) handleGetPopup(w http.ResponseWriter, r *http.Request) {
	user := models.UserFromContext(r.Context())

	popup, err := s.db.GetBalancePopup(r.Context(), chi.URLParam(r, "id"))
	if err == nil && popup.UserId != user.Id {
		zap.L().Warn("Popup requested by non-owner",
			zap.String("popup_id", popup.Id),
			zap.String("user_id", user.Id))
		err = store.ErrNotFound
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "balance popup not found")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, popupRecord(popup))
}

func popupRecord(p *models.BalancePopup) models.PopupRecord {
	return models.PopupRecord{
		Id:               p.Id,
		PriceUsd:         p.PriceUsd,
		AmountExpected:   p.AmountExpected,
		AddressToPay:     p.AddressToPay,
		CurrencyToPay:    p.CurrencyToPay,
		TimeToPayMinutes: p.TimeToPayMinutes,
		PayUntil:         p.PayUntil,
		Status:           p.Status,
		AmountPaid:       p.AmountPaid,
		CreatedAt:        p.CreatedAt,
		FinishedAt:       p.FinishedAt,
	}
}
