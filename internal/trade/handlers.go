package trade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/imanuelcio/be-moodswing-sub000/internal/domain"
	"github.com/imanuelcio/be-moodswing-sub000/internal/ledger"
	"github.com/imanuelcio/be-moodswing-sub000/internal/model"
	"github.com/imanuelcio/be-moodswing-sub000/internal/settle"
	"github.com/imanuelcio/be-moodswing-sub000/internal/store"
)

// marketResolver triggers settlement; satisfied by *settle.Engine.
type marketResolver interface {
	ResolveMarket(ctx context.Context, marketID, winningOutcomeID, source string) (*settle.Result, error)
}

// Handler exposes the engine over HTTP.
type Handler struct {
	executor  *Executor
	positions *ledger.Service
	resolver  marketResolver
	store     store.Store
	logger    *slog.Logger
}

func NewHandler(executor *Executor, positions *ledger.Service, resolver marketResolver, st store.Store, logger *slog.Logger) *Handler {
	return &Handler{
		executor:  executor,
		positions: positions,
		resolver:  resolver,
		store:     st,
		logger:    logger,
	}
}

// Routes mounts the API under the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/markets", func(r chi.Router) {
		r.Post("/", h.createMarket)
		r.Get("/", h.listMarkets)
		r.Route("/{marketID}", func(r chi.Router) {
			r.Get("/", h.getMarket)
			r.Get("/price", h.getPrice)
			r.Get("/quote", h.getQuote)
			r.Post("/status", h.setStatus)
			r.Post("/resolve", h.resolve)
		})
	})

	r.Route("/bets", func(r chi.Router) {
		r.Post("/", h.placeBet)
		r.Route("/{tradeID}", func(r chi.Router) {
			r.Get("/", h.getBet)
			r.Post("/confirm", h.confirmBet)
			r.Post("/cancel", h.cancelBet)
		})
	})

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/balance", h.getBalance)
		r.Get("/positions", h.listPositions)
		r.Get("/credits", h.listCredits)
		r.Post("/credits", h.grantCredits)
	})
}

// --- Markets ---

type createMarketRequest struct {
	Question    string          `json:"question"`
	ClosesAt    time.Time       `json:"closes_at"`
	InitialProb decimal.Decimal `json:"initial_prob"`
	Seed        decimal.Decimal `json:"seed"`
}

func (h *Handler) createMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.Validationf("invalid request body"))
		return
	}
	m, err := h.executor.CreateMarket(r.Context(), CreateMarketParams{
		Question:    req.Question,
		ClosesAt:    req.ClosesAt,
		InitialProb: req.InitialProb,
		Seed:        req.Seed,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.store.ListMarkets(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

func (h *Handler) getMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

func (h *Handler) getPrice(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	priceYes, priceNo, err := h.executor.Prices(r.Context(), marketID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"market_id": marketID,
		"price_yes": priceYes,
		"price_no":  priceNo,
	})
}

// getQuote previews a buy. Exactly one of amount= (spend to shares) and
// shares= (shares to cost) must be given.
func (h *Handler) getQuote(w http.ResponseWriter, r *http.Request) {
	rawAmount := r.URL.Query().Get("amount")
	rawShares := r.URL.Query().Get("shares")
	if (rawAmount == "") == (rawShares == "") {
		h.writeError(w, r, domain.Validationf("exactly one of amount and shares must be given"))
		return
	}

	marketID := chi.URLParam(r, "marketID")
	outcomeID := r.URL.Query().Get("outcome_id")

	var q *QuoteResult
	var qerr error
	if rawAmount != "" {
		amount, err := decimal.NewFromString(rawAmount)
		if err != nil {
			h.writeError(w, r, domain.Validationf("amount must be a decimal number"))
			return
		}
		q, qerr = h.executor.Quote(r.Context(), marketID, outcomeID, amount)
	} else {
		shares, err := decimal.NewFromString(rawShares)
		if err != nil {
			h.writeError(w, r, domain.Validationf("shares must be a decimal number"))
			return
		}
		q, qerr = h.executor.QuoteShares(r.Context(), marketID, outcomeID, shares)
	}
	if qerr != nil {
		h.writeError(w, r, qerr)
		return
	}
	h.writeJSON(w, http.StatusOK, q)
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.Validationf("invalid request body"))
		return
	}
	m, err := h.executor.SetMarketStatus(r.Context(), chi.URLParam(r, "marketID"), req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

type resolveRequest struct {
	WinningOutcomeID string `json:"winning_outcome_id"`
	Source           string `json:"source"`
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.Validationf("invalid request body"))
		return
	}
	res, err := h.resolver.ResolveMarket(r.Context(),
		chi.URLParam(r, "marketID"), req.WinningOutcomeID, req.Source)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// --- Bets ---

type placeBetRequest struct {
	UserID      string          `json:"user_id"`
	MarketID    string          `json:"market_id"`
	OutcomeID   string          `json:"outcome_id"`
	PointsStake decimal.Decimal `json:"points_stake"`
	TokenStake  decimal.Decimal `json:"token_stake"`
	Price       decimal.Decimal `json:"price"`
}

// placeBet records the bet and, for points stakes, fills it immediately.
// Token-stake bets stay pending until the external transfer is confirmed
// via the confirm endpoint.
func (h *Handler) placeBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.Validationf("invalid request body"))
		return
	}

	t, err := h.executor.PlaceBet(r.Context(), BetRequest{
		UserID:      req.UserID,
		MarketID:    req.MarketID,
		OutcomeID:   req.OutcomeID,
		PointsStake: req.PointsStake,
		TokenStake:  req.TokenStake,
		Price:       req.Price,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if req.PointsStake.IsPositive() {
		t, err = h.executor.Fill(r.Context(), t.ID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	h.writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) getBet(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.GetTrade(r.Context(), chi.URLParam(r, "tradeID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

func (h *Handler) confirmBet(w http.ResponseWriter, r *http.Request) {
	t, err := h.executor.Fill(r.Context(), chi.URLParam(r, "tradeID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

type cancelBetRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) cancelBet(w http.ResponseWriter, r *http.Request) {
	var req cancelBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.Validationf("invalid request body"))
		return
	}
	t, err := h.executor.Cancel(r.Context(), chi.URLParam(r, "tradeID"), req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// --- Users ---

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	balance, err := h.store.GetPointsBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"balance": balance,
	})
}

func (h *Handler) listPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.ListForUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

func (h *Handler) listCredits(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			h.writeError(w, r, domain.Validationf("limit must be between 1 and 500"))
			return
		}
		limit = n
	}
	entries, err := h.store.ListPointsEntries(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.PointsEntry{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type grantCreditsRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// grantCredits tops up a user's points balance. Intended for admin and
// onboarding flows; positive amounts only.
func (h *Handler) grantCredits(w http.ResponseWriter, r *http.Request) {
	var req grantCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.Validationf("invalid request body"))
		return
	}
	if !req.Amount.IsPositive() {
		h.writeError(w, r, domain.Validationf("amount must be positive"))
		return
	}
	entry, err := h.store.AppendPointsEntry(r.Context(), &model.PointsEntry{
		UserID: chi.URLParam(r, "userID"),
		Delta:  req.Amount,
		Reason: model.ReasonAdminCredit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, entry)
}

// --- helpers ---

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encode failed", "error", err)
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.CodeOf(err)
	status := statusFor(code)
	if status >= 500 {
		h.logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: code, Message: domain.MessageOf(err)})
}

func statusFor(code string) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeInsufficientBalance, domain.CodeIlliquidMarket:
		return http.StatusUnprocessableEntity
	case domain.CodeConflict, domain.CodeAlreadyResolved, domain.CodeInvalidState:
		return http.StatusConflict
	case domain.CodeTransientStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
