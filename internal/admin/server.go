package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/emperorhan/wallet-inventory/internal/aggregation"
	"github.com/emperorhan/wallet-inventory/internal/domain/model"
	"github.com/emperorhan/wallet-inventory/internal/wallets"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// WalletService is the part of the multi-wallet service the admin API drives.
type WalletService interface {
	Wallets() []string
	SetWallets(ctx context.Context, wallets []string) error
	Refresh(wallet string, policy model.RefreshPolicy) error
	ViewModels(wallet string) ([]aggregation.TokenViewModel, bool)
	Health() []wallets.HealthSnapshot
}

// Server provides an HTTP-based admin API for operational management.
type Server struct {
	service WalletService
	logger  *slog.Logger
}

func NewServer(service WalletService, logger *slog.Logger) *Server {
	return &Server{
		service: service,
		logger:  logger.With("component", "admin"),
	}
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v1/wallets", s.handleListWallets)
	mux.HandleFunc("PUT /admin/v1/wallets", s.handleSetWallets)
	mux.HandleFunc("POST /admin/v1/wallets/{wallet}/refresh", s.handleRefresh)
	mux.HandleFunc("GET /admin/v1/wallets/{wallet}/tokens", s.handleTokens)
	mux.HandleFunc("GET /admin/v1/health", s.handleHealth)
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSONBody reads and decodes a JSON request body into v. An empty
// body leaves v untouched when allowEmpty is set.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return true
	}
	if err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleListWallets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"wallets": s.service.Wallets()})
}

type setWalletsRequest struct {
	Wallets []string `json:"wallets"`
}

func (s *Server) handleSetWallets(w http.ResponseWriter, r *http.Request) {
	var req setWalletsRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	for _, wallet := range req.Wallets {
		if !validAddress(wallet) {
			http.Error(w, `{"error":"invalid wallet address"}`, http.StatusBadRequest)
			return
		}
	}

	if err := s.service.SetWallets(r.Context(), req.Wallets); err != nil {
		s.logger.Error("set wallets failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	s.logger.Info("active wallets replaced via admin API", "count", len(req.Wallets))
	writeJSON(w, http.StatusOK, map[string][]string{"wallets": s.service.Wallets()})
}

type tokenRef struct {
	ChainID  int64  `json:"chain_id"`
	Contract string `json:"contract"`
}

type refreshRequest struct {
	Policy string     `json:"policy"`
	Tokens []tokenRef `json:"tokens"`
}

func (req refreshRequest) toPolicy() (model.RefreshPolicy, bool) {
	ids := make([]model.TokenIdentity, 0, len(req.Tokens))
	for _, t := range req.Tokens {
		if t.ChainID <= 0 || !validAddress(t.Contract) {
			return model.RefreshPolicy{}, false
		}
		ids = append(ids, model.NewTokenIdentity(t.Contract, t.ChainID))
	}

	switch req.Policy {
	case "", "all":
		return model.RefreshAll(), true
	case "nativeOnly":
		return model.RefreshNativeOnly(), true
	case "tokens":
		if len(ids) == 0 {
			return model.RefreshPolicy{}, false
		}
		return model.RefreshTokens(ids...), true
	case "singleToken":
		if len(ids) != 1 {
			return model.RefreshPolicy{}, false
		}
		return model.RefreshSingleToken(ids[0]), true
	}
	return model.RefreshPolicy{}, false
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("wallet")

	var req refreshRequest
	if !decodeJSONBody(w, r, &req, true) {
		return
	}
	policy, ok := req.toPolicy()
	if !ok {
		http.Error(w, `{"error":"invalid refresh policy"}`, http.StatusBadRequest)
		return
	}

	err := s.service.Refresh(wallet, policy)
	switch {
	case errors.Is(err, wallets.ErrUnknownWallet):
		http.Error(w, `{"error":"wallet not active"}`, http.StatusNotFound)
		return
	case errors.Is(err, wallets.ErrQueueFull):
		w.Header().Set("Retry-After", "5")
		http.Error(w, `{"error":"refresh queue full"}`, http.StatusTooManyRequests)
		return
	case err != nil:
		s.logger.Error("refresh request failed", "wallet", wallet, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"wallet": model.NormalizeAddress(wallet), "policy": policy.String()})
}

type tokenResponse struct {
	ChainID      int64             `json:"chain_id"`
	Contract     string            `json:"contract"`
	Type         string            `json:"type"`
	Symbol       string            `json:"symbol,omitempty"`
	DisplayName  string            `json:"display_name,omitempty"`
	DisplayValue string            `json:"display_value,omitempty"`
	Amount       string            `json:"amount,omitempty"`
	Value        string            `json:"value,omitempty"`
	FiatValue    string            `json:"fiat_value,omitempty"`
	Currency     string            `json:"currency,omitempty"`
	Count        int               `json:"count,omitempty"`
	TokenIDs     []string          `json:"token_ids,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func toTokenResponse(vm aggregation.TokenViewModel) tokenResponse {
	resp := tokenResponse{
		ChainID:      vm.Identity.ChainID,
		Contract:     vm.Identity.Contract,
		Type:         vm.Type.String(),
		Symbol:       vm.Symbol,
		DisplayName:  vm.DisplayName,
		DisplayValue: vm.DisplayValue,
		Attributes:   vm.Attributes,
		UpdatedAt:    vm.UpdatedAt,
	}
	switch vm.Presentation {
	case aggregation.PresentationScalar:
		if vm.Amount != nil {
			resp.Amount = vm.Amount.String()
		}
		resp.Value = vm.Value.String()
		if vm.Priced {
			resp.FiatValue = vm.FiatValue.StringFixed(2)
			resp.Currency = vm.Currency
		}
	case aggregation.PresentationCollection:
		resp.Count = vm.Count
		for _, a := range vm.Assets {
			resp.TokenIDs = append(resp.TokenIDs, a.TokenID)
		}
	}
	return resp
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	vms, ok := s.service.ViewModels(r.PathValue("wallet"))
	if !ok {
		http.Error(w, `{"error":"wallet not active"}`, http.StatusNotFound)
		return
	}
	resp := make([]tokenResponse, len(vms))
	for i, vm := range vms {
		resp[i] = toTokenResponse(vm)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Health())
}

// validAddress accepts hex addresses with or without the 0x prefix.
func validAddress(addr string) bool {
	return common.IsHexAddress(strings.TrimSpace(addr))
}
