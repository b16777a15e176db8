package api

import (
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/tresolabs/treso/pkg/asset"
	"github.com/tresolabs/treso/pkg/crypto"
	"github.com/tresolabs/treso/pkg/rates"
	"github.com/tresolabs/treso/pkg/swap"
)

// Server exposes the REST API and WebSocket event feed.
type Server struct {
	factory  *swap.Factory
	registry *asset.Registry
	table    *rates.Table
	router   *mux.Router
	hub      *Hub

	// rateSetters may update conversion rates through the API.
	rateSetters map[common.Address]bool
}

func NewServer(factory *swap.Factory, registry *asset.Registry, table *rates.Table, rateSetters []common.Address) *Server {
	s := &Server{
		factory:     factory,
		registry:    registry,
		table:       table,
		router:      mux.NewRouter(),
		hub:         NewHub(),
		rateSetters: make(map[common.Address]bool),
	}
	for _, addr := range rateSetters {
		s.rateSetters[addr] = true
	}
	s.setupRoutes()
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/rates", s.handleGetRates).Methods("GET")
	api.HandleFunc("/rates", s.handleSetRate).Methods("PUT")

	api.HandleFunc("/estimate", s.handleEstimate).Methods("GET")

	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/{address}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{address}/validate", s.handleValidate).Methods("POST")
	api.HandleFunc("/orders/{address}/recover", s.handleRecover).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	tokens := s.registry.List()
	out := make([]TokenInfo, len(tokens))
	for i, t := range tokens {
		out[i] = TokenInfo{Address: t.Address.Hex(), Symbol: t.Symbol, Decimals: t.Decimals}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRates(w http.ResponseWriter, r *http.Request) {
	var out []RateInfo
	for _, p := range s.table.Pairs() {
		if rate, ok := s.table.Get(p[0], p[1]); ok {
			out = append(out, RateInfo{Base: p[0].Hex(), Quote: p[1].Hex(), Rate: rate.String()})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	var req SetRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rate, ok := new(big.Int).SetString(req.Rate, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "rate must be a decimal integer")
		return
	}
	base := common.HexToAddress(req.Base)
	quote := common.HexToAddress(req.Quote)

	caller, err := recoverCaller(SetRateMessage(base, quote, rate), req.Signature)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	if !s.rateSetters[caller] {
		writeError(w, http.StatusForbidden, "caller not allowed to set rates")
		return
	}

	if err := s.table.Set(base, quote, rate); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, RateInfo{Base: base.Hex(), Quote: quote.Hex(), Rate: rate.String()})
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var (
		out *big.Int
		err error
	)
	amountParam := r.URL.Query().Get("amount")
	if amountParam == "" {
		out, err = s.factory.EstimateTradeOutputFromCurrentBalance()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, EstimateResponse{BuyAmount: out.String()})
		return
	}

	amount, ok := new(big.Int).SetString(amountParam, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a decimal integer")
		return
	}
	out, err = s.factory.EstimateTradeOutput(amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, EstimateResponse{SellAmount: amount.String(), BuyAmount: out.String()})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	minBuy, ok := new(big.Int).SetString(req.MinBuyAmount, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "min_buy_amount must be a decimal integer")
		return
	}

	caller, err := recoverCaller(PlaceOrderMessage(minBuy), req.Signature)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	order, err := s.factory.PlaceOrder(caller, minBuy)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, swap.ErrUnauthorized) {
			status = http.StatusForbidden
		}
		writeError(w, status, err.Error())
		return
	}

	desc, err := order.Describe()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, orderInfo(order.Address(), desc))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := s.lookupOrder(w, r)
	if !ok {
		return
	}
	desc, err := order.Describe()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, orderInfo(order.Address(), desc))
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	order, ok := s.lookupOrder(w, r)
	if !ok {
		return
	}
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := order.ValidateFingerprint(common.HexToHash(req.Fingerprint)); err != nil {
		writeJSON(w, http.StatusOK, ValidateResponse{Accepted: false, Reason: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ValidateResponse{Accepted: true})
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	order, ok := s.lookupOrder(w, r)
	if !ok {
		return
	}
	// No caller check: recovery is permissionless once expired.
	if err := order.RecoverExpiredFunds(); err != nil {
		writeJSON(w, http.StatusOK, RecoverResponse{Recovered: false, Reason: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, RecoverResponse{Recovered: true})
}

func (s *Server) lookupOrder(w http.ResponseWriter, r *http.Request) (*swap.Order, bool) {
	addr := common.HexToAddress(mux.Vars(r)["address"])
	order, ok := s.factory.Order(addr)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown order")
		return nil, false
	}
	return order, true
}

// ==============================
// Signed request helpers
// ==============================

// Mutating requests carry a secp256k1 signature over a deterministic
// message; the recovered address is the acting caller. The factory (or
// the rate-setter list) decides whether that caller is allowed.

func PlaceOrderMessage(minBuy *big.Int) []byte {
	return []byte("treso/place-order/" + minBuy.String())
}

func SetRateMessage(base, quote common.Address, rate *big.Int) []byte {
	return []byte("treso/set-rate/" + base.Hex() + "/" + quote.Hex() + "/" + rate.String())
}

func recoverCaller(message []byte, sigHex string) (common.Address, error) {
	sig := common.FromHex(sigHex)
	hash := ethcrypto.Keccak256Hash(message)
	return crypto.RecoverAddress(hash.Bytes(), sig)
}

// ==============================
// JSON helpers
// ==============================

func orderInfo(addr common.Address, desc swap.Description) OrderInfo {
	return OrderInfo{
		Address:     addr.Hex(),
		Fingerprint: desc.Fingerprint.Hex(),
		SellToken:   desc.SellToken.Hex(),
		BuyToken:    desc.BuyToken.Hex(),
		SellAmount:  desc.SellAmount.String(),
		BuyAmount:   desc.BuyAmount.String(),
		Deadline:    desc.Deadline.Unix(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
