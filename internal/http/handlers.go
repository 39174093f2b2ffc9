package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phihocnguyen/ridemate-server/internal/ingest"
	"github.com/phihocnguyen/ridemate-server/internal/ledger"
	"github.com/phihocnguyen/ridemate-server/internal/match"
	"github.com/phihocnguyen/ridemate-server/internal/models"
	"github.com/phihocnguyen/ridemate-server/internal/notify"
	"github.com/phihocnguyen/ridemate-server/internal/observability"
	"github.com/phihocnguyen/ridemate-server/internal/payments"
	"github.com/phihocnguyen/ridemate-server/internal/sanction"
	"github.com/phihocnguyen/ridemate-server/internal/storage"
)

// Server wires the core engines behind the HTTP API. It only decodes
// requests and maps errors; all invariants live in the engines.
type Server struct {
	Dispatcher *match.Dispatcher
	Ledger     *ledger.Ledger
	Vouchers   *ledger.VoucherService
	Spin       *ledger.DailySpin
	Sanctions  *sanction.Engine
	Kafka      *ingest.KafkaProducer
	WS         *notify.WSNotifier
	TopUp      *payments.TopUpService
	Directory  interface{ Upsert(models.Driver) }
	// Verifications holds pending OTP records; the cleanup sweeper
	// expires them.
	Verifications storage.VerificationStore

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(d *match.Dispatcher, l *ledger.Ledger, v *ledger.VoucherService, spin *ledger.DailySpin,
	s *sanction.Engine, kp *ingest.KafkaProducer, ws *notify.WSNotifier, topUp *payments.TopUpService,
	dir interface{ Upsert(models.Driver) }, verifications storage.VerificationStore, logger *slog.Logger) *Server {
	srv := &Server{
		Dispatcher: d, Ledger: l, Vouchers: v, Spin: spin, Sanctions: s,
		Kafka: kp, WS: ws, TopUp: topUp, Directory: dir, Verifications: verifications,
		logger: logger, mux: mux.NewRouter(),
	}
	srv.registerMiddleware()
	srv.routes()
	return srv
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/matches", s.handleCreateMatch).Methods("POST")
	api.HandleFunc("/matches/{id}", s.handleGetMatch).Methods("GET")
	api.HandleFunc("/matches/{id}/broadcast", s.handleBroadcast).Methods("POST")
	api.HandleFunc("/matches/{id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/matches/{id}/start", s.handleStart).Methods("POST")
	api.HandleFunc("/matches/{id}/complete", s.handleComplete).Methods("POST")
	api.HandleFunc("/matches/{id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/matches/{id}/session", s.handleGetSession).Methods("GET")

	api.HandleFunc("/users/{id}/balance", s.handleBalance).Methods("GET")
	api.HandleFunc("/topups/hold", s.handleTopUpHold).Methods("POST")
	api.HandleFunc("/topups/complete", s.handleTopUpComplete).Methods("POST")
	api.HandleFunc("/vouchers/{id}/redeem", s.handleRedeemVoucher).Methods("POST")
	api.HandleFunc("/dailyspin", s.handleDailySpin).Methods("POST")
	api.HandleFunc("/verifications", s.handleCreateVerification).Methods("POST")

	api.HandleFunc("/reports", s.handleCreateReport).Methods("POST")
	api.HandleFunc("/reports/{id}", s.handleGetReport).Methods("GET")
	api.HandleFunc("/users/{id}/reports", s.handleListReports).Methods("GET")
	api.HandleFunc("/admin/reports/{id}/process", s.handleProcessReport).Methods("POST")
	api.HandleFunc("/admin/reports/{id}/resolve", s.handleResolveReport).Methods("POST")
	api.HandleFunc("/admin/reports/{id}/reject", s.handleRejectReport).Methods("POST")

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var req match.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	m, err := s.Dispatcher.Create(req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	// first offer round goes out immediately; later rounds re-broadcast
	offers, _ := s.Dispatcher.Broadcast(m.ID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"match": m, "offers": offers})
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	m, err := s.Dispatcher.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	offers, err := s.Dispatcher.Broadcast(mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"offers": offers})
}

type actorRequest struct {
	DriverID string `json:"driver_id"`
	ActorID  string `json:"actor_id"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	m, err := s.Dispatcher.Accept(mux.Vars(r)["id"], req.DriverID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	m, err := s.Dispatcher.Start(mux.Vars(r)["id"], req.DriverID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	m, err := s.Dispatcher.Complete(mux.Vars(r)["id"], req.DriverID)
	if err != nil {
		// the trip may have completed with the fare unpaid
		if m != nil && errors.Is(err, models.ErrInsufficientBalance) {
			writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
				"match": m, "error": "fare settlement failed", "code": "INSUFFICIENT_BALANCE",
			})
			return
		}
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	m, err := s.Dispatcher.Cancel(mux.Vars(r)["id"], req.ActorID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Dispatcher.Sessions.GetByMatch(mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.Ledger.Balance(mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

func (s *Server) handleTopUpHold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount     int64  `json:"amount"`
		Currency   string `json:"currency"`
		CustomerID string `json:"customer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		writeError(w, errors.New("amount must be positive"), http.StatusBadRequest)
		return
	}
	id, err := s.TopUp.Stripe.Hold(r.Context(), req.Amount, req.Currency, req.CustomerID)
	if err != nil {
		s.logger.Error("payment hold failed", "error", err)
		writeError(w, errors.New("payment hold failed"), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"payment_intent_id": id})
}

func (s *Server) handleTopUpComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID          string `json:"user_id"`
		PaymentIntentID string `json:"payment_intent_id"`
		Coins           int    `json:"coins"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	balance, err := s.TopUp.Complete(r.Context(), req.UserID, req.PaymentIntentID, req.Coins)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

func (s *Server) handleRedeemVoucher(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	grant, err := s.Vouchers.Redeem(req.UserID, mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (s *Server) handleDailySpin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	result, err := s.Spin.Spin(req.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TTLSeconds int `json:"ttl_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if req.TTLSeconds <= 0 {
		req.TTLSeconds = 300
	}
	id := newID()
	s.Verifications.Put(id, time.Now().Add(time.Duration(req.TTLSeconds)*time.Second))
	writeJSON(w, http.StatusCreated, map[string]string{"verification_id": id})
}

type createReportRequest struct {
	ReporterID     string `json:"reporter_id"`
	ReportedUserID string `json:"reported_user_id"`
	MatchID        string `json:"match_id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Category       string `json:"category"`
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req createReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	rep, err := s.Sanctions.CreateReport(req.ReporterID, req.ReportedUserID, req.MatchID,
		req.Title, req.Description, models.ReportCategory(req.Category))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Sanctions.GetReport(mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.Sanctions.ReportsBy(mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reports": reports})
}

func (s *Server) handleProcessReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	rep, err := s.Sanctions.Process(mux.Vars(r)["id"], req.Notes)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleResolveReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action   string `json:"action"`
		Notes    string `json:"notes"`
		Resolver string `json:"resolver"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	rep, err := s.Sanctions.Resolve(mux.Vars(r)["id"], models.SanctionAction(req.Action), req.Notes, req.Resolver)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRejectReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason   string `json:"reason"`
		Resolver string `json:"resolver"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	rep, err := s.Sanctions.Reject(mux.Vars(r)["id"], req.Reason, req.Resolver)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if d.Status == "" {
		d.Status = models.DriverOnline
	}
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(r.Context(), d); err != nil {
			s.logger.Warn("location publish failed", "driver_id", d.ID, "error", err)
		}
	}
	s.Directory.Upsert(d)
	observability.DriversOnline.Inc()
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an error
		s.logger.Warn("ws upgrade failed", "user_id", id, "error", err)
		return
	}
	s.WS.Add(id, conn)
}

// writeDomainError maps the error taxonomy onto response codes. The
// accept-race loss gets its own code so driver clients can show "offer
// no longer available" instead of a generic failure.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrMatchAlreadyTaken):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(), "code": "MATCH_ALREADY_TAKEN",
		})
	case errors.Is(err, models.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(), "code": "INVALID_TRANSITION",
		})
	case errors.Is(err, models.ErrNotFound):
		writeError(w, err, http.StatusNotFound)
	case errors.Is(err, models.ErrUnauthorized):
		writeError(w, err, http.StatusForbidden)
	case errors.Is(err, models.ErrInsufficientBalance):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{
			"error": err.Error(), "code": "INSUFFICIENT_BALANCE",
		})
	case errors.Is(err, models.ErrValidation):
		writeError(w, err, http.StatusBadRequest)
	default:
		s.logger.Error("internal error", "error", err)
		writeError(w, errors.New("internal error"), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error, status int) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
