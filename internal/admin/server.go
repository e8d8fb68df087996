package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/digkill/MediaGenBot/internal/models"
	"github.com/digkill/MediaGenBot/internal/service"
	"github.com/digkill/MediaGenBot/pkg/logger/sl"
)

const (
	maxWebhookBody   = 1 << 20
	recentPayments   = 20
	signatureHeader  = "Content-HMAC"
	broadcastTimeout = 10 * time.Minute
)

type Users interface {
	Get(ctx context.Context, userID int64) (*models.User, error)
	Payments(ctx context.Context, userID int64, limit int) ([]models.PaymentRecord, error)
	Payment(ctx context.Context, paymentID string) (*models.PaymentRecord, error)
	ListUserIDs(ctx context.Context) ([]int64, error)
}

type Payments interface {
	RecordPayment(ctx context.Context, n service.Notification) (bool, error)
	HandleYooKassaWebhook(ctx context.Context, body []byte, signature string) (bool, error)
}

type Options struct {
	Addr     string
	Username string
	Password string
	Gatherer prometheus.Gatherer
}

type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	users    Users
	payments Payments
	bot      service.BotSender
	router   *chi.Mux
}

func NewServer(opts Options, log *slog.Logger, users Users, payments Payments, bot service.BotSender) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     opts.Addr,
		username: opts.Username,
		password: opts.Password,
		log:      log.With("component", "admin"),
		users:    users,
		payments: payments,
		bot:      bot,
		router:   r,
	}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Post("/webhook/yookassa", s.handleYooKassaWebhook)
	if opts.Password == "" {
		s.log.Warn("admin password not set, protected routes disabled")
		return s
	}
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Get("/payments/{id}", s.handleGetPayment)
		protected.Route("/users/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetUser)
			r.Post("/credit", s.handleCredit)
		})
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", sl.Err(err))
		}
	}()

	s.log.Info("admin server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

// handleYooKassaWebhook records payment status updates. Only a body signed
// with the webhook secret reaches the ledger.
func (s *Server) handleYooKassaWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	credited, err := s.payments.HandleYooKassaWebhook(r.Context(), body, r.Header.Get(signatureHeader))
	switch {
	case err == nil:
	case errors.Is(err, service.ErrUnverifiedPayment):
		s.log.Warn("rejected unsigned yookassa webhook", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	case errors.Is(err, service.ErrBadWebhook):
		s.log.Warn("malformed yookassa webhook", sl.Err(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	default:
		s.log.Error("yookassa webhook", sl.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"credited": credited})
}

type userResponse struct {
	ID              int64             `json:"id"`
	DisplayName     string            `json:"display_name"`
	Balance         string            `json:"balance"`
	FreeGenerations int               `json:"free_generations"`
	CreatedAt       time.Time         `json:"created_at"`
	Payments        []paymentResponse `json:"payments"`
}

type paymentResponse struct {
	PaymentID string    `json:"payment_id"`
	UserID    int64     `json:"user_id"`
	Amount    string    `json:"amount"`
	Status    string    `json:"status"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	user, err := s.users.Get(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if user == nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	records, err := s.users.Payments(r.Context(), id, recentPayments)
	if err != nil {
		s.internalError(w, err)
		return
	}

	resp := userResponse{
		ID:              user.ID,
		DisplayName:     user.DisplayName,
		Balance:         user.Balance.StringFixed(2),
		FreeGenerations: user.FreeGenerations,
		CreatedAt:       user.CreatedAt,
		Payments:        make([]paymentResponse, 0, len(records)),
	}
	for _, rec := range records {
		resp.Payments = append(resp.Payments, toPaymentResponse(rec))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleGetPayment resolves a payment_id from the logs, e.g. a charge whose
// job was never submitted.
func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	rec, err := s.users.Payment(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if rec == nil {
		http.Error(w, "payment not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, toPaymentResponse(*rec))
}

func toPaymentResponse(rec models.PaymentRecord) paymentResponse {
	return paymentResponse{
		PaymentID: rec.PaymentID,
		UserID:    rec.UserID,
		Amount:    rec.Amount.StringFixed(2),
		Status:    string(rec.Status),
		Source:    string(rec.Source),
		CreatedAt: rec.CreatedAt,
	}
}

type creditRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

// handleCredit is the support refund path. The reference makes repeated
// requests for the same refund a no-op.
func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.Reference = strings.TrimSpace(req.Reference)
	if req.Reference == "" || !req.Amount.IsPositive() {
		http.Error(w, "positive amount and reference required", http.StatusBadRequest)
		return
	}

	credited, err := s.payments.RecordPayment(r.Context(), service.Notification{
		ExternalID: "manual:" + req.Reference,
		UserID:     id,
		Amount:     req.Amount,
		Status:     models.PaymentSucceeded,
		Source:     models.SourceManual,
		Verified:   true,
	})
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.log.Info("manual credit", "user", id, "amount", req.Amount.StringFixed(2), "reference", req.Reference, "credited", credited)
	s.writeJSON(w, http.StatusOK, map[string]any{"credited": credited})
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), broadcastTimeout)
	defer cancel()
	ids, err := s.users.ListUserIDs(ctx)
	if err != nil {
		s.internalError(w, err)
		return
	}

	count := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.bot.Send(tgbotapi.NewMessage(id, req.Message)); err != nil {
			s.log.Warn("send broadcast", "user", id, sl.Err(err))
			continue
		}
		count++
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"sent":  count,
		"total": len(ids),
	})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="mediagen"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", sl.Err(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
