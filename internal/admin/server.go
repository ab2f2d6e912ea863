package admin

import (
	"context"
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

	"github.com/digkill/PhotoshootBot/internal/appconfig"
	"github.com/digkill/PhotoshootBot/internal/replicate"
	"github.com/digkill/PhotoshootBot/internal/service"
	"github.com/digkill/PhotoshootBot/internal/texts"
)

const maxBodySize = 1 << 20

type Completer interface {
	Complete(ctx context.Context, p replicate.Prediction) (service.Completion, error)
}

type PaymentRedirects interface {
	HandleRedirect(ctx context.Context, authority, status string) (*service.VerifyOutcome, error)
}

type Users interface {
	ListChatIDs(ctx context.Context) ([]int64, error)
	AdjustCredits(ctx context.Context, chatID int64, delta int) (int, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, chatIDs []int64, text string) int
}

type ConfigStore interface {
	Current() *appconfig.Snapshot
	Reload(ctx context.Context) error
	Upsert(ctx context.Context, typ string, fields map[string]any) error
}

type Deps struct {
	Generations Completer
	Payments    PaymentRedirects
	Users       Users
	Broadcaster Broadcaster
	Config      ConfigStore
}

type Server struct {
	addr          string
	username      string
	password      string
	webhookSecret string
	log           *slog.Logger
	generations   Completer
	payments      PaymentRedirects
	users         Users
	broadcaster   Broadcaster
	config        ConfigStore
	now           func() time.Time
	router        *chi.Mux
}

// NewServer builds the HTTP surface: public webhook and payment redirect routes
// and the basic-auth protected admin API. An empty webhookSecret disables
// signature checks on Replicate deliveries.
func NewServer(addr, username, password, webhookSecret string, log *slog.Logger, deps Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:          addr,
		username:      username,
		password:      password,
		webhookSecret: webhookSecret,
		log:           log,
		generations:   deps.Generations,
		payments:      deps.Payments,
		users:         deps.Users,
		broadcaster:   deps.Broadcaster,
		config:        deps.Config,
		now:           time.Now,
		router:        r,
	}
	r.Get("/health", s.handleHealth)
	r.Post("/webhook/replicate", s.handleReplicateWebhook)
	r.Get("/payment/callback", s.handlePaymentCallback)
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Route("/config", func(r chi.Router) {
			r.Get("/", s.handleGetConfig)
			r.Post("/reload", s.handleReloadConfig)
			r.Put("/{type}", s.handleUpsertConfig)
		})
		protected.Post("/users/{chatID}/credits", s.handleAdjustCredits)
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
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReplicateWebhook applies a prediction delivery. Unknown job ids are
// acknowledged with an error body so the sender does not retry them.
func (s *Server) handleReplicateWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	if s.webhookSecret != "" {
		err := replicate.VerifySignature(s.webhookSecret,
			r.Header.Get("webhook-id"), r.Header.Get("webhook-timestamp"), r.Header.Get("webhook-signature"),
			body, s.now())
		if err != nil {
			s.log.Warn("replicate webhook rejected", "err", err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	pred, err := replicate.ParsePrediction(body)
	if err != nil || pred.ID == "" {
		s.log.Warn("replicate webhook payload", "err", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	res, err := s.generations.Complete(r.Context(), pred)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			s.log.Warn("replicate webhook for unknown job", "job_id", pred.ID, "status", pred.Status)
			s.writeJSON(w, http.StatusOK, map[string]string{"error": texts.GenerationNotFound})
			return
		}
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(res)})
}

// handlePaymentCallback is where the gateway redirects the customer after paying.
func (s *Server) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	authority := strings.TrimSpace(r.URL.Query().Get("Authority"))
	status := strings.TrimSpace(r.URL.Query().Get("Status"))
	if authority == "" {
		http.Error(w, "authority required", http.StatusBadRequest)
		return
	}

	out, err := s.payments.HandleRedirect(r.Context(), authority, status)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			http.Error(w, texts.PaymentRecordNotFound, http.StatusNotFound)
			return
		}
		s.log.Error("payment callback", "authority", authority, "err", err)
		http.Error(w, texts.PaymentUnavailable, http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, redirectMessage(out)+"\nYou can return to the bot now.")
}

func redirectMessage(out *service.VerifyOutcome) string {
	switch out.Status {
	case service.VerifyCredited:
		return fmt.Sprintf("Payment verified. %d credits were added.", out.Payment.PackageCoins)
	case service.VerifyAlreadyVerified:
		return "This payment has already been verified."
	case service.VerifyNotConfirmed:
		return "The payment was not confirmed by the bank."
	default:
		return "Payment verification failed: " + out.Reason
	}
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

	ctx := r.Context()
	ids, err := s.users.ListChatIDs(ctx)
	if err != nil {
		s.internalError(w, err)
		return
	}
	sent := s.broadcaster.Broadcast(ctx, ids, req.Message)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sent":  sent,
		"total": len(ids),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.config.Current())
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.config.Reload(r.Context()); err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.config.Current())
}

var configTypes = map[string]bool{
	appconfig.TypeCreditPackages: true,
	appconfig.TypeShopMessages:   true,
	appconfig.TypeStyleTemplates: true,
	appconfig.TypeModelTemplates: true,
	appconfig.TypeServiceCosts:   true,
}

func (s *Server) handleUpsertConfig(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	if !configTypes[typ] {
		http.Error(w, "unknown config type", http.StatusNotFound)
		return
	}
	var fields map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&fields); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(fields) == 0 {
		http.Error(w, "document fields required", http.StatusBadRequest)
		return
	}
	if err := s.config.Upsert(r.Context(), typ, fields); err != nil {
		s.badRequest(w, err)
		return
	}
	s.log.Info("app config updated", "type", typ)
	s.writeJSON(w, http.StatusOK, s.config.Current())
}

type creditsRequest struct {
	Delta int `json:"delta"`
}

func (s *Server) handleAdjustCredits(w http.ResponseWriter, r *http.Request) {
	chatID, err := parseID(chi.URLParam(r, "chatID"))
	if err != nil {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}
	var req creditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Delta == 0 {
		http.Error(w, "delta required", http.StatusBadRequest)
		return
	}
	balance, err := s.users.AdjustCredits(r.Context(), chatID, req.Delta)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"chat_id": chatID, "credits": balance})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="photoshootbot"`)
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

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("http handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
