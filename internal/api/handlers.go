package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"walletflow/internal/middleware"
	"walletflow/internal/models"
	"walletflow/internal/routes"
	"walletflow/internal/session"
	"walletflow/internal/utils"
)

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if s.accounts == nil {
		s.writeError(w, r, models.NotFound("login", "local accounts"))
		return
	}
	var req models.LoginRequest
	if !s.decode(w, r, &req) {
		return
	}

	resp, err := s.accounts.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	if s.accounts == nil {
		s.writeError(w, r, models.NotFound("register", "local accounts"))
		return
	}
	var req models.RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}

	p, err := s.accounts.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, p)
}

type sessionResponse struct {
	Phase     string            `json:"phase"`
	Principal *models.Principal `json:"principal,omitempty"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	utils.WriteJSON(w, http.StatusOK, sessionResponse{Phase: st.Phase.String(), Principal: st.Principal})
}

func (s *Server) listCapabilities(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, s.composer.Reachable(session.FromContext(r.Context())))
}

// checkCapability reports the decision for one capability without enforcing it.
func (s *Server) checkCapability(w http.ResponseWriter, r *http.Request) {
	key := models.CapabilityKey(chi.URLParam(r, "key"))
	capability, ok := s.composer.Table().Lookup(key)
	if !ok {
		s.writeError(w, r, models.NotFound("check capability", "capability"))
		return
	}
	utils.WriteJSON(w, http.StatusOK, s.guard.Evaluate(session.FromContext(r.Context()), capability))
}

func (s *Server) createMoneyRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := s.transactor(w, r)
	if !ok {
		return
	}
	var req models.CreateMoneyRequestRequest
	if !s.decode(w, r, &req) {
		return
	}

	created, err := s.requests.Create(r.Context(), p.ID, req.ToUser, req.Amount, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) listMoneyRequests(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	list, err := s.requests.List(r.Context(), p.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) getMoneyRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, err := utils.PathID(r)
	if err != nil {
		s.writeError(w, r, models.Validation("get money request", "%v", err))
		return
	}
	req, err := s.requests.Get(r.Context(), id, p.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, req)
}

func (s *Server) approveMoneyRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := s.transactor(w, r)
	if !ok {
		return
	}
	s.decideMoneyRequest(w, r, p, s.requests.Approve)
}

func (s *Server) rejectMoneyRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	s.decideMoneyRequest(w, r, p, s.requests.Reject)
}

func (s *Server) cancelMoneyRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	s.decideMoneyRequest(w, r, p, s.requests.Cancel)
}

type decideFunc func(ctx context.Context, id, actor string) (*models.MoneyRequest, error)

func (s *Server) decideMoneyRequest(w http.ResponseWriter, r *http.Request, p models.Principal, decide decideFunc) {
	id, err := utils.PathID(r)
	if err != nil {
		s.writeError(w, r, models.Validation("decide money request", "%v", err))
		return
	}
	req, err := decide(r.Context(), id, p.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, req)
}

// initiatePayment is gated by add-money or withdraw depending on direction,
// so the guard runs here rather than as route middleware.
func (s *Server) initiatePayment(w http.ResponseWriter, r *http.Request) {
	var req models.InitiatePaymentRequest
	if !s.decode(w, r, &req) {
		return
	}

	var key models.CapabilityKey
	switch req.Direction {
	case models.DirectionDeposit:
		key = routes.AddMoney
	case models.DirectionWithdrawal:
		key = routes.Withdraw
	default:
		s.writeError(w, r, models.Validation("initiate payment", "unknown direction %q", req.Direction))
		return
	}
	capability, _ := s.composer.Table().Lookup(key)
	if d := s.guard.Evaluate(session.FromContext(r.Context()), capability); !d.Allowed() {
		middleware.WriteDecision(w, d)
		return
	}

	p, ok := s.transactor(w, r)
	if !ok {
		return
	}
	intent, checkout, err := s.payments.Initiate(r.Context(), p.ID, req.Amount, req.Direction)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, models.InitiatePaymentResponse{Intent: intent, CheckoutURL: checkout})
}

func (s *Server) getPayment(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, err := utils.PathID(r)
	if err != nil {
		s.writeError(w, r, models.Validation("get payment", "%v", err))
		return
	}
	intent, err := s.payments.Get(r.Context(), id, p.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, intent)
}

func (s *Server) verifyPayment(w http.ResponseWriter, r *http.Request) {
	p, ok := s.transactor(w, r)
	if !ok {
		return
	}
	id, err := utils.PathID(r)
	if err != nil {
		s.writeError(w, r, models.Validation("verify payment", "%v", err))
		return
	}
	var req models.VerifyPaymentRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.payments.Verify(r.Context(), id, p.ID, req.GatewayReference)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) cancelPayment(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	id, err := utils.PathID(r)
	if err != nil {
		s.writeError(w, r, models.Validation("cancel payment", "%v", err))
		return
	}
	intent, err := s.payments.Cancel(r.Context(), id, p.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, intent)
}
