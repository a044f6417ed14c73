package entitlements

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stillmind/companionkit/core"
	"github.com/stillmind/companionkit/pkg/crisis"
	"github.com/stillmind/companionkit/pkg/entitlement"
	"github.com/stillmind/companionkit/pkg/logger"
	"github.com/stillmind/companionkit/svc/subscription"
)

// Service exposes the subscription manager to the app shell over HTTP.
// Decision payloads mirror what the in-process API returns, so shells that
// talk to the manager through a local socket see the same shapes as embedded
// callers.
type Service struct {
	mgr *subscription.Manager
	log *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService returns a Service backed by mgr. Panics if mgr is nil.
func NewService(mgr *subscription.Manager, opts ...Option) *Service {
	if mgr == nil {
		panic("entitlements: subscription manager is required")
	}
	s := &Service{mgr: mgr, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle returns the service's route tree.
func (s *Service) Handle() http.Handler {
	r := chi.NewRouter()

	r.Get("/state", s.state)
	r.Get("/features/{featureID}", s.featureAccess)
	r.Post("/trial", s.startTrial)
	r.Post("/trial/conversion", s.convertTrial)
	r.Post("/sync", s.sync)
	r.Post("/crisis", s.enableCrisis)
	r.Delete("/crisis", s.disableCrisis)
	r.Delete("/account", s.reset)

	return r
}

// stateView is the subscription state as the shell renders it, with the
// trial-elevated tier and the crisis flag resolved server-side.
type stateView struct {
	entitlement.State
	EffectiveTier entitlement.Tier `json:"effective_tier"`
	CrisisActive  bool             `json:"crisis_active"`
}

func (s *Service) state(w http.ResponseWriter, r *http.Request) {
	st := s.mgr.CurrentState()
	s.render(w, r, core.JSON("subscription_state", stateView{
		State:         st,
		EffectiveTier: st.EffectiveTierAt(time.Now()),
		CrisisActive:  s.mgr.CrisisActive(),
	}, nil))
}

// featureAccess decides access for one feature. The critical query flag
// selects the crisis-safe check for call sites that know the feature is
// therapeutic-critical. A denial is still a 200: the decision is the
// resource, not an error.
func (s *Service) featureAccess(w http.ResponseWriter, r *http.Request) {
	featureID := chi.URLParam(r, "featureID")

	var d entitlement.Decision
	if r.URL.Query().Get("critical") == "true" {
		d = s.mgr.CheckCriticalAccess(featureID)
	} else {
		d = s.mgr.CheckFeatureAccess(featureID)
	}

	s.render(w, r, core.JSON("feature_access", d, nil))
}

type accountRequest struct {
	UserID string `json:"user_id"`
}

func (req accountRequest) parse() (uuid.UUID, error) {
	id, err := uuid.Parse(req.UserID)
	if err != nil {
		valErr := core.NewValidationError()
		valErr.Add("user_id", "must be a valid uuid")
		return uuid.Nil, valErr
	}
	return id, nil
}

func (s *Service) startTrial(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		s.render(w, r, core.JSONError(err))
		return
	}
	userID, err := req.parse()
	if err != nil {
		s.render(w, r, core.JSONError(err))
		return
	}

	if err := s.mgr.StartTrial(r.Context(), userID); err != nil {
		s.render(w, r, core.JSONError(domainError(err)))
		return
	}
	s.render(w, r, core.JSONWithStatus(http.StatusCreated, "trial_started", s.mgr.CurrentState().Trial, nil))
}

type conversionRequest struct {
	PlanID string `json:"plan_id"`
}

func (s *Service) convertTrial(w http.ResponseWriter, r *http.Request) {
	var req conversionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.render(w, r, core.JSONError(err))
		return
	}

	if err := s.mgr.ConvertTrialToPaid(r.Context(), req.PlanID); err != nil {
		s.render(w, r, core.JSONError(domainError(err)))
		return
	}
	s.render(w, r, core.JSON("trial_converted", s.mgr.CurrentState(), nil))
}

func (s *Service) sync(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		s.render(w, r, core.JSONError(err))
		return
	}
	userID, err := req.parse()
	if err != nil {
		s.render(w, r, core.JSONError(err))
		return
	}

	if err := s.mgr.SyncSubscriptionState(r.Context(), userID); err != nil {
		s.render(w, r, core.JSONError(domainError(err)))
		return
	}
	s.render(w, r, core.JSON("subscription_synced", s.mgr.CurrentState(), nil))
}

type crisisRequest struct {
	Reason string `json:"reason"`
}

// enableCrisis turns the crisis override on. When the durable write fails
// the override is still active for this session, so the response reports
// success with persisted=false rather than an error.
func (s *Service) enableCrisis(w http.ResponseWriter, r *http.Request) {
	var req crisisRequest
	if err := decodeJSON(r, &req); err != nil {
		s.render(w, r, core.JSONError(err))
		return
	}

	persisted := true
	if err := s.mgr.EnableCrisisMode(r.Context(), req.Reason); err != nil {
		if !errors.Is(err, crisis.ErrPersistence) {
			s.render(w, r, core.JSONError(err))
			return
		}
		persisted = false
		s.log.WarnContext(r.Context(), "crisis mode active in memory only",
			logger.Error(err))
	}

	s.render(w, r, core.JSON("crisis_enabled", map[string]bool{
		"active": s.mgr.CrisisActive(),
	}, map[string]any{"persisted": persisted}))
}

func (s *Service) disableCrisis(w http.ResponseWriter, r *http.Request) {
	persisted := true
	if err := s.mgr.DisableCrisisMode(r.Context()); err != nil {
		if !errors.Is(err, crisis.ErrPersistence) {
			s.render(w, r, core.JSONError(err))
			return
		}
		persisted = false
	}

	s.render(w, r, core.JSON("crisis_disabled", map[string]bool{
		"active": s.mgr.CrisisActive(),
	}, map[string]any{"persisted": persisted}))
}

func (s *Service) reset(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		s.render(w, r, core.JSONError(err))
		return
	}
	userID, err := req.parse()
	if err != nil {
		s.render(w, r, core.JSONError(err))
		return
	}

	if err := s.mgr.Reset(r.Context(), userID); err != nil {
		s.render(w, r, core.JSONError(err))
		return
	}
	s.render(w, r, core.JSON("account_reset", nil, nil))
}

func (s *Service) render(w http.ResponseWriter, r *http.Request, resp core.Response) {
	if err := resp.Render(w, r); err != nil {
		s.log.ErrorContext(r.Context(), "response render failed",
			logger.Error(err))
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(core.ErrBadRequest, err)
	}
	return nil
}

// domainError maps manager sentinels onto HTTP error shapes.
func domainError(err error) error {
	switch {
	case errors.Is(err, subscription.ErrTrialAlreadyUsed):
		return core.NewHTTPError(http.StatusConflict, "trial_already_used")
	case errors.Is(err, subscription.ErrInvalidTransition):
		return core.NewHTTPError(http.StatusConflict, "no_active_trial")
	case errors.Is(err, subscription.ErrInvalidPlan):
		return core.NewHTTPError(http.StatusUnprocessableEntity, "invalid_plan")
	case errors.Is(err, subscription.ErrTrialUnavailable):
		return core.ErrServiceUnavailable
	case errors.Is(err, subscription.ErrSyncFailed):
		return core.ErrBadGateway
	default:
		return err
	}
}
