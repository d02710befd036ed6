package api

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"fintrack/cmd/internal/auth/login"
	"fintrack/cmd/internal/auth/otp"
)

// Handler binds the login service to HTTP. It only maps transport concerns
// (bodies, headers, cookies, throttles); every decision is the service's.
type Handler struct {
	log *slog.Logger
	cfg Config

	svc      *login.Service
	sink     AuditSink
	throttle *throttle
	now      func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithAuditSink persists audit events in addition to logging them.
func WithAuditSink(s AuditSink) HandlerOption {
	return func(h *Handler) {
		if s != nil {
			h.sink = s
		}
	}
}

// WithClock overrides time.Now for throttles, audit and cookies.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler around svc.
func NewHandler(svc *login.Service, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("api: nil login service")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	h := &Handler{
		log: slog.Default(),
		cfg: cfg,
		svc: svc,
		now: time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	h.throttle = newThrottle(cfg)
	return h, nil
}

// Register wires auth and profile routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/verify-otp", h.handleVerifyOTP)
	mux.HandleFunc("POST /auth/resend-otp", h.handleResendOTP)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("POST /auth/forgot-password", h.handleForgotPassword)
	mux.HandleFunc("POST /auth/reset-password", h.handleResetPassword)
	mux.HandleFunc("GET /auth/me", h.handleMe)

	mux.HandleFunc("GET /profile/devices", h.handleListDevices)
	mux.HandleFunc("DELETE /profile/devices/{deviceID}", h.handleRevokeDevice)
	mux.HandleFunc("POST /profile/change-password", h.handleChangePassword)
	mux.HandleFunc("POST /profile/identifier/request", h.handleIdentifierRequest)
	mux.HandleFunc("POST /profile/identifier/confirm", h.handleIdentifierConfirm)
	mux.HandleFunc("DELETE /profile", h.handleDeleteAccount)
}

// ---- auth ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if h.throttled(w, r, classOTPSend) {
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeBadBody(w)
		return
	}

	ctx := r.Context()
	p, err := h.svc.Register(ctx, login.RegisterInput{
		Name:       req.Name,
		Identifier: req.Identifier,
		Password:   req.Password,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.audit(ctx, h.event(r, "auth.register", "", map[string]any{"channel": string(p.Channel)}))
	writeJSON(w, http.StatusCreated, toPendingResponse(p))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.throttled(w, r, classLogin) {
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeBadBody(w)
		return
	}

	ctx := r.Context()
	res, err := h.svc.Login(ctx, login.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		DeviceID:   h.deviceID(r),
	})
	if err != nil {
		h.audit(ctx, h.event(r, "auth.login.failed", "", map[string]any{"reason": string(login.KindOf(err))}))
		writeServiceError(w, err)
		return
	}

	if res.Pending != nil {
		h.audit(ctx, h.event(r, "auth.login.otp_required", "", map[string]any{"channel": string(res.Pending.Channel)}))
		writeJSON(w, http.StatusOK, toPendingResponse(*res.Pending))
		return
	}

	h.audit(ctx, h.event(r, "auth.login.success", res.User.ID, map[string]any{"trusted_device": true}))
	sess := toSessionResponse(*res.Session)
	if h.shouldUseWebCookieTransport(req.Platform) {
		if _, err := h.setWebSessionCookies(w, res.Session.RefreshToken, res.Session.RefreshExp); err != nil {
			h.log.ErrorContext(ctx, "auth.login.web_cookie.fail", "err", err)
			writeServiceError(w, nil)
			return
		}
		sess.RefreshToken = ""
	}
	writeJSON(w, http.StatusOK, authenticatedResponse{
		Status:  statusAuthenticated,
		User:    toUserResponse(*res.User),
		Session: sess,
	})
}

func (h *Handler) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	if h.throttled(w, r, classOTPVerify) {
		return
	}
	var req verifyOTPRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeBadBody(w)
		return
	}

	ctx := r.Context()
	res, err := h.svc.VerifyOTP(ctx, login.VerifyInput{
		Identifier:  req.Identifier,
		Purpose:     otp.Purpose(strings.TrimSpace(req.Purpose)),
		Code:        req.Code,
		TrustDevice: req.TrustDevice,
		DeviceID:    h.deviceID(r),
		DeviceLabel: req.DeviceLabel,
	})
	if err != nil {
		h.audit(ctx, h.event(r, "auth.otp.verify_failed", "", map[string]any{"reason": string(login.KindOf(err))}))
		writeServiceError(w, err)
		return
	}

	h.audit(ctx, h.event(r, "auth.login.success", res.User.ID, map[string]any{"purpose": req.Purpose}))

	out := authenticatedResponse{
		Status:  statusAuthenticated,
		User:    toUserResponse(res.User),
		Session: toSessionResponse(res.Session),
	}
	web := h.shouldUseWebCookieTransport(req.Platform)
	if res.TrustedDevice != nil {
		d := toDeviceResponse(*res.TrustedDevice)
		out.TrustedDevice = &d
		h.audit(ctx, h.event(r, "auth.device.trusted", res.User.ID, nil))
		if web {
			h.setDeviceCookie(w, res.TrustedDevice.DeviceID, h.now())
		}
	}
	if web {
		if _, err := h.setWebSessionCookies(w, res.Session.RefreshToken, res.Session.RefreshExp); err != nil {
			h.log.ErrorContext(ctx, "auth.verify.web_cookie.fail", "err", err)
			writeServiceError(w, nil)
			return
		}
		out.Session.RefreshToken = ""
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	if h.throttled(w, r, classOTPSend) {
		return
	}
	var req resendOTPRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeBadBody(w)
		return
	}

	p, err := h.svc.ResendOTP(r.Context(), login.ResendInput{
		Identifier: req.Identifier,
		Purpose:    otp.Purpose(strings.TrimSpace(req.Purpose)),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPendingResponse(p))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeBadBody(w)
			return
		}
	}
	token, fromCookie := h.presentedRefreshToken(r, req.RefreshToken)
	if token == "" {
		writeError(w, http.StatusBadRequest, string(login.KindValidation), "refresh_token is required")
		return
	}
	if fromCookie && !h.csrfDoubleSubmitValid(r) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return
	}

	ctx := r.Context()
	issued, err := h.svc.RefreshSession(ctx, token)
	if err != nil {
		h.audit(ctx, h.event(r, "auth.refresh.rejected", "", map[string]any{"reason": string(login.KindOf(err))}))
		if fromCookie {
			h.clearWebSessionCookies(w)
		}
		writeServiceError(w, err)
		return
	}

	h.audit(ctx, h.event(r, "auth.refresh.success", issued.UserID, nil))
	sess := toSessionResponse(issued)
	if fromCookie || h.shouldUseWebCookieTransport(req.Platform) {
		if _, err := h.setWebSessionCookies(w, issued.RefreshToken, issued.RefreshExp); err != nil {
			h.log.ErrorContext(ctx, "auth.refresh.web_cookie.fail", "err", err)
			writeServiceError(w, nil)
			return
		}
		sess.RefreshToken = ""
	}
	writeJSON(w, http.StatusOK, refreshResponse{Session: sess})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeBadBody(w)
			return
		}
	}
	token, fromCookie := h.presentedRefreshToken(r, req.RefreshToken)
	if fromCookie && !h.csrfDoubleSubmitValid(r) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return
	}

	ctx := r.Context()
	if err := h.svc.Logout(ctx, token); err != nil {
		writeServiceError(w, err)
		return
	}
	h.audit(ctx, h.event(r, "auth.logout", "", nil))
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if h.throttled(w, r, classOTPSend) {
		return
	}
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeBadBody(w)
		return
	}

	ctx := r.Context()
	p, err := h.svc.ForgotPassword(ctx, req.Identifier)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.audit(ctx, h.event(r, "auth.password.forgot", "", nil))
	writeJSON(w, http.StatusOK, toPendingResponse(p))
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if h.throttled(w, r, classOTPVerify) {
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeBadBody(w)
		return
	}

	ctx := r.Context()
	err := h.svc.ResetPassword(ctx, login.ResetPasswordInput{
		Identifier:  req.Identifier,
		Code:        req.Code,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		h.audit(ctx, h.event(r, "auth.password.reset_failed", "", map[string]any{"reason": string(login.KindOf(err))}))
		writeServiceError(w, err)
		return
	}
	h.audit(ctx, h.event(r, "auth.password.reset", "", nil))
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	u, err := h.svc.Me(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

// ---- profile ----

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	ds, err := h.svc.ListTrustedDevices(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := devicesResponse{Devices: make([]deviceResponse, 0, len(ds))}
	for _, d := range ds {
		out.Devices = append(out.Devices, toDeviceResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.svc.RevokeTrustedDevice(ctx, userID, r.PathValue("deviceID")); err != nil {
		writeServiceError(w, err)
		return
	}
	h.audit(ctx, h.event(r, "auth.device.revoked", userID, nil))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	if h.throttled(w, r, classLogin) {
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeBadBody(w)
		return
	}

	ctx := r.Context()
	if err := h.svc.ChangePassword(ctx, userID, req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, err)
		return
	}
	h.audit(ctx, h.event(r, "auth.password.changed", userID, nil))
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleIdentifierRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	if h.throttled(w, r, classOTPSend) {
		return
	}
	var req identifierChangeRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeBadBody(w)
		return
	}

	p, err := h.svc.RequestIdentifierChange(r.Context(), userID, req.Identifier)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPendingResponse(p))
}

func (h *Handler) handleIdentifierConfirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	if h.throttled(w, r, classOTPVerify) {
		return
	}
	var req identifierChangeRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeBadBody(w)
		return
	}

	ctx := r.Context()
	u, err := h.svc.ConfirmIdentifierChange(ctx, userID, req.Identifier, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.audit(ctx, h.event(r, "auth.identifier.changed", userID, nil))
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.svc.DeleteAccount(ctx, userID); err != nil {
		writeServiceError(w, err)
		return
	}
	h.audit(ctx, h.event(r, "auth.account.deleted", userID, nil))
	h.clearWebSessionCookies(w)
	h.expireCookie(w, h.cfg.DeviceCookieName, true)
	w.WriteHeader(http.StatusNoContent)
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, string(login.KindInvalidToken), "missing bearer token")
		return "", false
	}
	userID, err := h.svc.Authenticate(token)
	if err != nil {
		writeServiceError(w, err)
		return "", false
	}
	return userID, true
}

// throttled applies the per-IP budget for class and writes the 429 itself.
func (h *Handler) throttled(w http.ResponseWriter, r *http.Request, class routeClass) bool {
	ip := clientIP(r, h.cfg.TrustProxy)
	ok, retry := h.throttle.allow(class, ip, h.now())
	if ok {
		return false
	}
	h.audit(r.Context(), h.event(r, "auth.rate_limited", "", map[string]any{
		"class":         string(class),
		"retry_after_s": retrySeconds(retry),
	}))
	writeServiceError(w, &login.Error{
		Kind:       login.KindRateLimited,
		Message:    "too many requests, please slow down",
		RetryAfter: retry,
	})
	return true
}

func (h *Handler) event(r *http.Request, action, userID string, meta map[string]any) AuditEvent {
	return AuditEvent{
		Action:    action,
		UserID:    userID,
		IP:        clientIP(r, h.cfg.TrustProxy),
		UserAgent: r.UserAgent(),
		Meta:      meta,
		At:        h.now(),
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
