package passkey

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/keygate/keygate/internal/identity"
)

// Handler exposes the passkey flows behind a single dispatch endpoint:
// POST with {endpoint, data}, answered with {success, data?, error?}.
type Handler struct {
	service *Service
	users   *identity.Service
	logger  *slog.Logger
}

// NewHandler constructs the dispatch handler.
func NewHandler(service *Service, users *identity.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, users: users, logger: logger}
}

type dispatchRequest struct {
	Endpoint string       `json:"endpoint"`
	Data     dispatchData `json:"data"`
}

type dispatchData struct {
	RPID              string          `json:"rpId"`
	RPName            string          `json:"rpName"`
	Email             string          `json:"email"`
	ChallengeID       string          `json:"challengeId"`
	Response          json.RawMessage `json:"response"`
	AuthenticatorName string          `json:"authenticatorName"`
	CredentialID      string          `json:"credentialId"`
}

type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

func success(data any) apiResponse {
	return apiResponse{Success: true, Data: data}
}

func failure(err *Error) apiResponse {
	return apiResponse{Success: false, Error: err}
}

// Dispatch routes the request body's endpoint discriminator to a flow. Flow
// failures travel in the envelope with HTTP 200; only unparseable bodies and
// unexpected errors produce a 500, always with a generic message.
func (h *Handler) Dispatch(c *fiber.Ctx) error {
	var req dispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusInternalServerError).
			JSON(failure(&Error{Code: CodeUnknown, Message: "Internal server error"}))
	}

	ctx := c.UserContext()
	meta := RequestMeta{
		RPID:   req.Data.RPID,
		RPName: req.Data.RPName,
		Origin: requestOrigin(c),
		IP:     clientIP(c),
	}

	var (
		data any
		err  error
	)

	switch req.Endpoint {
	case "/register/start":
		data, err = h.service.RegisterStart(ctx, meta, req.Data.Email)
	case "/register/finish":
		data, err = h.service.RegisterFinish(ctx, meta, req.Data.ChallengeID, req.Data.Response, req.Data.AuthenticatorName)
	case "/login/start":
		data, err = h.service.LoginStart(ctx, meta, req.Data.Email)
	case "/login/finish":
		data, err = h.service.LoginFinish(ctx, meta, req.Data.ChallengeID, req.Data.Response)
	case "/passkeys/list":
		var user identity.User
		user, err = h.users.AuthenticateBearer(ctx, c.Get(fiber.HeaderAuthorization))
		if err == nil {
			var passkeys any
			passkeys, err = h.service.List(ctx, user.ID)
			data = fiber.Map{"passkeys": passkeys}
		}
	case "/passkeys/remove":
		var user identity.User
		user, err = h.users.AuthenticateBearer(ctx, c.Get(fiber.HeaderAuthorization))
		if err == nil {
			data, err = h.service.Remove(ctx, meta, user.ID, req.Data.CredentialID)
		}
	case "/passkeys/update":
		var user identity.User
		user, err = h.users.AuthenticateBearer(ctx, c.Get(fiber.HeaderAuthorization))
		if err == nil {
			var passkey any
			passkey, err = h.service.Rename(ctx, meta, user.ID, req.Data.CredentialID, req.Data.AuthenticatorName)
			data = fiber.Map{"passkey": passkey}
		}
	default:
		return c.JSON(failure(&Error{Code: CodeNotFound, Message: "Unknown endpoint: " + req.Endpoint}))
	}

	if err != nil {
		if errors.Is(err, identity.ErrUnauthorized) {
			return c.JSON(failure(errUnauthorized))
		}
		var flowErr *Error
		if errors.As(err, &flowErr) {
			return c.JSON(failure(flowErr))
		}
		h.logger.Error("passkey flow failed", "endpoint", req.Endpoint, "error", err)
		return c.Status(http.StatusInternalServerError).
			JSON(failure(&Error{Code: CodeUnknown, Message: "Internal server error"}))
	}

	return c.JSON(success(data))
}

// requestOrigin prefers the Origin header and falls back to the request's own
// scheme and host.
func requestOrigin(c *fiber.Ctx) string {
	if origin := c.Get(fiber.HeaderOrigin); origin != "" {
		return origin
	}
	return c.Protocol() + "://" + c.Hostname()
}

// clientIP walks the usual proxy headers before trusting the transport peer.
func clientIP(c *fiber.Ctx) string {
	if fwd := c.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if ip := c.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := c.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	return c.IP()
}
