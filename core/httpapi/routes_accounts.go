package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	authpkg "github.com/kashima-app/kashima/core/auth"
	"github.com/kashima-app/kashima/core/infra/logging"
	"github.com/kashima-app/kashima/core/permissions"
	"github.com/kashima-app/kashima/core/store"
)

func accountsRouter() *Router {
	return &Router{
		Base: "/accounts",
		Routes: []*Route{
			{
				Verb: http.MethodGet,
				Path: "/",
				Requirements: Requirements{
					Queries:  []Field{{Name: "username", Required: true}},
					Optional: true,
				},
				Handler: handleGetAccount,
			},
			{
				Verb: http.MethodPost,
				Path: "/login",
				Requirements: Requirements{
					MasterKey: true,
					Body: []Field{
						{Name: "username", Required: true},
						{Name: "password", Required: true},
					},
				},
				Handler: handleLogin,
			},
			{
				Verb: http.MethodPost,
				Path: "/",
				Requirements: Requirements{
					AuthType:    AuthJWT,
					RequireAuth: true,
					Body:        []Field{{Name: "data", Required: true, Shape: ShapeObject}},
				},
				Handler: handleUpdateAccount,
			},
			{
				Verb: http.MethodPost,
				Path: "/jwt",
				Requirements: Requirements{
					AuthType:    AuthAccount,
					RequireAuth: true,
				},
				Handler: handleMintSession,
			},
			{
				Verb:         http.MethodPost,
				Path:         "/jwt/validate",
				Requirements: Requirements{AuthType: AuthJWT},
				Handler:      handleValidateSession,
			},
			{
				Verb:         http.MethodPost,
				Path:         "/jwt/refresh",
				Requirements: Requirements{AuthType: AuthJWT},
				Handler:      handleRefreshSession,
			},
			{
				Verb: http.MethodPut,
				Path: "/",
				Requirements: Requirements{
					MasterKey: true,
					Body: []Field{
						{Name: "username", Required: true},
						{Name: "password", Required: true},
						{Name: "email", Required: true},
					},
				},
				Handler: handleCreateAccount,
			},
			{
				Verb: http.MethodDelete,
				Path: "/",
				Requirements: Requirements{
					MasterKey: true,
					Body:      []Field{{Name: "username", Required: true}},
				},
				Handler: handleDeleteAccount,
			},
		},
	}
}

const accountNotFoundByJWT = "No account was found by the JWT token. Is the user account a dud?"

// GET /accounts is public, but the response shape depends on caller
// privilege: a request carrying any credential-looking header (or the master
// key) also receives the account's secrets.
func handleGetAccount(env *Env, c *Call) *Reply {
	username := c.Query("username")
	acct, err := env.Store.GetAccount(c.Request.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		return Err(http.StatusNotFound, fmt.Sprintf("Account with username '%s' doesn't exist?", username))
	}
	if err != nil {
		return storeFailure(err)
	}

	if err := ensureSession(env, c.Request.Context(), acct); err != nil {
		return storeFailure(err)
	}

	header := c.AuthHeader()
	privileged := header != "" &&
		(strings.HasPrefix(header, "Bearer ") ||
			strings.HasPrefix(header, "Account ") ||
			header == env.Config.MasterKey)

	return OK(profileView(env, c.Request.Context(), acct, privileged))
}

func handleLogin(env *Env, c *Call) *Reply {
	username := c.BodyString("username")
	acct, err := env.Store.GetAccount(c.Request.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		return Err(http.StatusNotFound, fmt.Sprintf("Account by %s doesn't exist.", username))
	}
	if err != nil {
		return storeFailure(err)
	}

	if !authpkg.VerifyPassword(c.BodyString("password"), acct.Salt, acct.Password) {
		return Err(http.StatusUnauthorized, "Invalid password.")
	}
	return OK(profileView(env, c.Request.Context(), acct, true))
}

// POST /accounts applies set/push mutations to the caller's own record. The
// identity comes from the session token, never from the body.
func handleUpdateAccount(env *Env, c *Call) *Reply {
	result := env.Codec.Decode(c.BearerToken())
	acct, err := env.Store.GetAccount(c.Request.Context(), result.Username)
	if errors.Is(err, store.ErrNotFound) {
		return Err(http.StatusNotFound, accountNotFoundByJWT)
	}
	if err != nil {
		return storeFailure(err)
	}

	for key, val := range c.BodyObject("data") {
		if key != "set" && key != "push" {
			return Err(http.StatusNotAcceptable, `Keys of updating an account must be "set" or "push"`)
		}
		fields, ok := val.(map[string]any)
		if !ok {
			return Err(http.StatusNotAcceptable, "Values must be an object")
		}
		if err := env.Store.UpdateAccount(c.Request.Context(), acct.Username, key, fields); err != nil {
			return storeFailure(err)
		}
	}
	return Status(http.StatusOK)
}

func handleMintSession(env *Env, c *Call) *Reply {
	acct, err := env.Store.GetAccountByToken(c.Request.Context(), c.AccountToken())
	if err != nil {
		return storeFailure(err)
	}

	token, err := env.Codec.Encode(acct.Username)
	if err != nil {
		logging.Error("http", "failed to mint session token", "error", err)
		return Err(http.StatusInternalServerError, "Unable to fulfill your request")
	}
	if err := env.Store.UpdateAccount(c.Request.Context(), acct.Username, "set", map[string]any{"jwt": token}); err != nil {
		return storeFailure(err)
	}
	return OK(map[string]any{"token": token})
}

func handleValidateSession(env *Env, c *Call) *Reply {
	token := c.BearerToken()
	if token == "" {
		return Err(http.StatusUnauthorized, `Missing "Authorization" header in the request.`)
	}

	if _, err := env.Store.GetAccountByJWT(c.Request.Context(), token); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Err(http.StatusNotFound, accountNotFoundByJWT)
		}
		return storeFailure(err)
	}

	result := env.Codec.Decode(token)
	if result.Kind != authpkg.ErrNone {
		return Err(http.StatusInternalServerError, result.Message)
	}
	return OK(map[string]any{"username": result.Username})
}

// POST /accounts/jwt/refresh trades an expired session token for a fresh one.
// Valid tokens are refused; the session stays single-use until expiry.
func handleRefreshSession(env *Env, c *Call) *Reply {
	token := c.BearerToken()
	if token == "" {
		return Err(http.StatusUnauthorized, `Missing "Authorization" header in the request.`)
	}

	acct, err := env.Store.GetAccountByJWT(c.Request.Context(), token)
	if errors.Is(err, store.ErrNotFound) {
		return Err(http.StatusNotFound, accountNotFoundByJWT)
	}
	if err != nil {
		return storeFailure(err)
	}

	result := env.Codec.Decode(token)
	switch result.Kind {
	case authpkg.ErrExpired:
		fresh, err := env.Codec.Encode(acct.Username)
		if err != nil {
			logging.Error("http", "failed to mint session token", "error", err)
			return Err(http.StatusInternalServerError, "Unable to fulfill your request")
		}
		if err := env.Store.UpdateAccount(c.Request.Context(), acct.Username, "set", map[string]any{"jwt": fresh}); err != nil {
			return storeFailure(err)
		}
		return OK(map[string]any{"token": fresh})
	case authpkg.ErrNone:
		return Err(http.StatusUnauthorized, "Token has not expired.")
	default:
		return Err(http.StatusInternalServerError, "Unable to validate the token: "+result.Message)
	}
}

func handleCreateAccount(env *Env, c *Call) *Reply {
	username := c.BodyString("username")
	email := c.BodyString("email")

	if _, err := env.Store.GetAccountByEmail(c.Request.Context(), email); err == nil {
		return Err(http.StatusConflict, fmt.Sprintf("Email %s exists", email))
	} else if !errors.Is(err, store.ErrNotFound) {
		return storeFailure(err)
	}
	if _, err := env.Store.GetAccount(c.Request.Context(), username); err == nil {
		return Err(http.StatusConflict, fmt.Sprintf("Username %s exists", username))
	} else if !errors.Is(err, store.ErrNotFound) {
		return storeFailure(err)
	}

	salt := authpkg.NewSalt()
	session, err := env.Codec.Encode(username)
	if err != nil {
		logging.Error("http", "failed to mint session token", "error", err)
		return Err(http.StatusInternalServerError, "Unable to fulfill your request")
	}

	acct := &store.Account{
		Username:     username,
		Email:        email,
		Password:     authpkg.HashPassword(c.BodyString("password"), salt),
		Salt:         salt,
		Token:        authpkg.NewAccountToken(),
		JWT:          session,
		Permissions:  store.PermissionMask{},
		Status:       store.Status{Current: "offline"},
		AvatarURL:    env.Config.CDNBaseURL + "/default.png",
		Followers:    []string{},
		Following:    []string{},
		Friends:      []string{},
		BlockedUsers: []string{},
		Badges:       []string{},
	}
	if err := env.Store.CreateAccount(c.Request.Context(), acct); err != nil {
		return storeFailure(err)
	}
	return OK(profileView(env, c.Request.Context(), acct, true))
}

func handleDeleteAccount(env *Env, c *Call) *Reply {
	username := c.BodyString("username")
	if _, err := env.Store.GetAccount(c.Request.Context(), username); errors.Is(err, store.ErrNotFound) {
		return Err(http.StatusNotFound, fmt.Sprintf("No account by %s exists.", username))
	} else if err != nil {
		return storeFailure(err)
	}

	if err := env.Store.DeleteAccount(c.Request.Context(), username); err != nil {
		return storeFailure(err)
	}
	return Status(http.StatusOK)
}

// ensureSession mints a session token when the account has none, or when the
// stored one has expired.
func ensureSession(env *Env, ctx context.Context, acct *store.Account) error {
	mint := acct.JWT == ""
	if !mint {
		result := env.Codec.Decode(acct.JWT)
		mint = result.Kind == authpkg.ErrExpired
	}
	if !mint {
		return nil
	}

	token, err := env.Codec.Encode(acct.Username)
	if err != nil {
		return err
	}
	if err := env.Store.UpdateAccount(ctx, acct.Username, "set", map[string]any{"jwt": token}); err != nil {
		return err
	}
	acct.JWT = token
	return nil
}

// profileView renders an account for the wire. The privileged view adds the
// fields only the account owner or a service should see.
func profileView(env *Env, ctx context.Context, acct *store.Account, privileged bool) map[string]any {
	view := map[string]any{
		"blockedUsers": acct.BlockedUsers,
		"permissions":  acct.Permissions,
		"capabilities": permissions.New(acct.Permissions.Allowed, acct.Permissions.Denied).Format(),
		"description":  acct.Description,
		"following":    relationSummaries(env, ctx, acct.Following),
		"followers":    relationSummaries(env, ctx, acct.Followers),
		"avatarUrl":    avatarFor(acct),
		"username":     acct.Username,
		"friends":      relationSummaries(env, ctx, acct.Friends),
		"badges":       acct.Badges,
	}
	if privileged {
		view["status"] = acct.Status
		view["token"] = acct.Token
		view["email"] = acct.Email
		view["salt"] = acct.Salt
		view["jwt"] = acct.JWT
	}
	return view
}

func relationSummaries(env *Env, ctx context.Context, usernames []string) []map[string]any {
	out := make([]map[string]any, 0, len(usernames))
	for _, name := range usernames {
		rel, err := env.Store.GetAccount(ctx, name)
		if err != nil {
			continue
		}
		out = append(out, map[string]any{
			"avatarUrl": avatarFor(rel),
			"username":  rel.Username,
			"status":    rel.Status,
		})
	}
	return out
}

func storeFailure(err error) *Reply {
	logging.Error("http", "store operation failed", "error", err)
	return Err(http.StatusInternalServerError, "Unable to fulfill your request")
}
