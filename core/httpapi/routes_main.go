package httpapi

import (
	"net/http"

	"github.com/kashima-app/kashima/core/infra/logging"
)

// platformVersions is the latest client release per platform, served to the
// desktop app's update check.
var platformVersions = map[string]string{
	"win32":  "0.9.0",
	"darwin": "0.9.0",
	"linux":  "0.9.0",
}

func mainRouter() *Router {
	return &Router{
		Base: "/",
		Routes: []*Route{
			{
				Verb: http.MethodGet,
				Path: "/",
				Requirements: Requirements{
					AuthType: AuthNone,
				},
				Handler: handleWelcome,
			},
			{
				Verb: http.MethodGet,
				Path: "/version",
				Requirements: Requirements{
					AuthType: AuthNone,
				},
				Handler: handleVersion,
			},
			{
				Verb: http.MethodGet,
				Path: "/stats",
				Requirements: Requirements{
					AuthType: AuthNone,
				},
				Handler: handleStats,
			},
		},
	}
}

func handleWelcome(_ *Env, _ *Call) *Reply {
	return &Reply{
		StatusCode: http.StatusOK,
		Message:    "Welcome to the Kashima API! Read more about our API here: https://docs.kashima.app/api",
	}
}

func handleVersion(_ *Env, _ *Call) *Reply {
	return OK(platformVersions)
}

func handleStats(env *Env, c *Call) *Reply {
	counts, err := env.Store.Counts(c.Request.Context())
	if err != nil {
		logging.Error("http", "failed to count records", "error", err)
		return Err(http.StatusInternalServerError, "Unable to fulfill your request")
	}
	return OK(map[string]any{
		"accounts": counts.Accounts,
		"articles": counts.Articles,
		"requests": env.Requests.Load(),
		"version":  Version,
		"themes":   counts.Themes,
	})
}
