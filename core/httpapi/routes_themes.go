package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kashima-app/kashima/core/infra/schema"
	"github.com/kashima-app/kashima/core/store"
)

// themePayloadSchema constrains the document a publisher submits with
// PUT /themes. The author field is never client-supplied.
const themePayloadSchema = `{
	"type": "object",
	"properties": {
		"name":        {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"repository":  {"type": "string"},
		"version":     {"type": "string", "minLength": 1},
		"changelog":   {"type": "string"}
	},
	"required": ["name", "version"],
	"additionalProperties": false
}`

var themeSchema = schema.MustCompile("theme", themePayloadSchema)

func themesRouter() *Router {
	return &Router{
		Base: "/themes",
		Routes: []*Route{
			{
				Verb:         http.MethodGet,
				Path:         "/",
				Requirements: Requirements{AuthType: AuthNone},
				Handler:      handleListThemes,
			},
			{
				// the mux prefers this literal segment over /:id
				Verb:         http.MethodGet,
				Path:         "/popular",
				Requirements: Requirements{AuthType: AuthNone},
				Handler:      handlePopularThemes,
			},
			{
				Verb:         http.MethodGet,
				Path:         "/:id",
				Requirements: Requirements{Params: []Field{{Name: "id", Required: true}}},
				Handler:      handleGetTheme,
			},
			{
				Verb: http.MethodPost,
				Path: "/:id",
				Requirements: Requirements{
					AuthType:    AuthJWT,
					RequireAuth: true,
					Params:      []Field{{Name: "id", Required: true}},
					Body:        []Field{{Name: "data", Required: true, Shape: ShapeObject}},
				},
				Handler: handleUpdateTheme,
			},
			{
				Verb: http.MethodPut,
				Path: "/",
				Requirements: Requirements{
					AuthType:    AuthJWT,
					RequireAuth: true,
					Body:        []Field{{Name: "data", Required: true, Shape: ShapeObject}},
				},
				Handler: handlePublishTheme,
			},
			{
				Verb: http.MethodDelete,
				Path: "/:id",
				Requirements: Requirements{
					AuthType:    AuthJWT,
					RequireAuth: true,
					Params:      []Field{{Name: "id", Required: true}},
				},
				Handler: handleDeleteTheme,
			},
		},
	}
}

func themeView(env *Env, theme *store.Theme) map[string]any {
	var tarball any
	if env.Config.Environment != "development" {
		tarball = fmt.Sprintf("%s/themes/%s/%s/tarball.tar.gz", env.Config.CDNBaseURL, theme.ID, theme.Version)
	}
	return map[string]any{
		"description": theme.Description,
		"repository":  theme.Repository,
		"favourites":  theme.Favourites,
		"changelog":   theme.Changelog,
		"version":     theme.Version,
		"tarball":     tarball,
		"name":        theme.Name,
		"id":          theme.ID,
	}
}

func handleListThemes(env *Env, c *Call) *Reply {
	themes, err := env.Store.ListThemes(c.Request.Context())
	if err != nil {
		return storeFailure(err)
	}
	out := make([]map[string]any, 0, len(themes))
	for _, theme := range themes {
		out = append(out, themeView(env, theme))
	}
	return OK(out)
}

// GET /themes/popular is a download-count shortlist: the first five themes,
// minus anything nobody has downloaded more than once.
func handlePopularThemes(env *Env, c *Call) *Reply {
	themes, err := env.Store.ListThemes(c.Request.Context())
	if err != nil {
		return storeFailure(err)
	}
	if len(themes) > 5 {
		themes = themes[:5]
	}
	out := make([]map[string]any, 0, len(themes))
	for _, theme := range themes {
		if theme.Downloads <= 1 {
			continue
		}
		out = append(out, map[string]any{
			"downloads": theme.Downloads,
			"info": map[string]any{
				"description": theme.Description,
				"name":        theme.Name,
				"id":          theme.ID,
			},
		})
	}
	return OK(out)
}

func handleGetTheme(env *Env, c *Call) *Reply {
	id := c.Param("id")
	theme, err := env.Store.GetTheme(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return Err(http.StatusNotFound, fmt.Sprintf("Theme with id '%s' was not found.", id))
	}
	if err != nil {
		return storeFailure(err)
	}
	return OK(themeView(env, theme))
}

// POST /themes/:id is owner-only; there is no capability override for
// editing somebody else's theme.
func handleUpdateTheme(env *Env, c *Call) *Reply {
	acct, reply := principalFromSession(env, c)
	if reply != nil {
		return reply
	}

	id := c.Param("id")
	theme, err := env.Store.GetTheme(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return Err(http.StatusNotFound, fmt.Sprintf("Theme with id '%s' was not found.", id))
	}
	if err != nil {
		return storeFailure(err)
	}

	if theme.Author != acct.Username {
		return Err(http.StatusForbidden,
			fmt.Sprintf("Account %s doesn't have the permission to update theme %s", acct.Username, theme.ID))
	}

	for key, val := range c.BodyObject("data") {
		if key != "set" && key != "push" {
			return Err(http.StatusNotAcceptable, `Keys of updating an account must be "set" or "push"`)
		}
		fields, ok := val.(map[string]any)
		if !ok {
			return Err(http.StatusNotAcceptable, "Values must be an object")
		}
		if err := env.Store.UpdateTheme(c.Request.Context(), theme.ID, key, fields); err != nil {
			return storeFailure(err)
		}
	}
	return Status(http.StatusOK)
}

func handlePublishTheme(env *Env, c *Call) *Reply {
	acct, reply := principalFromSession(env, c)
	if reply != nil {
		return reply
	}
	if reply := requireCapability(acct, "publish"); reply != nil {
		return reply
	}

	data := c.BodyObject("data")
	if err := schema.Validate(themeSchema, data); err != nil {
		return Err(http.StatusBadRequest, "Invalid theme payload: "+err.Error())
	}

	theme := &store.Theme{
		Name:        stringField(data, "name"),
		Author:      acct.Username,
		Description: stringField(data, "description"),
		Repository:  stringField(data, "repository"),
		Version:     stringField(data, "version"),
		Changelog:   stringField(data, "changelog"),
	}
	if err := env.Store.CreateTheme(c.Request.Context(), theme); err != nil {
		return storeFailure(err)
	}

	view := themeView(env, theme)
	delete(view, "tarball")
	return OK(view)
}

func handleDeleteTheme(env *Env, c *Call) *Reply {
	id := c.Param("id")
	theme, err := env.Store.GetTheme(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return Err(http.StatusNotFound, fmt.Sprintf("Theme with id '%s' was not found.", id))
	}
	if err != nil {
		return storeFailure(err)
	}

	acct, reply := principalFromSession(env, c)
	if reply != nil {
		return reply
	}
	if theme.Author != acct.Username {
		return Err(http.StatusForbidden,
			fmt.Sprintf("Account %s doesn't have the permission to delete theme %s", acct.Username, theme.ID))
	}

	if err := env.Store.DeleteTheme(c.Request.Context(), id); err != nil {
		return storeFailure(err)
	}
	return Status(http.StatusOK)
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
