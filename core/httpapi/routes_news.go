package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kashima-app/kashima/core/permissions"
	"github.com/kashima-app/kashima/core/store"
)

func newsRouter() *Router {
	return &Router{
		Base: "/news",
		Routes: []*Route{
			{
				Verb:         http.MethodGet,
				Path:         "/",
				Requirements: Requirements{AuthType: AuthNone},
				Handler:      handleListNews,
			},
			{
				Verb:         http.MethodGet,
				Path:         "/:uuid",
				Requirements: Requirements{Params: []Field{{Name: "uuid", Required: true}}},
				Handler:      handleGetNews,
			},
			{
				Verb: http.MethodPost,
				Path: "/:uuid",
				Requirements: Requirements{
					AuthType:    AuthJWT,
					RequireAuth: true,
					Params:      []Field{{Name: "uuid", Required: true}},
					Body:        []Field{{Name: "data", Required: true, Shape: ShapeObject}},
				},
				Handler: handleUpdateNews,
			},
			{
				Verb: http.MethodPut,
				Path: "/",
				Requirements: Requirements{
					AuthType:    AuthJWT,
					RequireAuth: true,
					Body:        []Field{{Name: "content", Required: true}},
				},
				Handler: handleCreateNews,
			},
			{
				Verb: http.MethodDelete,
				Path: "/:uuid",
				Requirements: Requirements{
					AuthType:    AuthJWT,
					RequireAuth: true,
					Params:      []Field{{Name: "uuid", Required: true}},
				},
				Handler: handleDeleteNews,
			},
		},
	}
}

func newsView(article *store.News) map[string]any {
	return map[string]any{
		"createdAt": article.CreatedAt,
		"content":   article.Content,
		"author":    article.Author,
		"uuid":      article.UUID,
	}
}

func handleListNews(env *Env, c *Call) *Reply {
	articles, err := env.Store.ListNews(c.Request.Context())
	if err != nil {
		return storeFailure(err)
	}
	out := make([]map[string]any, 0, len(articles))
	for _, article := range articles {
		out = append(out, newsView(article))
	}
	return OK(out)
}

func handleGetNews(env *Env, c *Call) *Reply {
	id := c.Param("uuid")
	article, err := env.Store.GetNews(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return Err(http.StatusNotFound, fmt.Sprintf("News article with UUID '%s' was not found.", id))
	}
	if err != nil {
		return storeFailure(err)
	}
	return OK(newsView(article))
}

func handleUpdateNews(env *Env, c *Call) *Reply {
	acct, reply := principalFromSession(env, c)
	if reply != nil {
		return reply
	}

	id := c.Param("uuid")
	article, err := env.Store.GetNews(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return Err(http.StatusNotFound, fmt.Sprintf("News article with UUID '%s' was not found.", id))
	}
	if err != nil {
		return storeFailure(err)
	}

	if reply := requireCapability(acct, "editNews"); reply != nil {
		return reply
	}

	for key, val := range c.BodyObject("data") {
		if key != "set" && key != "push" {
			return Err(http.StatusNotAcceptable, `Keys of updating an account must be "set" or "push"`)
		}
		fields, ok := val.(map[string]any)
		if !ok {
			return Err(http.StatusNotAcceptable, "Values must be an object")
		}
		if err := env.Store.UpdateNews(c.Request.Context(), article.UUID, key, fields); err != nil {
			return storeFailure(err)
		}
	}
	return Status(http.StatusOK)
}

func handleCreateNews(env *Env, c *Call) *Reply {
	acct, reply := principalFromSession(env, c)
	if reply != nil {
		return reply
	}
	if reply := requireCapability(acct, "createNews"); reply != nil {
		return reply
	}

	article, err := env.Store.CreateNews(c.Request.Context(), acct.Username, c.BodyString("content"))
	if err != nil {
		return storeFailure(err)
	}
	return OK(newsView(article))
}

func handleDeleteNews(env *Env, c *Call) *Reply {
	id := c.Param("uuid")
	if _, err := env.Store.GetNews(c.Request.Context(), id); errors.Is(err, store.ErrNotFound) {
		return Err(http.StatusNotFound, fmt.Sprintf("News article with UUID '%s' was not found.", id))
	} else if err != nil {
		return storeFailure(err)
	}

	acct, reply := principalFromSession(env, c)
	if reply != nil {
		return reply
	}
	if reply := requireCapability(acct, "deleteNews"); reply != nil {
		return reply
	}

	if err := env.Store.DeleteNews(c.Request.Context(), id); err != nil {
		return storeFailure(err)
	}
	return Status(http.StatusOK)
}

// principalFromSession resolves the account owning the presented session
// token. The pipeline has already verified the token decodes; this binds it
// to a stored record.
func principalFromSession(env *Env, c *Call) (*store.Account, *Reply) {
	acct, err := env.Store.GetAccountByJWT(c.Request.Context(), c.BearerToken())
	if errors.Is(err, store.ErrNotFound) {
		return nil, Err(http.StatusNotFound, accountNotFoundByJWT)
	}
	if err != nil {
		return nil, storeFailure(err)
	}
	return acct, nil
}

// requireCapability is the second authorization layer past "is there a valid
// principal": named capability checks against the account's bitmask.
func requireCapability(acct *store.Account, name string) *Reply {
	perms := permissions.New(acct.Permissions.Allowed, acct.Permissions.Denied)
	if !perms.Has(name) {
		return Err(http.StatusForbidden, fmt.Sprintf("Account doesn't have the %q permission.", name))
	}
	return nil
}
