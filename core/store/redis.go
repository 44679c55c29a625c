// Package store is the document-store client backing accounts, news and
// themes. Records are JSON documents keyed by their natural id, with small
// index keys for the secondary lookups the API needs (email, account token,
// session token).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kashima-app/kashima/core/infra/redisutil"
)

const (
	accountPrefix   = "account:"
	accountEmailIdx = "account:email:"
	accountTokenIdx = "account:token:"
	accountJWTIdx   = "account:jwt:"
	newsPrefix      = "news:"
	themePrefix     = "theme:"

	accountIndex = "index:accounts"
	newsIndex    = "index:news"
	themeIndex   = "index:themes"

	defaultOpTimeout = 2 * time.Second
)

// ErrNotFound is returned when no record exists under the requested key.
var ErrNotFound = errors.New("record not found")

// Store is the document-store surface the API depends on.
type Store interface {
	GetAccount(ctx context.Context, username string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetAccountByToken(ctx context.Context, token string) (*Account, error)
	GetAccountByJWT(ctx context.Context, token string) (*Account, error)
	CreateAccount(ctx context.Context, acct *Account) error
	SaveAccount(ctx context.Context, acct *Account) error
	UpdateAccount(ctx context.Context, username, op string, data map[string]any) error
	DeleteAccount(ctx context.Context, username string) error

	GetNews(ctx context.Context, id string) (*News, error)
	ListNews(ctx context.Context) ([]*News, error)
	CreateNews(ctx context.Context, author, content string) (*News, error)
	UpdateNews(ctx context.Context, id, op string, data map[string]any) error
	DeleteNews(ctx context.Context, id string) error

	GetTheme(ctx context.Context, id string) (*Theme, error)
	ListThemes(ctx context.Context) ([]*Theme, error)
	CreateTheme(ctx context.Context, theme *Theme) error
	UpdateTheme(ctx context.Context, id, op string, data map[string]any) error
	DeleteTheme(ctx context.Context, id string) error

	Counts(ctx context.Context) (*Counts, error)
	Close() error
}

// RedisStore implements Store on Redis.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to Redis at the given redis:// URL. TLS and cluster
// settings come from the environment, see redisutil.
func NewRedisStore(url string) (*RedisStore, error) {
	client, err := redisutil.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), defaultOpTimeout)
}

func (s *RedisStore) getJSON(ctx context.Context, key string, out any) error {
	cctx, cancel := opCtx(ctx)
	defer cancel()
	raw, err := s.client.Get(cctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *RedisStore) setJSON(ctx context.Context, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	cctx, cancel := opCtx(ctx)
	defer cancel()
	return s.client.Set(cctx, key, raw, 0).Err()
}

// --- Accounts ---

func (s *RedisStore) GetAccount(ctx context.Context, username string) (*Account, error) {
	var acct Account
	if err := s.getJSON(ctx, accountPrefix+username, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (s *RedisStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return s.getByIndex(ctx, accountEmailIdx+email)
}

func (s *RedisStore) GetAccountByToken(ctx context.Context, token string) (*Account, error) {
	return s.getByIndex(ctx, accountTokenIdx+token)
}

func (s *RedisStore) GetAccountByJWT(ctx context.Context, token string) (*Account, error) {
	return s.getByIndex(ctx, accountJWTIdx+token)
}

func (s *RedisStore) getByIndex(ctx context.Context, idxKey string) (*Account, error) {
	cctx, cancel := opCtx(ctx)
	defer cancel()
	username, err := s.client.Get(cctx, idxKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, username)
}

func (s *RedisStore) CreateAccount(ctx context.Context, acct *Account) error {
	raw, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	cctx, cancel := opCtx(ctx)
	defer cancel()
	pipe := s.client.TxPipeline()
	pipe.Set(cctx, accountPrefix+acct.Username, raw, 0)
	pipe.Set(cctx, accountEmailIdx+acct.Email, acct.Username, 0)
	pipe.Set(cctx, accountTokenIdx+acct.Token, acct.Username, 0)
	if acct.JWT != "" {
		pipe.Set(cctx, accountJWTIdx+acct.JWT, acct.Username, 0)
	}
	pipe.SAdd(cctx, accountIndex, acct.Username)
	_, err = pipe.Exec(cctx)
	return err
}

// SaveAccount overwrites the record and repoints any index whose source field
// changed. Concurrent writers are last-write-wins.
func (s *RedisStore) SaveAccount(ctx context.Context, acct *Account) error {
	old, err := s.GetAccount(ctx, acct.Username)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	raw, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	cctx, cancel := opCtx(ctx)
	defer cancel()
	pipe := s.client.TxPipeline()
	pipe.Set(cctx, accountPrefix+acct.Username, raw, 0)
	repoint := func(prefix, oldVal, newVal string) {
		if oldVal == newVal {
			return
		}
		if oldVal != "" {
			pipe.Del(cctx, prefix+oldVal)
		}
		if newVal != "" {
			pipe.Set(cctx, prefix+newVal, acct.Username, 0)
		}
	}
	if old != nil {
		repoint(accountEmailIdx, old.Email, acct.Email)
		repoint(accountTokenIdx, old.Token, acct.Token)
		repoint(accountJWTIdx, old.JWT, acct.JWT)
	} else {
		repoint(accountEmailIdx, "", acct.Email)
		repoint(accountTokenIdx, "", acct.Token)
		repoint(accountJWTIdx, "", acct.JWT)
	}
	pipe.SAdd(cctx, accountIndex, acct.Username)
	_, err = pipe.Exec(cctx)
	return err
}

func (s *RedisStore) UpdateAccount(ctx context.Context, username, op string, data map[string]any) error {
	cctx, cancel := opCtx(ctx)
	defer cancel()
	raw, err := s.client.Get(cctx, accountPrefix+username).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	updated, err := applyUpdate(raw, op, data)
	if err != nil {
		return err
	}

	var acct Account
	if err := json.Unmarshal(updated, &acct); err != nil {
		return fmt.Errorf("update produced an unreadable account record: %w", err)
	}
	acct.Username = username
	return s.SaveAccount(ctx, &acct)
}

func (s *RedisStore) DeleteAccount(ctx context.Context, username string) error {
	acct, err := s.GetAccount(ctx, username)
	if err != nil {
		return err
	}
	cctx, cancel := opCtx(ctx)
	defer cancel()
	pipe := s.client.TxPipeline()
	pipe.Del(cctx, accountPrefix+username)
	pipe.Del(cctx, accountEmailIdx+acct.Email)
	pipe.Del(cctx, accountTokenIdx+acct.Token)
	if acct.JWT != "" {
		pipe.Del(cctx, accountJWTIdx+acct.JWT)
	}
	pipe.SRem(cctx, accountIndex, username)
	_, err = pipe.Exec(cctx)
	return err
}

// --- News ---

func (s *RedisStore) GetNews(ctx context.Context, id string) (*News, error) {
	var article News
	if err := s.getJSON(ctx, newsPrefix+id, &article); err != nil {
		return nil, err
	}
	return &article, nil
}

func (s *RedisStore) ListNews(ctx context.Context) ([]*News, error) {
	ids, err := s.indexMembers(ctx, newsIndex)
	if err != nil {
		return nil, err
	}
	out := make([]*News, 0, len(ids))
	for _, id := range ids {
		article, err := s.GetNews(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, article)
	}
	return out, nil
}

func (s *RedisStore) CreateNews(ctx context.Context, author, content string) (*News, error) {
	article := &News{
		UUID:      uuid.NewString(),
		Author:    author,
		Content:   content,
		CreatedAt: time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(article)
	if err != nil {
		return nil, err
	}
	cctx, cancel := opCtx(ctx)
	defer cancel()
	pipe := s.client.TxPipeline()
	pipe.Set(cctx, newsPrefix+article.UUID, raw, 0)
	pipe.SAdd(cctx, newsIndex, article.UUID)
	if _, err := pipe.Exec(cctx); err != nil {
		return nil, err
	}
	return article, nil
}

func (s *RedisStore) UpdateNews(ctx context.Context, id, op string, data map[string]any) error {
	return s.updateDoc(ctx, newsPrefix+id, op, data)
}

func (s *RedisStore) DeleteNews(ctx context.Context, id string) error {
	return s.deleteDoc(ctx, newsPrefix+id, newsIndex, id)
}

// --- Themes ---

func (s *RedisStore) GetTheme(ctx context.Context, id string) (*Theme, error) {
	var theme Theme
	if err := s.getJSON(ctx, themePrefix+id, &theme); err != nil {
		return nil, err
	}
	return &theme, nil
}

func (s *RedisStore) ListThemes(ctx context.Context) ([]*Theme, error) {
	ids, err := s.indexMembers(ctx, themeIndex)
	if err != nil {
		return nil, err
	}
	out := make([]*Theme, 0, len(ids))
	for _, id := range ids {
		theme, err := s.GetTheme(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, theme)
	}
	return out, nil
}

func (s *RedisStore) CreateTheme(ctx context.Context, theme *Theme) error {
	if theme.ID == "" {
		theme.ID = uuid.NewString()
	}
	raw, err := json.Marshal(theme)
	if err != nil {
		return err
	}
	cctx, cancel := opCtx(ctx)
	defer cancel()
	pipe := s.client.TxPipeline()
	pipe.Set(cctx, themePrefix+theme.ID, raw, 0)
	pipe.SAdd(cctx, themeIndex, theme.ID)
	_, err = pipe.Exec(cctx)
	return err
}

func (s *RedisStore) UpdateTheme(ctx context.Context, id, op string, data map[string]any) error {
	return s.updateDoc(ctx, themePrefix+id, op, data)
}

func (s *RedisStore) DeleteTheme(ctx context.Context, id string) error {
	return s.deleteDoc(ctx, themePrefix+id, themeIndex, id)
}

// --- Shared helpers ---

func (s *RedisStore) Counts(ctx context.Context) (*Counts, error) {
	cctx, cancel := opCtx(ctx)
	defer cancel()
	pipe := s.client.Pipeline()
	accounts := pipe.SCard(cctx, accountIndex)
	articles := pipe.SCard(cctx, newsIndex)
	themes := pipe.SCard(cctx, themeIndex)
	if _, err := pipe.Exec(cctx); err != nil {
		return nil, err
	}
	return &Counts{
		Accounts: accounts.Val(),
		Articles: articles.Val(),
		Themes:   themes.Val(),
	}, nil
}

func (s *RedisStore) indexMembers(ctx context.Context, index string) ([]string, error) {
	cctx, cancel := opCtx(ctx)
	defer cancel()
	return s.client.SMembers(cctx, index).Result()
}

func (s *RedisStore) updateDoc(ctx context.Context, key, op string, data map[string]any) error {
	cctx, cancel := opCtx(ctx)
	defer cancel()
	raw, err := s.client.Get(cctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	updated, err := applyUpdate(raw, op, data)
	if err != nil {
		return err
	}
	return s.client.Set(cctx, key, updated, 0).Err()
}

func (s *RedisStore) deleteDoc(ctx context.Context, key, index, id string) error {
	cctx, cancel := opCtx(ctx)
	defer cancel()
	removed, err := s.client.Del(cctx, key).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrNotFound
	}
	return s.client.SRem(cctx, index, id).Err()
}

// applyUpdate applies a set/push mutation to a raw JSON document. "set"
// replaces top-level keys; "push" appends to array-valued keys, creating the
// array when absent.
func applyUpdate(raw []byte, op string, data map[string]any) ([]byte, error) {
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	switch op {
	case "set":
		for key, val := range data {
			doc[key] = val
		}
	case "push":
		for key, val := range data {
			list, ok := doc[key].([]any)
			if !ok && doc[key] != nil {
				return nil, fmt.Errorf("field %q is not an array", key)
			}
			doc[key] = append(list, val)
		}
	default:
		return nil, fmt.Errorf("unknown update op %q", op)
	}
	return json.Marshal(doc)
}
