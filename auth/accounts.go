package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gridspace/store"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

var (
	ErrInvalidSignup      = errors.New("invalid signup request")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// UserStore 账号存储（store.Store 实现）
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash, role string) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
}

// Accounts 注册与登录
type Accounts struct {
	users  UserStore
	tokens *Tokens
	log    *zap.SugaredLogger
}

func NewAccounts(users UserStore, tokens *Tokens, log *zap.SugaredLogger) *Accounts {
	return &Accounts{users: users, tokens: tokens, log: log}
}

// Signup 注册账号，返回用户 ID。role 为空时视为普通用户
func (a *Accounts) Signup(ctx context.Context, username, password, role string) (string, error) {
	if username == "" || password == "" {
		return "", fmt.Errorf("%w: username and password are required", ErrInvalidSignup)
	}
	if role == "" {
		role = RoleUser
	}
	if role != RoleAdmin && role != RoleUser {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidSignup, role)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	u, err := a.users.CreateUser(ctx, username, hash, role)
	if errors.Is(err, store.ErrUsernameTaken) {
		return "", ErrUsernameTaken
	}
	if err != nil {
		return "", err
	}
	a.log.Infow("account created", "user", u.ID, "username", username, "role", role)
	return u.ID, nil
}

// Signin 校验口令并签发令牌
func (a *Accounts) Signin(ctx context.Context, username, password string) (string, error) {
	u, err := a.users.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrUserNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if !CheckPassword(password, u.PasswordHash) {
		a.log.Infow("signin failed: wrong password", "username", username)
		return "", ErrInvalidCredentials
	}
	return a.tokens.Issue(u.ID, u.Role)
}
