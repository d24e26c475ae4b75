package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"patch-fleet/pkg/auth"
	"patch-fleet/pkg/model"
)

const tokenTTL = 24 * time.Hour

// AuthHandler serves operator registration and login backed by the central
// store's user table.
type AuthHandler struct {
	DB *gorm.DB
}

type credentials struct {
	Operator string `json:"operator"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Operator  string    `json:"operator"`
	Admin     bool      `json:"admin"`
}

func (a *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/auth/register", a.handleRegister)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return credentials{}, false
	}
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Operator == "" || creds.Password == "" {
		http.Error(w, "operator and password are required", http.StatusBadRequest)
		return credentials{}, false
	}
	return creds, true
}

// handleRegister creates the first operator account only. That account is
// admin; every later registration attempt is rejected.
func (a *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	creds, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	var count int64
	a.DB.Model(&model.User{}).Count(&count)
	if count > 0 {
		http.Error(w, "registration closed after first operator", http.StatusForbidden)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "failed to hash password", http.StatusInternalServerError)
		return
	}
	user := model.User{Username: creds.Operator, PasswordHash: string(hash), Admin: true}
	if err := a.DB.Create(&user).Error; err != nil {
		http.Error(w, "failed to create operator", http.StatusInternalServerError)
		return
	}
	a.issueToken(w, user)
}

func (a *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	creds, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	var user model.User
	if err := a.DB.Where("username = ?", creds.Operator).First(&user).Error; err != nil {
		http.Error(w, "unknown operator or wrong password", http.StatusUnauthorized)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)) != nil {
		http.Error(w, "unknown operator or wrong password", http.StatusUnauthorized)
		return
	}
	a.issueToken(w, user)
}

func (a *AuthHandler) issueToken(w http.ResponseWriter, user model.User) {
	token, expires, err := auth.Issue(user.Username, user.Admin, tokenTTL)
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expires,
		Operator:  user.Username,
		Admin:     user.Admin,
	})
}

// AuthMiddleware enforces a bearer token when requireJWT is set.
func AuthMiddleware(next http.HandlerFunc, requireJWT bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireJWT {
			next(w, r)
			return
		}
		token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if _, err := auth.Parse(token); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
