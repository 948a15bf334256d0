package middleware

import (
    "log/slog"
    "net/http"
    "strings"
    "time"

    "github.com/gin-gonic/gin"
    "github.com/golang-jwt/jwt/v5"
    "github.com/pkg/errors"

    "github.com/zaqqye/exam_guard/internal/models"
    "github.com/zaqqye/exam_guard/internal/session"
)

const (
    ctxIdentity = "identity"
    ctxUser     = "user"

    LoginPath = "/authenticate/login"

    MismatchFlash = "You have been logged out because you logged in from another device during an exam."
)

type AuthConfig struct {
    JWTSecret       string
    SessionTTL      time.Duration
    CookieName      string
    FlashCookieName string
    CookieSecure    bool
}

// Claims carry the session id in the registered jti claim.
type Claims struct {
    UserID string `json:"user_id"`
    Role   string `json:"role"`
    Email  string `json:"email"`
    jwt.RegisteredClaims
}

// Identity is who a request claims to be, and whether its session record is
// still live.
type Identity struct {
    UserID    string
    Role      string
    Email     string
    SessionID string
    Live      bool
}

// IssueToken signs a token bound to session sid.
func IssueToken(cfg AuthConfig, user *models.User, sid string, now time.Time) (string, error) {
    claims := Claims{
        UserID: user.UserID,
        Role:   user.Role,
        Email:  user.Email,
        RegisteredClaims: jwt.RegisteredClaims{
            Issuer:    "exam_guard",
            Subject:   user.UserID,
            ID:        sid,
            IssuedAt:  jwt.NewNumericDate(now),
            ExpiresAt: jwt.NewNumericDate(now.Add(cfg.SessionTTL)),
        },
    }
    return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}

func ParseToken(cfg AuthConfig, tokenStr string) (*Claims, error) {
    claims := &Claims{}
    token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
        return []byte(cfg.JWTSecret), nil
    }, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
    if err != nil {
        return nil, err
    }
    if !token.Valid || claims.ID == "" || claims.UserID == "" {
        return nil, errors.New("invalid token")
    }
    return claims, nil
}

// TokenFromRequest reads the bearer token, falling back to the session cookie.
func TokenFromRequest(c *gin.Context, cookieName string) string {
    auth := c.GetHeader("Authorization")
    if auth != "" && strings.HasPrefix(strings.ToLower(auth), "bearer ") {
        return strings.TrimSpace(auth[len("Bearer "):])
    }
    if cookieName != "" {
        if v, err := c.Cookie(cookieName); err == nil {
            return v
        }
    }
    return ""
}

// Identify resolves the request's identity without rejecting anything. A
// missing or bad token leaves the request anonymous.
func Identify(store session.Store, cfg AuthConfig) gin.HandlerFunc {
    return func(c *gin.Context) {
        tokenStr := TokenFromRequest(c, cfg.CookieName)
        if tokenStr == "" {
            c.Next()
            return
        }
        claims, err := ParseToken(cfg, tokenStr)
        if err != nil {
            c.Next()
            return
        }

        live := true
        if _, err := store.Get(c.Request.Context(), claims.ID); err != nil {
            if !errors.Is(err, session.ErrNotFound) {
                c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
                return
            }
            live = false
        }

        c.Set(ctxIdentity, &Identity{
            UserID:    claims.UserID,
            Role:      claims.Role,
            Email:     claims.Email,
            SessionID: claims.ID,
            Live:      live,
        })
        c.Next()
    }
}

// SessionGuard enforces one authoritative session per student on exam routes.
// It also loads the user for every identified request.
func SessionGuard(binder *session.Binder, cfg AuthConfig, log *slog.Logger) gin.HandlerFunc {
    return func(c *gin.Context) {
        if isExcluded(c.Request.URL.Path) {
            c.Next()
            return
        }
        id, ok := GetIdentity(c)
        if !ok {
            c.Next()
            return
        }

        user, err := binder.LookupUser(c.Request.Context(), id.UserID)
        if errors.Is(err, session.ErrUserNotFound) {
            ForceLogout(c, binder.Store, cfg, log, session.ReasonUserNotFound, "")
            return
        }
        if err != nil {
            log.Error("session guard", "user_id", id.UserID, "error", err)
            c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session validation failed"})
            return
        }

        if IsExamRoute(c.Request.URL.Path) && session.Superseded(user, id.SessionID) {
            log.Warn("session mismatch on exam route, forcing logout",
                "user_id", user.UserID, "path", c.Request.URL.Path,
                "session", id.SessionID, "current", *user.CurrentSessionID)
            ForceLogout(c, binder.Store, cfg, log, session.ReasonSessionMismatch, MismatchFlash)
            return
        }

        c.Set(ctxUser, *user)
        c.Next()
    }
}

// ForceLogout ends the request's session and answers with a redirect for
// browsers or a 401 verdict for API clients.
func ForceLogout(c *gin.Context, store session.Store, cfg AuthConfig, log *slog.Logger, reason session.Reason, flash string) {
    if id, ok := GetIdentity(c); ok {
        if err := store.Destroy(c.Request.Context(), id.SessionID); err != nil {
            log.Error("destroy session on forced logout", "session", id.SessionID, "error", err)
        }
    }
    ClearSessionCookie(c, cfg)
    if flash != "" {
        SetFlash(c, cfg, flash)
    }

    if WantsHTML(c) {
        c.Redirect(http.StatusFound, LoginPath)
        c.Abort()
        return
    }
    msg := flash
    if msg == "" {
        msg = "session is no longer valid"
    }
    c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
        "valid":    false,
        "reason":   reason,
        "error":    msg,
        "redirect": LoginPath,
    })
}

// RequireAuth rejects requests without a live session and a loaded, active user.
func RequireAuth() gin.HandlerFunc {
    return func(c *gin.Context) {
        id, ok := GetIdentity(c)
        if !ok || !id.Live {
            c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
            return
        }
        user, ok := CurrentUser(c)
        if !ok || !user.Active {
            c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found or inactive"})
            return
        }
        c.Next()
    }
}

func RequireRoles(roles ...string) gin.HandlerFunc {
    allowed := map[string]struct{}{}
    for _, r := range roles {
        allowed[r] = struct{}{}
    }
    return func(c *gin.Context) {
        user, ok := CurrentUser(c)
        if !ok {
            c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
            return
        }
        if _, ok := allowed[user.Role]; !ok {
            // allow admin to pass any role-gate
            if user.Role != models.RoleAdmin {
                c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
                return
            }
        }
        c.Next()
    }
}

func GetIdentity(c *gin.Context) (*Identity, bool) {
    v, ok := c.Get(ctxIdentity)
    if !ok {
        return nil, false
    }
    id, ok := v.(*Identity)
    return id, ok
}

func CurrentUser(c *gin.Context) (models.User, bool) {
    v, ok := c.Get(ctxUser)
    if !ok {
        return models.User{}, false
    }
    u, ok := v.(models.User)
    return u, ok
}

// IsExamRoute reports whether path is subject to the single-session rule.
func IsExamRoute(path string) bool {
    return strings.Contains(path, "/dashboard/test") ||
        strings.Contains(path, "/api/check-session") ||
        strings.Contains(path, "/api/v1/ws/student")
}

var excludedPaths = []string{
    LoginPath,
    "/authenticate/signup",
    "/api/v1/auth/login",
    "/logout",
}

func isExcluded(path string) bool {
    for _, p := range excludedPaths {
        if strings.Contains(path, p) {
            return true
        }
    }
    return false
}

// WantsHTML is true for browser navigations.
func WantsHTML(c *gin.Context) bool {
    return strings.Contains(c.GetHeader("Accept"), "text/html")
}
