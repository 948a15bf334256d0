package controllers

import (
    "errors"
    "log/slog"
    "net/http"
    "strings"
    "time"

    "github.com/gin-gonic/gin"
    "github.com/google/uuid"
    "gorm.io/gorm"

    "github.com/zaqqye/exam_guard/internal/middleware"
    "github.com/zaqqye/exam_guard/internal/models"
    "github.com/zaqqye/exam_guard/internal/session"
    "github.com/zaqqye/exam_guard/internal/utils"
)

type AuthController struct {
    DB       *gorm.DB
    Sessions session.Store
    Binder   *session.Binder
    Auth     middleware.AuthConfig
    Log      *slog.Logger
    Now      func() time.Time
}

type registerRequest struct {
    FullName string `json:"full_name" binding:"required"`
    Email    string `json:"email" binding:"required,email"`
    Password string `json:"password" binding:"required,min=6"`
    Role     string `json:"role"`
    Active   *bool  `json:"active"` // optional, defaults to true
}

type loginRequest struct {
    Email    string `json:"email" form:"email" binding:"required,email"`
    Password string `json:"password" form:"password" binding:"required"`
}

func (a *AuthController) now() time.Time {
    if a.Now != nil {
        return a.Now().UTC()
    }
    return time.Now().UTC()
}

// Register is admin-only user creation.
func (a *AuthController) Register(c *gin.Context) {
    var req registerRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }

    role := strings.ToLower(strings.TrimSpace(req.Role))
    if role == "" {
        role = models.RoleStudent
    }
    if !IsValidRole(role) {
        c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
        return
    }
    active := true
    if req.Active != nil {
        active = *req.Active
    }

    pw, err := utils.HashPassword(req.Password)
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
        return
    }
    user := models.User{
        UserID:   uuid.NewString(),
        FullName: req.FullName,
        Email:    strings.ToLower(req.Email),
        Password: pw,
        Role:     role,
        Active:   active,
    }
    if err := a.DB.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
        if errors.Is(err, gorm.ErrDuplicatedKey) {
            c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
            return
        }
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }

    c.JSON(http.StatusCreated, gin.H{
        "message":   "registered",
        "user_id":   user.UserID,
        "email":     user.Email,
        "full_name": user.FullName,
        "role":      user.Role,
    })
}

// Login opens a new server-side session and, for students, makes it the only
// session allowed on exam routes.
func (a *AuthController) Login(c *gin.Context) {
    var req loginRequest
    if err := c.ShouldBind(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    ctx := c.Request.Context()

    var user models.User
    if err := a.DB.WithContext(ctx).Where("email = ?", strings.ToLower(req.Email)).First(&user).Error; err != nil {
        c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
        return
    }
    if !user.Active || !utils.CheckPassword(user.Password, req.Password) {
        c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
        return
    }

    now := a.now()
    sess := &models.LoginSession{
        SessionID: uuid.NewString(),
        UserIDRef: user.UserID,
        Role:      user.Role,
        UserAgent: c.Request.UserAgent(),
        IPAddress: c.ClientIP(),
        ExpiresAt: now.Add(a.Auth.SessionTTL),
    }
    if err := a.Sessions.Create(ctx, sess); err != nil {
        a.Log.Error("create session", "user_id", user.UserID, "error", err)
        c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
        return
    }

    if err := a.Binder.Bind(ctx, &user, sess.SessionID); err != nil {
        a.Log.Error("bind session", "user_id", user.UserID, "session", sess.SessionID, "error", err)
        if derr := a.Sessions.Destroy(ctx, sess.SessionID); derr != nil {
            a.Log.Error("discard unbound session", "session", sess.SessionID, "error", derr)
        }
        c.JSON(http.StatusInternalServerError, gin.H{"error": "could not establish session"})
        return
    }

    token, err := middleware.IssueToken(a.Auth, &user, sess.SessionID, now)
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
        return
    }
    middleware.SetSessionCookie(c, a.Auth, token)
    a.Log.Info("login", "user_id", user.UserID, "role", user.Role, "session", sess.SessionID)

    if middleware.WantsHTML(c) {
        c.Redirect(http.StatusFound, "/dashboard")
        return
    }
    c.JSON(http.StatusOK, gin.H{
        "access_token": token,
        "token_type":   "Bearer",
        "expires_in":   int(a.Auth.SessionTTL.Seconds()),
        "session_id":   sess.SessionID,
        "user_id":      user.UserID,
        "role":         user.Role,
    })
}

// Logout ends the request's session and releases the student's binding if it
// still points at that session. Failures are logged; the client is logged out
// regardless.
func (a *AuthController) Logout(c *gin.Context) {
    if id, ok := middleware.GetIdentity(c); ok {
        ctx := c.Request.Context()
        if err := a.Sessions.Destroy(ctx, id.SessionID); err != nil {
            a.Log.Error("destroy session on logout", "session", id.SessionID, "error", err)
        }
        user, err := a.Binder.LookupUser(ctx, id.UserID)
        switch {
        case err == nil:
            if err := a.Binder.Unbind(ctx, user, id.SessionID); err != nil {
                a.Log.Error("clear session binding on logout", "user_id", id.UserID, "error", err)
            }
        case !errors.Is(err, session.ErrUserNotFound):
            a.Log.Error("load user on logout", "user_id", id.UserID, "error", err)
        }
    }
    middleware.ClearSessionCookie(c, a.Auth)

    if middleware.WantsHTML(c) {
        c.Redirect(http.StatusFound, middleware.LoginPath)
        return
    }
    c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// CheckSession answers the exam page's periodic "is my session still mine?"
// query with a tri-state verdict.
func (a *AuthController) CheckSession(c *gin.Context) {
    id, ok := middleware.GetIdentity(c)
    if !ok {
        c.JSON(http.StatusOK, session.Invalid(session.ReasonNotAuthenticated))
        return
    }
    verdict, _, err := a.Binder.Verify(c.Request.Context(), id.UserID, id.SessionID, id.Live)
    if err != nil {
        a.Log.Error("check session", "user_id", id.UserID, "error", err)
        c.JSON(http.StatusInternalServerError, gin.H{"valid": false, "reason": "error"})
        return
    }
    c.JSON(http.StatusOK, verdict)
}

func (a *AuthController) Me(c *gin.Context) {
    user, _ := middleware.CurrentUser(c)
    c.JSON(http.StatusOK, gin.H{
        "user_id":    user.UserID,
        "email":      user.Email,
        "full_name":  user.FullName,
        "role":       user.Role,
        "active":     user.Active,
        "created_at": user.CreatedAt,
        "updated_at": user.UpdatedAt,
    })
}

// LoginPage hands the pending flash message, if any, to the login screen.
func (a *AuthController) LoginPage(c *gin.Context) {
    c.JSON(http.StatusOK, gin.H{"flash": middleware.PopFlash(c, a.Auth)})
}
