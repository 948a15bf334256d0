package middleware

import (
    "net/http"

    "github.com/gin-gonic/gin"
)

func SetSessionCookie(c *gin.Context, cfg AuthConfig, token string) {
    c.SetSameSite(http.SameSiteLaxMode)
    c.SetCookie(cfg.CookieName, token, int(cfg.SessionTTL.Seconds()), "/", "", cfg.CookieSecure, true)
}

func ClearSessionCookie(c *gin.Context, cfg AuthConfig) {
    if cfg.CookieName == "" {
        return
    }
    c.SetSameSite(http.SameSiteLaxMode)
    c.SetCookie(cfg.CookieName, "", -1, "/", "", cfg.CookieSecure, true)
}

// SetFlash stores a one-shot message for the next login page render. gin
// escapes cookie values, so any text is safe.
func SetFlash(c *gin.Context, cfg AuthConfig, msg string) {
    if cfg.FlashCookieName == "" {
        return
    }
    c.SetSameSite(http.SameSiteLaxMode)
    c.SetCookie(cfg.FlashCookieName, msg, 300, "/", "", cfg.CookieSecure, true)
}

// PopFlash returns the pending flash message, if any, and clears it.
func PopFlash(c *gin.Context, cfg AuthConfig) string {
    if cfg.FlashCookieName == "" {
        return ""
    }
    raw, err := c.Cookie(cfg.FlashCookieName)
    if err != nil || raw == "" {
        return ""
    }
    c.SetCookie(cfg.FlashCookieName, "", -1, "/", "", cfg.CookieSecure, true)
    return raw
}
